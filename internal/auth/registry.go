package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const callbackPath = "/api/auth/callback"

// ErrUnknownDomain is returned when no strategy is registered for a domain.
var ErrUnknownDomain = errors.New("no auth strategy registered for domain")

// Strategy is the per-domain authentication strategy: the callback URL
// derived for the domain and the oauth2 configuration bound to the shared
// discovery metadata.
type Strategy struct {
	Domain      string
	CallbackURL string
	oauth       *oauth2.Config
}

// tokenResult is the verified outcome of an authorization-code exchange.
type tokenResult struct {
	claims Claims
	expiry time.Time
	token  *oauth2.Token
}

// exchangeFunc completes the code exchange and ID-token verification for a
// strategy. Injectable for tests.
type exchangeFunc func(ctx context.Context, s *Strategy, code string) (*tokenResult, error)

// StrategyRegistry holds one authentication strategy per served domain.
// Registration runs at startup; Register stays safe under concurrent calls
// and re-registering a domain is a no-op.
type StrategyRegistry struct {
	config       *Configuration
	clientSecret string
	port         int
	store        UserStore
	logger       *slog.Logger
	exchange     exchangeFunc

	mu         sync.Mutex
	strategies map[string]*Strategy
}

// NewStrategyRegistry creates a registry bound to discovered provider
// metadata. A nil configuration is a deployment error and fails loudly.
func NewStrategyRegistry(config *Configuration, clientSecret string, port int, store UserStore, logger *slog.Logger) (*StrategyRegistry, error) {
	if config == nil || config.Verifier == nil {
		return nil, errors.New("auth: strategy registry requires discovered oidc configuration")
	}

	r := &StrategyRegistry{
		config:       config,
		clientSecret: clientSecret,
		port:         port,
		store:        store,
		logger:       logger,
		strategies:   make(map[string]*Strategy),
	}
	r.exchange = r.defaultExchange
	return r, nil
}

// Register creates the strategy for a domain. Registering an already-known
// domain returns immediately without side effects.
func (r *StrategyRegistry) Register(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.strategies[domain]; ok {
		return
	}

	callbackURL := callbackURLFor(domain, r.port)
	r.strategies[domain] = &Strategy{
		Domain:      domain,
		CallbackURL: callbackURL,
		oauth: &oauth2.Config{
			ClientID:     r.config.ClientID,
			ClientSecret: r.clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     r.config.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile", "offline_access"},
		},
	}

	if r.logger != nil {
		r.logger.Info("registered auth strategy", "domain", domain, "callback_url", callbackURL)
	}
}

// Strategy returns the strategy registered for a domain.
func (r *StrategyRegistry) Strategy(domain string) (*Strategy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.strategies[domain]
	return s, ok
}

// Domains lists registered domains.
func (r *StrategyRegistry) Domains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.strategies))
	for d := range r.strategies {
		out = append(out, d)
	}
	return out
}

// AuthURL returns the provider consent URL for the domain with the given
// CSRF state.
func (r *StrategyRegistry) AuthURL(domain, state string) (string, error) {
	s, ok := r.Strategy(domain)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	return s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "login consent")), nil
}

// Authenticate completes the login for a domain: it exchanges the
// authorization code, verifies the ID token, upserts the user and returns
// the principal with token material and claim-derived expiry. Failures are
// returned as errors, never panics; callers surface them as a failed
// authentication attempt.
func (r *StrategyRegistry) Authenticate(ctx context.Context, domain, code string) (*Principal, error) {
	s, ok := r.Strategy(domain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	result, err := r.exchange(ctx, s, code)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", domain, err)
	}

	user, isNew, err := r.store.UpsertUser(ctx, UpsertUser{
		ID:              result.claims.Sub,
		Email:           result.claims.Email,
		FirstName:       result.claims.FirstName,
		LastName:        result.claims.LastName,
		ProfileImageURL: result.claims.ProfileImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", domain, err)
	}

	return &Principal{
		User:         user,
		IsNew:        isNew,
		AccessToken:  result.token.AccessToken,
		RefreshToken: result.token.RefreshToken,
		ExpiresAt:    result.expiry,
	}, nil
}

// defaultExchange trades the code for tokens and verifies the ID token
// against the shared configuration.
func (r *StrategyRegistry) defaultExchange(ctx context.Context, s *Strategy, code string) (*tokenResult, error) {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}

	idToken, err := r.config.Verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Sub == "" {
		claims.Sub = idToken.Subject
	}

	return &tokenResult{claims: claims, expiry: idToken.Expiry, token: token}, nil
}

// callbackURLFor derives the redirect URL for a domain. Loopback hosts get
// plain http with an explicit port; everything else is https on 443.
func callbackURLFor(domain string, port int) string {
	if isLoopback(domain) {
		return "http://" + net.JoinHostPort(domain, strconv.Itoa(port)) + callbackPath
	}
	return "https://" + domain + callbackPath
}

func isLoopback(domain string) bool {
	switch domain {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	if ip := net.ParseIP(domain); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
