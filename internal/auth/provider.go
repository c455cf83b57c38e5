package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"bazaar/internal/metrics"
	"bazaar/internal/resilience"
)

// discoveryTimeout caps a single discovery request. go-oidc honors context
// deadlines, so the losing call is cancelled rather than leaked.
const discoveryTimeout = 10 * time.Second

// Configuration is the discovered identity-provider metadata for one
// issuer and client id. It is created once per process lifetime and treated
// as immutable; every registered strategy for the issuer shares it.
type Configuration struct {
	Issuer   string
	ClientID string
	Endpoint oauth2.Endpoint
	Verifier *oidc.IDTokenVerifier
}

// discoverFunc performs OIDC discovery for an issuer. Injectable for tests.
type discoverFunc func(ctx context.Context, issuer string) (*oidc.Provider, error)

// ConfigProvider fetches and caches identity-provider discovery metadata.
// Discovery runs under a hard deadline, wrapped in the external-API retry
// policy, wrapped in the circuit breaker.
type ConfigProvider struct {
	breaker  *resilience.CircuitBreaker
	retry    *resilience.Policy
	metrics  metrics.Recorder
	logger   *slog.Logger
	discover discoverFunc

	mu    sync.Mutex
	cache map[string]*Configuration
}

// NewConfigProvider creates a ConfigProvider.
func NewConfigProvider(breaker *resilience.CircuitBreaker, retry *resilience.Policy, rec metrics.Recorder, logger *slog.Logger) *ConfigProvider {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &ConfigProvider{
		breaker:  breaker,
		retry:    retry,
		metrics:  rec,
		logger:   logger,
		discover: oidc.NewProvider,
		cache:    make(map[string]*Configuration),
	}
}

// Configuration returns the cached configuration for the issuer and client
// id, performing discovery on first use. Concurrent callers for the same
// pair share a single fetch.
func (p *ConfigProvider) Configuration(ctx context.Context, issuerURL, clientID string) (*Configuration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := issuerURL + "|" + clientID
	if cfg, ok := p.cache[key]; ok {
		return cfg, nil
	}

	start := time.Now()
	attempts := 0

	provider, err := resilience.Call(p.breaker, func() (*oidc.Provider, error) {
		var provider *oidc.Provider
		err := p.retry.Do(ctx, "oidc_discovery", func(ctx context.Context) error {
			attempts++
			dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
			defer cancel()

			var derr error
			provider, derr = p.discover(dctx, issuerURL)
			return derr
		})
		return provider, err
	})

	duration := time.Since(start)
	if err != nil {
		p.metrics.RecordDiscovery(metrics.OutcomeFailure, attempts, duration)
		if p.logger != nil {
			p.logger.Error("oidc discovery failed",
				"issuer", issuerURL,
				"client_id", clientID,
				"attempts", attempts,
				"duration", duration.String(),
				"error", err,
			)
		}
		return nil, fmt.Errorf("oidc discovery for issuer %q client %q: %w", issuerURL, clientID, err)
	}

	cfg := &Configuration{
		Issuer:   issuerURL,
		ClientID: clientID,
		Endpoint: provider.Endpoint(),
		Verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}
	p.cache[key] = cfg

	p.metrics.RecordDiscovery(metrics.OutcomeSuccess, attempts, duration)
	if p.logger != nil {
		p.logger.Info("oidc discovery succeeded",
			"issuer", issuerURL,
			"client_id", clientID,
			"attempts", attempts,
			"duration", duration.String(),
		)
	}

	return cfg, nil
}
