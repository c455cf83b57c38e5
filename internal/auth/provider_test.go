package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"bazaar/internal/resilience"
)

// newDiscoveryServer serves a minimal OIDC discovery document.
func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"issuer":                 server.URL,
			"authorization_endpoint": server.URL + "/auth",
			"token_endpoint":         server.URL + "/token",
			"jwks_uri":               server.URL + "/keys",
			"userinfo_endpoint":      server.URL + "/userinfo",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})

	return server
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestProvider(rec *recorderStub, maxAttempts, failureThreshold int, timeout time.Duration) *ConfigProvider {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             "oidc-discovery",
		FailureThreshold: failureThreshold,
		Timeout:          timeout,
	})
	retry := resilience.NewPolicy(resilience.PolicyConfig{
		Name:        "external_api",
		MaxAttempts: maxAttempts,
		Sleep:       noSleep,
	}, nil)
	return NewConfigProvider(breaker, retry, rec, nil)
}

func TestConfigurationSucceedsOnThirdAttempt(t *testing.T) {
	server := newDiscoveryServer(t)
	rec := &recorderStub{}
	p := newTestProvider(rec, 3, 5, time.Minute)

	attempts := 0
	p.discover = func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return oidc.NewProvider(ctx, issuer)
	}

	cfg, err := p.Configuration(context.Background(), server.URL, "client-1")
	if err != nil {
		t.Fatalf("Configuration returned error: %v", err)
	}
	if cfg.Issuer != server.URL || cfg.ClientID != "client-1" {
		t.Fatalf("unexpected configuration: %+v", cfg)
	}
	if cfg.Verifier == nil {
		t.Fatal("expected a bound verifier")
	}
	if cfg.Endpoint.TokenURL != server.URL+"/token" {
		t.Errorf("unexpected token endpoint %q", cfg.Endpoint.TokenURL)
	}

	if len(rec.discoveries) != 1 || rec.discoveries[0] != "success" {
		t.Fatalf("expected exactly one success metric, got %v", rec.discoveries)
	}
	if rec.discoveryCounts[0] != 3 {
		t.Errorf("expected attempts=3 recorded, got %d", rec.discoveryCounts[0])
	}
}

func TestConfigurationIsCached(t *testing.T) {
	server := newDiscoveryServer(t)
	p := newTestProvider(&recorderStub{}, 3, 5, time.Minute)

	calls := 0
	p.discover = func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		calls++
		return oidc.NewProvider(ctx, issuer)
	}

	first, err := p.Configuration(context.Background(), server.URL, "client-1")
	if err != nil {
		t.Fatalf("first Configuration call: %v", err)
	}
	second, err := p.Configuration(context.Background(), server.URL, "client-1")
	if err != nil {
		t.Fatalf("second Configuration call: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected a single discovery, got %d", calls)
	}
	if first != second {
		t.Error("expected the cached configuration to be shared")
	}
}

func TestConfigurationCircuitOpensAfterSustainedFailures(t *testing.T) {
	rec := &recorderStub{}
	p := newTestProvider(rec, 1, 5, time.Minute)

	discoveries := 0
	p.discover = func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		discoveries++
		return nil, errors.New("upstream outage")
	}

	for i := 0; i < 5; i++ {
		if _, err := p.Configuration(context.Background(), "https://idp.example.com", "client-1"); err == nil {
			t.Fatalf("expected failure on call %d", i+1)
		}
	}
	if discoveries != 5 {
		t.Fatalf("expected 5 discovery invocations, got %d", discoveries)
	}

	// The 6th call inside the open window fails fast without a discovery.
	_, err := p.Configuration(context.Background(), "https://idp.example.com", "client-1")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if discoveries != 5 {
		t.Errorf("expected no discovery during open circuit, got %d", discoveries)
	}
}

func TestConfigurationFailureErrorNamesIssuerAndClient(t *testing.T) {
	p := newTestProvider(&recorderStub{}, 1, 5, time.Minute)
	p.discover = func(ctx context.Context, issuer string) (*oidc.Provider, error) {
		return nil, errors.New("boom")
	}

	_, err := p.Configuration(context.Background(), "https://idp.example.com", "client-9")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"https://idp.example.com", "client-9", "boom"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error %q to mention %q", err, want)
		}
	}
}
