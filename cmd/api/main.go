package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bazaar/internal/auth"
	"bazaar/internal/config"
	transporthttp "bazaar/internal/http"
	"bazaar/internal/metrics"
	"bazaar/internal/platform/database"
	"bazaar/internal/platform/logging"
	"bazaar/internal/platform/migrate"
	"bazaar/internal/resilience"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := migrate.Apply(ctx, db, logger); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")

	repo := auth.NewPostgresRepository(db)

	discoveryBreaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             "oidc-discovery",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("circuit breaker state change",
				"name", "oidc-discovery", "from", from.String(), "to", to.String())
			collector.RecordCircuitTransition("oidc-discovery", from.String(), to.String())
		},
	})

	externalRetry := resilience.NewPolicy(resilience.PolicyConfig{
		Name:        "external_api",
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		OnRetry: func(operation string, attempt int, err error) {
			collector.RecordRetry("external_api", operation)
		},
	}, logger)

	databaseRetry := resilience.NewPolicy(resilience.PolicyConfig{
		Name:        "database",
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		OnRetry: func(operation string, attempt int, err error) {
			collector.RecordRetry("database", operation)
		},
	}, logger)

	store := auth.NewRetryingStore(repo, databaseRetry, collector)
	provider := auth.NewConfigProvider(discoveryBreaker, externalRetry, collector, logger)

	// Discovery must succeed once before the server accepts traffic. A
	// misconfigured issuer aborts startup instead of serving broken logins.
	oidcConfig, err := provider.Configuration(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	if err != nil {
		logger.Error("oidc discovery failed at startup", "error", err)
		os.Exit(1)
	}

	registry, err := auth.NewStrategyRegistry(oidcConfig, cfg.OIDCClientSecret, cfg.HTTPPort, store, logger)
	if err != nil {
		logger.Error("failed to build strategy registry", "error", err)
		os.Exit(1)
	}
	for _, domain := range cfg.Domains {
		registry.Register(domain)
	}

	codec := auth.NewSessionCodec(store, collector, logger)
	sessions := auth.NewService(repo, codec, cfg.SessionTTL)

	authHandler := transporthttp.NewAuthHandler(registry, sessions, cfg.FrontendURL, cfg.Environment, logger)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
	router := transporthttp.NewRouter(cfg, authHandler, sessions, metricsHandler, logger)

	go sweepExpiredSessions(ctx, sessions, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("bazaar api listening", "addr", srv.Addr, "domains", cfg.Domains)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// sweepExpiredSessions removes expired rows hourly until ctx is cancelled.
func sweepExpiredSessions(ctx context.Context, sessions *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Error("session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}
