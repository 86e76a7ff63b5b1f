// Package mcpay assembles the gateway for reuse or standalone serving: the
// catalog repository, circuit breakers, facilitator client, signer registry,
// proxy pipeline, and HTTP server, with lifecycle-managed cleanup.
package mcpay

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/analytics"
	"github.com/mcpay/gateway/internal/auth"
	"github.com/mcpay/gateway/internal/breaker"
	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/facilitator"
	"github.com/mcpay/gateway/internal/forwarder"
	"github.com/mcpay/gateway/internal/httpserver"
	"github.com/mcpay/gateway/internal/lifecycle"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/pipeline"
	"github.com/mcpay/gateway/internal/ratelimit"
	"github.com/mcpay/gateway/internal/respcache"
	"github.com/mcpay/gateway/internal/signer"
	"github.com/mcpay/gateway/internal/x402gate"
)

// App wires the gateway components.
type App struct {
	Config      *config.Config
	Repo        catalog.Repository
	Facilitator *facilitator.Client
	Signer      *signer.Registry
	Runner      *pipeline.Runner
	Server      *httpserver.Server
	Logger      zerolog.Logger

	metricsCollector *metrics.Metrics
	resourceManager  *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	repo          catalog.Repository
	signingClient signer.SigningClient
	strategies    []signer.Strategy
	registerer    prometheus.Registerer
}

// WithRepository sets a custom catalog backend, bypassing config selection.
func WithRepository(repo catalog.Repository) Option {
	return func(o *options) { o.repo = repo }
}

// WithSigningClient injects the wallet-provider client the managed-wallet
// strategy signs with. Without one, the strategy never activates.
func WithSigningClient(client signer.SigningClient) Option {
	return func(o *options) { o.signingClient = client }
}

// WithStrategies appends extra signer strategies to the registry.
func WithStrategies(strategies ...signer.Strategy) Option {
	return func(o *options) { o.strategies = append(o.strategies, strategies...) }
}

// WithRegisterer sets the Prometheus registerer, so embedders and tests can
// isolate metric registration.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// NewApp assembles the gateway.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("mcpay: config required")
	}

	optState := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "mcpay-gateway",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:          cfg,
		Logger:          appLogger,
		resourceManager: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(optState.registerer)
	app.metricsCollector = metricsCollector

	if optState.repo != nil {
		app.Repo = optState.repo
	} else {
		repo, err := catalog.NewRepository(cfg.Catalog, metricsCollector)
		if err != nil {
			return nil, err
		}
		app.Repo = repo
		app.resourceManager.Register("catalog", repo)
		if cfg.Catalog.Backend == "" || cfg.Catalog.Backend == "memory" {
			appLogger.Warn().Msg("mcpay: defaulting to in-memory catalog - do not use this backend in production")
		}
	}

	breakers := breaker.NewManagerFromConfig(cfg.CircuitBreaker)
	app.Facilitator = facilitator.New(cfg.Facilitator, breakers).WithMetrics(metricsCollector)

	registry, err := buildSignerRegistry(cfg, app.Repo, optState, metricsCollector, appLogger)
	if err != nil {
		return nil, err
	}
	app.Signer = registry

	var sessionVerifier *auth.SessionVerifier
	if cfg.Auth.SessionSecret != "" {
		sessionVerifier = auth.NewSessionVerifier([]byte(cfg.Auth.SessionSecret))
	}

	var limiter *ratelimit.HostLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewHostLimiter(ratelimit.HostLimiterConfig{
			Capacity:        cfg.RateLimit.Capacity,
			RefillPerSecond: cfg.RateLimit.RefillPerSecond,
			MinDelayMs:      cfg.RateLimit.MinDelayMs,
		}, metricsCollector)
	}

	cache := respcache.New(respcacheConfig(cfg.Cache), metricsCollector)

	app.Runner = pipeline.NewRunner(pipeline.DefaultSteps(pipeline.Deps{
		Repo:         app.Repo,
		Auth:         auth.New(app.Repo, sessionVerifier),
		Limiter:      limiter,
		Cache:        cache,
		Forwarder:    forwarder.New(cfg.Server.WriteTimeout.Duration, breakers, metricsCollector),
		Gate:         x402gate.New(app.Repo, app.Facilitator, registry, metricsCollector),
		Analytics:    analytics.New(app.Repo, metricsCollector),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}))

	app.Server = httpserver.New(cfg, app.Repo, app.Runner, metricsCollector, appLogger)
	return app, nil
}

func buildSignerRegistry(cfg *config.Config, repo catalog.Repository, optState options, m *metrics.Metrics, appLogger zerolog.Logger) (*signer.Registry, error) {
	strategies := append([]signer.Strategy(nil), optState.strategies...)

	if optState.signingClient != nil {
		strategies = append(strategies, signer.NewManagedWalletStrategy(repo, optState.signingClient))
	}

	if cfg.Mode == "test" {
		testStrategy, err := signer.NewTestStrategy(cfg.Signer.TestPrivateKeyHex)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, testStrategy)
		appLogger.Info().Str("address", testStrategy.Address()).Msg("test signer strategy registered")
	}

	return signer.New(signer.Config{
		Enabled:          cfg.Signer.Enabled,
		FallbackBehavior: cfg.Signer.FallbackBehavior,
		MaxRetries:       cfg.Signer.MaxRetries,
		Timeout:          time.Duration(cfg.Signer.TimeoutMs) * time.Millisecond,
	}, strategies, m), nil
}

func respcacheConfig(cfg config.CacheConfig) respcache.Config {
	hostTTLs := make(map[string]time.Duration, len(cfg.HostTTLs))
	for host, ttl := range cfg.HostTTLs {
		hostTTLs[host] = ttl.Duration
	}
	return respcache.Config{
		Enabled:       cfg.Enabled,
		DefaultTTL:    cfg.DefaultTTL.Duration,
		HostTTLs:      hostTTLs,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		SweepInterval: cfg.SweepInterval.Duration,
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully and
// releases managed resources.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("address", a.Config.Server.Address).Msg("gateway listening")
		errCh <- a.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := a.Server.Shutdown(shutdownCtx)
	a.close()
	return err
}

func (a *App) close() {
	if err := a.resourceManager.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("resource cleanup failed")
	}
}
