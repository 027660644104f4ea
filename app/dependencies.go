package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/internal/observability"
	"github.com/upb/llm-gateway/internal/runtimeconfig"
	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/repositories/postgres"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers/local"
)

// Dependencies holds every long-lived component of the process.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Features *runtimeconfig.Features

	// Usage ledger; nil when no database is configured
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	Usage       repositories.UsageRepository

	// Metrics registry; nil when metrics are disabled
	Metrics *prometheus.Registry

	// Gateway
	Gateway *gateway.Gateway

	// AuthMiddleware is nil when bearer auth is disabled
	AuthMiddleware *middleware.AuthMiddleware

	closeOnce sync.Once
	closeErr  error
}

// Option customizes NewDependencies
type Option func(*options)

type options struct {
	localModels map[string]local.Model
}

// WithLocalModel makes an in-process model available to manifest entries
// of type local under name
func WithLocalModel(name string, model local.Model) Option {
	return func(o *options) { o.localModels[name] = model }
}

// NewDependencies creates and wires up all application dependencies.
// The database and metrics are optional; providers come from the manifest.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{localModels: DefaultLocalModels()}
	for _, opt := range opts {
		opt(o)
	}

	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Features: runtimeconfig.NewFeatures(),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	recorder, err := deps.initMetrics(cfg)
	if err != nil {
		_ = deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := deps.initGateway(cfg, recorder, o.localModels); err != nil {
		_ = deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	deps.initAuth(cfg)

	deps.Features.Log(logger)
	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Gateway.Providers()))
	return deps, nil
}

// initDatabase opens the usage ledger when a database is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Features.Set(runtimeconfig.FeatureUsageLog, false, "no database configured")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger.Named("postgres"))
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Usage = factory.NewRepositories().Usage
	d.Features.Set(runtimeconfig.FeatureUsageLog, true, "postgres "+cfg.Database.LogString())
	return nil
}

// initMetrics builds the Prometheus registry and gateway recorder
func (d *Dependencies) initMetrics(cfg *config.Config) (gateway.Recorder, error) {
	if !cfg.Observability.MetricsEnabled {
		d.Features.Set(runtimeconfig.FeatureMetrics, false, "disabled by METRICS_ENABLED")
		return nil, nil
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	recorder, err := observability.NewPrometheusRecorder(registry)
	if err != nil {
		return nil, err
	}

	d.Metrics = registry
	d.Features.Set(runtimeconfig.FeatureMetrics, true, "prometheus")
	return recorder, nil
}

// initGateway builds the providers from the manifest and registers them
func (d *Dependencies) initGateway(cfg *config.Config, recorder gateway.Recorder, localModels map[string]local.Model) error {
	gwConfig, err := cfg.Gateway.ToGatewayConfig()
	if err != nil {
		return err
	}

	manifest, err := cfg.Providers.Manifest()
	if err != nil {
		return err
	}
	if len(manifest.Providers) == 0 {
		d.Logger.Warn("no LLM providers configured")
	}

	built, err := BuildProviders(manifest, localModels)
	if err != nil {
		return err
	}

	embedder, err := embedderFor(manifest.EmbeddingProvider, built)
	if err != nil {
		_ = closeAll(built)
		return err
	}

	gwOpts := []gateway.Option{}
	if embedder != nil {
		gwOpts = append(gwOpts, gateway.WithEmbedder(embedder))
	}
	if recorder != nil {
		gwOpts = append(gwOpts, gateway.WithRecorder(recorder))
	}
	if d.Usage != nil {
		gwOpts = append(gwOpts, gateway.WithUsageLog(d.Usage))
	}

	gw, err := gateway.New(gwConfig, d.Logger.Named("gateway"), gwOpts...)
	if err != nil {
		_ = closeAll(built)
		return err
	}

	for i, b := range built {
		if err := gw.RegisterProvider(b.Provider, b.Entry.Default, b.Entry.RateLimit); err != nil {
			_ = closeAll(built[i:])
			_ = gw.Close(context.Background())
			return fmt.Errorf("register %q: %w", b.Provider.Name(), err)
		}
	}

	d.Gateway = gw
	d.resolveGatewayFeatures(gwConfig, manifest.EmbeddingProvider, embedder != nil)
	return nil
}

func (d *Dependencies) resolveGatewayFeatures(cfg gateway.Config, embeddingProvider string, hasEmbedder bool) {
	if cfg.EnableCache {
		d.Features.Set(runtimeconfig.FeatureResponseCache, true, "")
	} else {
		d.Features.Set(runtimeconfig.FeatureResponseCache, false, "disabled by LLM_ENABLE_CACHE")
	}

	switch {
	case !cfg.EnableCache || !cfg.SemanticCache:
		d.Features.Set(runtimeconfig.FeatureSemanticCache, false, "disabled by configuration")
	case !hasEmbedder:
		d.Features.Set(runtimeconfig.FeatureSemanticCache, false, "no embedding provider, exact matching only")
	default:
		d.Features.Set(runtimeconfig.FeatureSemanticCache, true, "embeddings from "+embeddingProvider)
	}

	if cfg.EnableRateLimiting {
		d.Features.Set(runtimeconfig.FeatureRateLimiting, true, string(cfg.RateLimit.Strategy))
	} else {
		d.Features.Set(runtimeconfig.FeatureRateLimiting, false, "disabled by LLM_ENABLE_RATE_LIMITING")
	}
}

// initAuth installs bearer token verification when enabled
func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled {
		d.Features.Set(runtimeconfig.FeatureAuth, false, "disabled by AUTH_ENABLED")
		return
	}
	validator := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger.Named("auth"))
	d.Features.Set(runtimeconfig.FeatureAuth, true, "HS256 bearer tokens")
}

func (d *Dependencies) closeDatabase() error {
	if d.RepoFactory == nil {
		return nil
	}
	return d.RepoFactory.Close()
}

// Close gracefully shuts down all dependencies. Only the first call does work.
func (d *Dependencies) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")

		var errs []error

		if d.Gateway != nil {
			if err := d.Gateway.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to close gateway: %w", err))
			}
		}

		if err := d.closeDatabase(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else if d.RepoFactory != nil {
			d.Logger.Info("database connection closed")
		}

		_ = d.Logger.Sync()

		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
