package gateway

import (
	"time"

	"github.com/upb/llm-gateway/services/cache"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/ratelimit"
)

// Stats is a point-in-time view of the gateway
type Stats struct {
	Providers  map[string]ProviderStats   `json:"providers"`
	Cache      *cache.Stats               `json:"cache,omitempty"`
	RateLimits map[string]ratelimit.Stats `json:"rate_limits,omitempty"`
	Config     ConfigSummary              `json:"config"`
}

// ProviderStats combines provider status with the gateway's metrics for it
type ProviderStats struct {
	Status       providers.Status       `json:"status"`
	Model        string                 `json:"model"`
	Capabilities providers.Capabilities `json:"capabilities"`
	MetricsSnapshot
}

// ConfigSummary reports the effective gateway configuration
type ConfigSummary struct {
	DefaultProvider     string        `json:"default_provider"`
	FailoverEnabled     bool          `json:"failover_enabled"`
	Strategy            Strategy      `json:"load_balance_strategy"`
	CacheEnabled        bool          `json:"cache_enabled"`
	RateLimitingEnabled bool          `json:"rate_limiting_enabled"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
}

// Stats returns per-provider metrics with cache and rate limiter statistics
func (g *Gateway) Stats() Stats {
	all := g.registry.All()
	stats := Stats{
		Providers:  make(map[string]ProviderStats, len(all)),
		RateLimits: g.limiters.AllStats(),
	}

	for _, p := range all {
		stats.Providers[p.Name()] = ProviderStats{
			Status:          p.Status(),
			Model:           p.Config().Model,
			Capabilities:    p.Capabilities(),
			MetricsSnapshot: g.metricsFor(p.Name()).Snapshot(),
		}
	}

	if g.cache != nil {
		cs := g.cache.Stats()
		stats.Cache = &cs
	}

	var defaultName string
	if p, ok := g.DefaultProvider(); ok {
		defaultName = p.Name()
	}
	stats.Config = ConfigSummary{
		DefaultProvider:     defaultName,
		FailoverEnabled:     g.config.FailoverEnabled,
		Strategy:            g.config.Strategy,
		CacheEnabled:        g.cache != nil,
		RateLimitingEnabled: g.config.EnableRateLimiting,
		Timeout:             g.config.Timeout,
		MaxRetries:          g.config.MaxRetries,
		RetryDelay:          g.config.RetryDelay,
	}

	return stats
}
