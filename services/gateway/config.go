package gateway

import (
	"time"

	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/ratelimit"
	"github.com/upb/llm-gateway/utils"
)

// Strategy defines how a provider is picked among the untried candidates
type Strategy string

const (
	// StrategyRoundRobin rotates through providers via a shared cursor
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyLeastLatency picks the provider with the lowest average latency
	StrategyLeastLatency Strategy = "least_latency"

	// StrategyRandom picks a provider uniformly at random
	StrategyRandom Strategy = "random"
)

// Config holds configuration for the gateway
type Config struct {
	// DefaultProvider names the default provider; the first registered
	// provider is used when empty
	DefaultProvider string `json:"default_provider"`

	// FailoverEnabled retries a failed call on the next candidate provider
	FailoverEnabled bool `json:"failover_enabled"`

	// Strategy is the load balancing strategy
	Strategy Strategy `json:"load_balance_strategy" validate:"required,oneof=round_robin least_latency random"`

	// Response cache
	EnableCache              bool          `json:"enable_cache"`
	CacheMaxSize             int           `json:"cache_max_size" validate:"gte=0"`
	CacheTTL                 time.Duration `json:"cache_ttl" validate:"gte=0"`
	CacheSimilarityThreshold float64       `json:"cache_similarity_threshold" validate:"gte=0,lte=1"`
	SemanticCache            bool          `json:"semantic_cache"`
	CacheCleanupInterval     time.Duration `json:"cache_cleanup_interval" validate:"gte=0"`

	// EnableRateLimiting installs a limiter built from RateLimit for every
	// provider registered without a dedicated configuration
	EnableRateLimiting bool             `json:"enable_rate_limiting"`
	RateLimit          ratelimit.Config `json:"rate_limit"`

	// Timeout bounds a single provider call when the provider sets none
	Timeout time.Duration `json:"timeout" validate:"gt=0"`

	// MaxRetries and RetryDelay are reported in stats. Failover across
	// providers takes the place of same-provider retries.
	MaxRetries int           `json:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `json:"retry_delay" validate:"gte=0"`

	// Usage ledger writer: records are buffered and written in batches
	// of UsageBatchSize, at least every UsageFlushInterval, each write
	// bounded by UsageWriteTimeout
	UsageBufferSize    int           `json:"usage_buffer_size" validate:"gte=0"`
	UsageBatchSize     int           `json:"usage_batch_size" validate:"gte=0"`
	UsageFlushInterval time.Duration `json:"usage_flush_interval" validate:"gte=0"`
	UsageWriteTimeout  time.Duration `json:"usage_write_timeout" validate:"gte=0"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = 60
	rl.TokensPerMinute = 100000

	return Config{
		FailoverEnabled:          true,
		Strategy:                 StrategyRoundRobin,
		EnableCache:              true,
		CacheMaxSize:             1000,
		CacheTTL:                 time.Hour,
		CacheSimilarityThreshold: 0.95,
		SemanticCache:            true,
		CacheCleanupInterval:     5 * time.Minute,
		EnableRateLimiting:       true,
		RateLimit:                rl,
		Timeout:                  30 * time.Second,
		MaxRetries:               3,
		RetryDelay:               time.Second,
		UsageBufferSize:          defaultUsageBufferSize,
		UsageBatchSize:           defaultUsageBatchSize,
		UsageFlushInterval:       defaultUsageFlushInterval,
		UsageWriteTimeout:        defaultUsageWriteTimeout,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return services.WrapValidation(err)
	}
	rl := c.RateLimit
	if err := rl.Validate(); err != nil {
		return err
	}
	c.RateLimit = rl
	return nil
}
