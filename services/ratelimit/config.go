package ratelimit

import (
	"math"
	"time"

	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/utils"
)

// Strategy selects the admission algorithm
type Strategy string

const (
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyFixedWindow   Strategy = "fixed_window"
)

// Forever is returned by WaitTime when the configured rate can never admit
// the request
const Forever time.Duration = math.MaxInt64

// Config configures a single limiter
type Config struct {
	Strategy Strategy `json:"strategy" yaml:"strategy" validate:"omitempty,oneof=token_bucket sliding_window fixed_window"`

	// RequestsPerMinute is the request refill rate for the token bucket and
	// the per-window request limit for the window strategies
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"`

	// TokensPerMinute limits token throughput; 0 disables the token dimension
	TokensPerMinute int `json:"tokens_per_minute" yaml:"tokens_per_minute" validate:"gte=0"`

	// BurstSize is the request bucket capacity; 0 means RequestsPerMinute
	BurstSize int `json:"burst_size" yaml:"burst_size" validate:"gte=0"`

	// Window is the length of the sliding or fixed window
	Window time.Duration `json:"window" yaml:"window" validate:"gte=0"`

	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff" validate:"gte=0"`
}

// DefaultConfig returns the default limiter configuration
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyTokenBucket,
		RequestsPerMinute: 60,
		TokensPerMinute:   100000,
		BurstSize:         10,
		Window:            time.Minute,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
	}
}

// Validate checks the configuration and fills defaults for unset fields
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return services.WrapValidation(err)
	}

	defaults := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = defaults.Strategy
	}
	if c.Window == 0 {
		c.Window = defaults.Window
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		return services.NewValidationError("max_backoff must not be smaller than initial_backoff")
	}
	return nil
}
