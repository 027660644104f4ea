package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/upb/llm-gateway/services"
)

// Stats is a point-in-time view of a limiter
type Stats struct {
	Strategy          Strategy               `json:"strategy"`
	RequestsPerMinute int                    `json:"requests_per_minute"`
	TokensPerMinute   int                    `json:"tokens_per_minute"`
	TotalRequests     int64                  `json:"total_requests"`
	TotalTokens       int64                  `json:"total_tokens"`
	LimitedCount      int64                  `json:"limited_count"`
	CurrentBackoff    time.Duration          `json:"current_backoff"`
	State             map[string]interface{} `json:"state"`
}

// Limiter admits requests for a single provider. It is safe for
// concurrent use; the lock is never held while sleeping.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	algo    algorithm
	now     func() time.Time
	backoff time.Duration

	totalRequests int64
	totalTokens   int64
	limited       int64
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter from config
func New(config Config, opts ...Option) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.algo = newAlgorithm(config, l.now())
	return l, nil
}

// Config returns the limiter configuration
func (l *Limiter) Config() Config {
	return l.config
}

// Acquire tries to admit a request costing tokens. Non-blocking calls
// return false immediately on denial. Blocking calls sleep for the current
// backoff (bounded by timeout) and retry until admitted, the timeout
// elapses, or ctx is done. A timeout <= 0 leaves only ctx as the bound.
func (l *Limiter) Acquire(ctx context.Context, tokens int, blocking bool, timeout time.Duration) (bool, error) {
	if tokens <= 0 {
		return false, services.NewValidationError("tokens must be positive").WithDetail("tokens", tokens)
	}

	var deadline time.Time
	if blocking && timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		backoff, ok := l.try(tokens)
		if ok {
			return true, nil
		}
		if !blocking {
			return false, nil
		}

		sleep := backoff
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			if remaining < sleep {
				sleep = remaining
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// try makes one admission attempt and returns the backoff to apply on denial
func (l *Limiter) try(tokens int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.algo.allow(l.now(), tokens) {
		l.totalRequests++
		l.totalTokens += int64(tokens)
		l.backoff = 0
		return 0, true
	}

	l.limited++
	if l.backoff == 0 {
		l.backoff = l.config.InitialBackoff
	} else {
		l.backoff *= 2
	}
	if l.backoff > l.config.MaxBackoff {
		l.backoff = l.config.MaxBackoff
	}
	return l.backoff, false
}

// WaitTime returns how long until tokens could be admitted: 0 when
// admissible now, Forever when the configured rate can never admit them
func (l *Limiter) WaitTime(tokens int) (time.Duration, error) {
	if tokens <= 0 {
		return 0, services.NewValidationError("tokens must be positive").WithDetail("tokens", tokens)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.algo.wait(l.now(), tokens), nil
}

// Stats returns counters and algorithm state
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Strategy:          l.config.Strategy,
		RequestsPerMinute: l.config.RequestsPerMinute,
		TokensPerMinute:   l.config.TokensPerMinute,
		TotalRequests:     l.totalRequests,
		TotalTokens:       l.totalTokens,
		LimitedCount:      l.limited,
		CurrentBackoff:    l.backoff,
		State:             l.algo.snapshot(l.now()),
	}
}

// Reset restores full capacity and clears counters
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.algo.reset(l.now())
	l.backoff = 0
	l.totalRequests = 0
	l.totalTokens = 0
	l.limited = 0
}
