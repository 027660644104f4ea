package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/upb/llm-gateway/services"
)

// MultiLimiter holds one limiter per provider. Providers without a
// registered limiter are unlimited.
type MultiLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	opts     []Option
}

// NewMultiLimiter creates an empty per-provider limiter set. opts apply to
// every limiter built by Register.
func NewMultiLimiter(opts ...Option) *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*Limiter),
		opts:     opts,
	}
}

// Register builds and installs a limiter for provider, replacing any
// existing one
func (m *MultiLimiter) Register(provider string, config Config) error {
	limiter, err := New(config, m.opts...)
	if err != nil {
		return err
	}
	m.Set(provider, limiter)
	return nil
}

// Set installs an existing limiter for provider
func (m *MultiLimiter) Set(provider string, limiter *Limiter) {
	m.mu.Lock()
	m.limiters[provider] = limiter
	m.mu.Unlock()
}

// Unregister removes the limiter for provider
func (m *MultiLimiter) Unregister(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.limiters[provider]; !ok {
		return false
	}
	delete(m.limiters, provider)
	return true
}

// Get returns the limiter for provider
func (m *MultiLimiter) Get(provider string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.limiters[provider]
	return l, ok
}

// Acquire admits a request for provider
func (m *MultiLimiter) Acquire(ctx context.Context, provider string, tokens int, blocking bool, timeout time.Duration) (bool, error) {
	l, ok := m.Get(provider)
	if !ok {
		if tokens <= 0 {
			return false, services.NewValidationError("tokens must be positive").WithDetail("tokens", tokens)
		}
		return true, nil
	}
	return l.Acquire(ctx, tokens, blocking, timeout)
}

// WaitTime returns the wait for provider; unlimited providers never wait
func (m *MultiLimiter) WaitTime(provider string, tokens int) (time.Duration, error) {
	l, ok := m.Get(provider)
	if !ok {
		if tokens <= 0 {
			return 0, services.NewValidationError("tokens must be positive").WithDetail("tokens", tokens)
		}
		return 0, nil
	}
	return l.WaitTime(tokens)
}

// AllStats returns stats for every registered provider
func (m *MultiLimiter) AllStats() map[string]Stats {
	m.mu.RLock()
	limiters := make(map[string]*Limiter, len(m.limiters))
	for name, l := range m.limiters {
		limiters[name] = l
	}
	m.mu.RUnlock()

	stats := make(map[string]Stats, len(limiters))
	for name, l := range limiters {
		stats[name] = l.Stats()
	}
	return stats
}

// Reset resets the limiter for provider, or every limiter when provider is empty
func (m *MultiLimiter) Reset(provider string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, l := range m.limiters {
		if provider == "" || name == provider {
			l.Reset()
		}
	}
}
