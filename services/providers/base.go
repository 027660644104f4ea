package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/upb/llm-gateway/services"
)

// DefaultCooldown is how long an unreachable provider is skipped before
// the gateway may select it again
const DefaultCooldown = 30 * time.Second

// Base carries the identity and status bookkeeping shared by all adapters.
// Adapters embed *Base and report call outcomes through Succeed and Fail.
type Base struct {
	config       ProviderConfig
	capabilities Capabilities
	now          func() time.Time

	mu            sync.RWMutex
	status        Status
	lastError     string
	unavailableAt time.Time
}

// NewBase creates the shared provider state
func NewBase(config ProviderConfig, capabilities Capabilities) *Base {
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}
	return &Base{
		config:       config,
		capabilities: capabilities,
		now:          time.Now,
		status:       StatusAvailable,
	}
}

// SetClock replaces the time source used for the unavailable cooldown
func (b *Base) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Name returns the provider name
func (b *Base) Name() string {
	return b.config.Name
}

// Config returns the provider configuration
func (b *Base) Config() ProviderConfig {
	return b.config
}

// Capabilities returns the declared capabilities
func (b *Base) Capabilities() Capabilities {
	return b.capabilities
}

// Status returns the last observed status
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// IsAvailable is false while the backend is unreachable and its cooldown
// has not elapsed. Rate limited and erroring providers stay selectable so
// failover can try them again.
func (b *Base) IsAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.status != StatusUnavailable {
		return true
	}
	return b.now().Sub(b.unavailableAt) >= b.cooldown()
}

func (b *Base) cooldown() time.Duration {
	if b.config.Cooldown > 0 {
		return b.config.Cooldown
	}
	return DefaultCooldown
}

// LastError returns the message of the most recent failure
func (b *Base) LastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// SetStatus overrides the current status. Setting unavailable starts the cooldown.
func (b *Base) SetStatus(status Status) {
	b.mu.Lock()
	if status == StatusUnavailable {
		b.unavailableAt = b.now()
	}
	b.status = status
	b.mu.Unlock()
}

// Succeed marks the provider as available
func (b *Base) Succeed() {
	b.SetStatus(StatusAvailable)
}

// Fail records err and moves the provider to the matching status:
// connection failures make it unavailable, HTTP 429 rate limited, anything
// else an error. Timeouts and cancellations leave the status unchanged.
// The error is returned unchanged for convenient chaining.
func (b *Base) Fail(err error) error {
	if err == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastError = err.Error()

	switch {
	case IsCancelled(err) || IsTimeout(err):
		return err
	case services.IsTransportError(err):
		b.status = StatusUnavailable
		b.unavailableAt = b.now()
	case StatusCode(err) == http.StatusTooManyRequests:
		b.status = StatusRateLimited
	default:
		b.status = StatusError
	}
	return err
}

// IsCancelled reports whether err comes from the caller cancelling the call
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewTransportError wraps a connection, timeout or cancellation failure for provider
func NewTransportError(provider string, err error) error {
	switch {
	case IsCancelled(err):
		return services.WrapTransport(provider, "request cancelled", err)
	case IsTimeout(err):
		return services.WrapTransport(provider, "request timed out", err)
	}
	return services.WrapTransport(provider, "provider not reachable", err)
}

// NewStatusError builds the protocol error for a non-2xx upstream response
func NewStatusError(provider string, statusCode int, body string) error {
	if len(body) > 512 {
		body = body[:512]
	}
	return services.WrapProtocol(provider,
		fmt.Sprintf("unexpected status %d", statusCode), nil).
		WithDetail("status_code", statusCode).
		WithDetail("body", body)
}

// NewProtocolError wraps a malformed upstream response
func NewProtocolError(provider, message string, err error) error {
	return services.WrapProtocol(provider, message, err)
}

// StatusCode extracts the upstream HTTP status from a provider error, or 0
func StatusCode(err error) int {
	details := services.GetErrorDetails(err)
	if details == nil {
		return 0
	}
	code, _ := details["status_code"].(int)
	return code
}
