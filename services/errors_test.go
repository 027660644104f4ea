package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeTransport, "provider unreachable", baseErr)

	assert.Equal(t, ErrorTypeTransport, domainErr.Type)
	assert.Equal(t, "provider unreachable", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeTransport,
				Message: "request failed",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "transport: request failed (connection refused)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "tokens must be positive",
			},
			wantMsg: "validation: tokens must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	err := WrapTransport("ollama", "request timed out", context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "ollama", err.Details["provider"])
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same type", WrapProtocol("vllm", "no choices", nil), ErrProtocol, true},
		{"different type", NewValidationError("bad"), ErrTransport, false},
		{"wrapped", fmt.Errorf("call: %w", NewNoProviderError("")), ErrNoProviderAvailable, true},
		{"plain target", NewValidationError("bad"), errors.New("bad"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestConstructors_DoNotMutateSentinels(t *testing.T) {
	_ = NewRateLimitError("openai")
	_ = WrapTransport("openai", "boom", nil)

	assert.Empty(t, ErrRateLimitExceeded.Details)
	assert.Empty(t, ErrTransport.Details)
}

func TestTypeHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		check    func(error) bool
		want     bool
		wantType ErrorType
	}{
		{"validation", NewValidationError("x"), IsValidationError, true, ErrorTypeValidation},
		{"transport", WrapTransport("p", "x", nil), IsTransportError, true, ErrorTypeTransport},
		{"protocol", WrapProtocol("p", "x", nil), IsProtocolError, true, ErrorTypeProtocol},
		{"rate limit", NewRateLimitError("p"), IsRateLimitError, true, ErrorTypeRateLimit},
		{"no provider", NewNoProviderError("none"), IsNoProviderError, true, ErrorTypeNoProvider},
		{"internal", WrapInternal("x", nil), IsInternalError, true, ErrorTypeInternal},
		{"plain error", errors.New("x"), IsValidationError, false, ""},
		{"nil", nil, IsTransportError, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
			assert.Equal(t, tt.wantType, GetErrorType(tt.err))
		})
	}
}

func TestIsProviderError(t *testing.T) {
	assert.True(t, IsProviderError(WrapTransport("a", "x", nil)))
	assert.True(t, IsProviderError(fmt.Errorf("ctx: %w", WrapProtocol("a", "x", nil))))
	assert.False(t, IsProviderError(NewValidationError("x")))
	assert.False(t, IsProviderError(errors.New("x")))
}

func TestGetErrorDetails(t *testing.T) {
	err := WrapProtocol("vllm", "bad json", nil).WithDetail("status_code", 200)

	details := GetErrorDetails(fmt.Errorf("wrapped: %w", err))
	require.NotNil(t, details)
	assert.Equal(t, "vllm", details["provider"])
	assert.Equal(t, 200, details["status_code"])

	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}
