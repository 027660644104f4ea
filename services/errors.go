package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeNoProvider ErrorType = "no_provider"
	ErrorTypeInternal   ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Two domain errors match when their types match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinel errors, usable as errors.Is targets. Never mutate them; build a
// fresh error with the constructors below instead.
var (
	ErrValidation          = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrTransport           = NewDomainError(ErrorTypeTransport, "provider unreachable", nil)
	ErrProtocol            = NewDomainError(ErrorTypeProtocol, "malformed provider response", nil)
	ErrRateLimitExceeded   = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrNoProviderAvailable = NewDomainError(ErrorTypeNoProvider, "no providers available", nil)
	ErrInternal            = NewDomainError(ErrorTypeInternal, "internal error", nil)
)

// NewValidationError creates a validation error for malformed caller input
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil)
}

// WrapValidation wraps a struct validation failure as a validation error
func WrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return NewDomainError(ErrorTypeValidation, err.Error(), err)
}

// NewNoProviderError creates an error for an exhausted or empty provider set
func NewNoProviderError(message string) *DomainError {
	if message == "" {
		message = ErrNoProviderAvailable.Message
	}
	return NewDomainError(ErrorTypeNoProvider, message, nil)
}

// NewRateLimitError creates a rate limit error for the given provider
func NewRateLimitError(provider string) *DomainError {
	return NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil).
		WithDetail("provider", provider)
}

// WrapTransport wraps a connection or timeout failure against a provider
func WrapTransport(provider, message string, err error) *DomainError {
	return NewDomainError(ErrorTypeTransport, message, err).WithDetail("provider", provider)
}

// WrapProtocol wraps a malformed or unexpected provider response
func WrapProtocol(provider, message string, err error) *DomainError {
	return NewDomainError(ErrorTypeProtocol, message, err).WithDetail("provider", provider)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

func isType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsTransportError checks if an error is a provider transport error
func IsTransportError(err error) bool {
	return isType(err, ErrorTypeTransport)
}

// IsProtocolError checks if an error is a provider protocol error
func IsProtocolError(err error) bool {
	return isType(err, ErrorTypeProtocol)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsNoProviderError checks if an error reports that no provider could serve the call
func IsNoProviderError(err error) bool {
	return isType(err, ErrorTypeNoProvider)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsProviderError reports whether err is a failure attributable to a provider
// (transport or protocol), i.e. one that should trigger failover.
func IsProviderError(err error) bool {
	return IsTransportError(err) || IsProtocolError(err)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
