package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoProviderAvailable = errors.New("no provider available")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrRateLimited         = errors.New("provider rate limit reached")
	ErrStreamNotSupported  = errors.New("provider does not support streaming")
)

// ValidationError reports a request that can never succeed: no messages, or
// a context no configured provider can fit. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind is the closed classification set adapters may attach to their
// errors. The executor trusts it when present instead of inspecting message
// text.
type ErrorKind string

const (
	ErrKindRateLimited    ErrorKind = "rate_limited"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindTransport      ErrorKind = "transport"
	ErrKindServerError    ErrorKind = "server_error"
	ErrKindOverloaded     ErrorKind = "overloaded"
	ErrKindAuth           ErrorKind = "auth"
	ErrKindInvalidRequest ErrorKind = "invalid_request"
	ErrKindNotSupported   ErrorKind = "not_supported"
	ErrKindUnknown        ErrorKind = ""
)

// Retryable reports whether this kind represents a transient condition.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindRateLimited, ErrKindTimeout, ErrKindTransport, ErrKindServerError, ErrKindOverloaded:
		return true
	default:
		return false
	}
}

// ProviderError is a failure from a specific provider adapter. Kind may be
// ErrKindUnknown when the adapter could not classify the upstream failure,
// in which case the executor falls back to message inspection.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] status=%d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ErrKindRateLimited
}

// NewProviderError builds a classified provider failure.
func NewProviderError(provider string, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message}
}

// ClassifyStatus maps an HTTP status from a provider API to an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 408:
		return ErrKindTimeout
	case status == 429:
		return ErrKindRateLimited
	case status == 529: // anthropic overloaded
		return ErrKindOverloaded
	case status >= 500:
		return ErrKindServerError
	case status >= 400:
		return ErrKindInvalidRequest
	default:
		return ErrKindUnknown
	}
}

// CircuitOpenError names the provider whose breaker blocked the call.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for provider %q", e.Provider)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// AllProvidersExhaustedError is terminal: every candidate was skipped or
// failed. It wraps the last underlying error for diagnostics.
type AllProvidersExhaustedError struct {
	Providers int
	LastErr   error
}

func (e *AllProvidersExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all %d providers exhausted, last error: %v", e.Providers, e.LastErr)
	}
	return fmt.Sprintf("all %d providers exhausted", e.Providers)
}

func (e *AllProvidersExhaustedError) Unwrap() error {
	return e.LastErr
}
