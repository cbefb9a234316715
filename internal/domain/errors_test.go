package domain

import (
	"errors"
	"testing"
)

func TestErrorKind_Retryable(t *testing.T) {
	retryable := []ErrorKind{ErrKindRateLimited, ErrKindTimeout, ErrKindTransport, ErrKindServerError, ErrKindOverloaded}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("expected %q to be retryable", k)
		}
	}

	permanent := []ErrorKind{ErrKindAuth, ErrKindInvalidRequest, ErrKindNotSupported, ErrKindUnknown}
	for _, k := range permanent {
		if k.Retryable() {
			t.Errorf("expected %q to be permanent", k)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]ErrorKind{
		401: ErrKindAuth,
		403: ErrKindAuth,
		408: ErrKindTimeout,
		429: ErrKindRateLimited,
		529: ErrKindOverloaded,
		500: ErrKindServerError,
		503: ErrKindServerError,
		400: ErrKindInvalidRequest,
		422: ErrKindInvalidRequest,
		200: ErrKindUnknown,
	}
	for status, want := range cases {
		if got := ClassifyStatus(status); got != want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestCircuitOpenError_MatchesSentinel(t *testing.T) {
	err := &CircuitOpenError{Provider: "openai"}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("expected CircuitOpenError to match ErrCircuitOpen")
	}
}

func TestProviderError_RateLimitedMatchesSentinel(t *testing.T) {
	limited := NewProviderError("openai", ErrKindRateLimited, "quota exhausted")
	if !errors.Is(limited, ErrRateLimited) {
		t.Error("expected rate-limited ProviderError to match ErrRateLimited")
	}

	server := NewProviderError("openai", ErrKindServerError, "internal error")
	if errors.Is(server, ErrRateLimited) {
		t.Error("expected server error not to match ErrRateLimited")
	}
}

func TestAllProvidersExhaustedError_UnwrapsLast(t *testing.T) {
	last := NewProviderError("ollama", ErrKindServerError, "internal error")
	err := &AllProvidersExhaustedError{Providers: 3, LastErr: last}

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatal("expected to unwrap to ProviderError")
	}
	if pErr.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %s", pErr.Provider)
	}
}
