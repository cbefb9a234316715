// Package provider defines the uniform contract every AI backend adapter
// satisfies. Adapters are thin HTTP wrappers: they expose static capability
// metadata and a generate operation, and leave routing, retries, and breaker
// bookkeeping to the layers above.
package provider

import (
	"context"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

// Adapter wraps one AI provider's API.
type Adapter interface {
	// Name returns the stable provider identifier ("openai", "anthropic", ...).
	Name() string

	// DefaultModel returns the model used when a request carries no hint.
	DefaultModel() string

	// Capabilities returns the adapter's static capability metadata.
	Capabilities() domain.Capabilities

	// Generate performs one completion call. Errors should be
	// *domain.ProviderError with a Kind when the adapter can classify the
	// upstream failure.
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)

	// GenerateStream performs one streaming completion call. The chunk
	// channel is closed on clean completion; a single error may arrive on
	// the error channel instead.
	GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error)
}

// EstimateTokens approximates the token count of text at 4 characters per
// token, rounding up. Coarse on purpose; never treated as exact.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateContextTokens sums the token estimate over all message and
// attached file contents of a request.
func EstimateContextTokens(req domain.GenerationRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += EstimateTokens(msg.Content)
	}
	if req.Context != nil {
		for _, f := range req.Context.Files {
			total += EstimateTokens(f.Content)
		}
	}
	return total
}

// ValidateRequest rejects requests that can never succeed against the given
// adapter: an empty message list, or an estimated context larger than the
// adapter's window.
func ValidateRequest(a Adapter, req domain.GenerationRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewValidationError("messages cannot be empty")
	}

	if est := EstimateContextTokens(req); est > a.Capabilities().MaxContextTokens {
		return domain.NewValidationError(
			"estimated context of %d tokens exceeds %s limit of %d",
			est, a.Name(), a.Capabilities().MaxContextTokens,
		)
	}

	return nil
}
