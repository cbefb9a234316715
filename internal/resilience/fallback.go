package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/metrics"
	"github.com/felipepmaragno/modelrouter/internal/provider"
)

// Candidate pairs an adapter with the model the router chose for it.
type Candidate struct {
	Adapter provider.Adapter
	Model   string
}

// ExecuteAcrossProviders tries candidates in order until one succeeds. Each
// candidate gets the full retry treatment from Execute; an open breaker skips
// the candidate without counting an attempt. The successful result carries
// how many providers were touched and the total attempts across all of them.
func (e *Executor) ExecuteAcrossProviders(ctx context.Context, candidates []Candidate, req domain.GenerationRequest, cfg *RetryConfig) (*domain.GenerationResult, error) {
	if len(candidates) == 0 {
		return nil, domain.ErrNoProviderAvailable
	}

	conf := e.config(cfg)

	start := time.Now()
	attempted := 0
	totalAttempts := 0
	var lastErr error

	for i, c := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, attempts, err := e.execute(ctx, c.Adapter, req.WithModel(c.Model), conf)
		totalAttempts += attempts

		if err == nil {
			res.ProvidersAttempted = attempted + 1
			res.TotalAttempts = totalAttempts
			// Latency covers the whole orchestration, including time spent
			// on candidates that failed before this one.
			res.LatencyMs = time.Since(start).Milliseconds()
			metrics.RecordFallbackDepth("success", attempted+1)
			if i > 0 {
				slog.Info("fallback succeeded",
					"provider", c.Adapter.Name(),
					"model", c.Model,
					"providers_attempted", res.ProvidersAttempted,
					"total_attempts", totalAttempts,
				)
			}
			return res, nil
		}

		var openErr *domain.CircuitOpenError
		if errors.As(err, &openErr) {
			slog.Debug("skipping provider with open circuit", "provider", c.Adapter.Name())
			if lastErr == nil {
				lastErr = err
			}
			continue
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		attempted++
		lastErr = err
		slog.Warn("provider exhausted, falling back",
			"provider", c.Adapter.Name(),
			"model", c.Model,
			"attempts", attempts,
			"error", err,
		)
	}

	metrics.RecordFallbackDepth("exhausted", attempted)
	return nil, &domain.AllProvidersExhaustedError{Providers: attempted, LastErr: lastErr}
}
