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

// maxStreamRetries caps retries for streaming calls regardless of the retry
// budget configured for unary calls. Once chunks have been forwarded a retry
// would replay content the consumer already saw, so retries only happen while
// the stream is still empty.
const maxStreamRetries = 2

// ExecuteStream runs a streaming adapter call under the retry discipline.
// Chunks are forwarded on the returned channel as they arrive. A failure
// before the first chunk is retried like a unary call; a failure mid-stream
// is final and surfaces on the error channel.
func (e *Executor) ExecuteStream(ctx context.Context, a provider.Adapter, req domain.GenerationRequest, cfg *RetryConfig) (<-chan domain.StreamChunk, <-chan error) {
	out := make(chan domain.StreamChunk)
	errCh := make(chan error, 1)

	conf := e.config(cfg)
	if conf.MaxRetries > maxStreamRetries {
		conf.MaxRetries = maxStreamRetries
	}

	go func() {
		defer close(out)
		defer close(errCh)

		name := a.Name()

		if e.breakers.IsOpen(ctx, name) {
			metrics.RecordBreakerSkip(name)
			errCh <- &domain.CircuitOpenError{Provider: name}
			return
		}

		metrics.StreamStarted()
		defer metrics.StreamFinished()

		var lastErr error

		for attempt := 0; attempt <= conf.MaxRetries; attempt++ {
			if e.pacer != nil {
				if err := e.pacer.Wait(ctx, name); err != nil {
					e.abandon(ctx, name)
					errCh <- err
					return
				}
			}

			forwarded, err := e.streamAttempt(ctx, a, req, out)
			if err == nil {
				e.breakers.RecordSuccess(ctx, name)
				metrics.RecordAttempt(name, "success")
				return
			}

			lastErr = err
			metrics.RecordAttempt(name, "failure")
			metrics.RecordProviderError(name, errorLabel(err))

			if ctx.Err() != nil {
				e.abandon(ctx, name)
				errCh <- ctx.Err()
				return
			}

			var vErr *domain.ValidationError
			if errors.As(err, &vErr) {
				e.abandon(ctx, name)
				errCh <- err
				return
			}

			// Content already reached the consumer; cannot restart.
			if forwarded {
				e.breakers.RecordFailure(ctx, name)
				errCh <- err
				return
			}

			if !Retryable(err, conf.RetryableErrors) {
				e.breakers.RecordFailure(ctx, name)
				errCh <- err
				return
			}

			if attempt < conf.MaxRetries {
				delay := calculateDelay(conf, attempt)
				slog.Warn("stream attempt failed, retrying",
					"provider", name,
					"attempt", attempt+1,
					"delay", delay,
					"error", err,
				)
				metrics.RecordRetry(name)

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					e.abandon(ctx, name)
					errCh <- ctx.Err()
					return
				}
			}
		}

		e.breakers.RecordFailure(ctx, name)
		errCh <- lastErr
	}()

	return out, errCh
}

// streamAttempt consumes one provider stream, forwarding chunks to out.
// Returns whether anything was forwarded, which decides retry eligibility.
func (e *Executor) streamAttempt(ctx context.Context, a provider.Adapter, req domain.GenerationRequest, out chan<- domain.StreamChunk) (bool, error) {
	chunks, errs := a.GenerateStream(ctx, req)

	forwarded := false
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if errs == nil {
					return forwarded, nil
				}
				// Wait for a trailing error. Adapters close the error
				// channel when the stream ends, so this cannot hang.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						return forwarded, err
					}
					return forwarded, nil
				case <-ctx.Done():
					return forwarded, ctx.Err()
				}
			}
			select {
			case out <- chunk:
				forwarded = true
			case <-ctx.Done():
				return forwarded, ctx.Err()
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return forwarded, err
			}
			// Error channel closed cleanly; keep reading chunks.
			errs = nil
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
}
