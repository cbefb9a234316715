// Package resilience wraps provider adapters with per-attempt timeouts,
// retry with exponential backoff, circuit breaker bookkeeping, and
// multi-provider fallback. Errors are classified once here; layers above
// only ever see "succeeded" or "failed".
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/circuitbreaker"
	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/metrics"
	"github.com/felipepmaragno/modelrouter/internal/provider"
)

// RetryConfig controls the retry loop for one execution. Never mutated after
// construction; per-call overrides copy the default and replace fields.
type RetryConfig struct {
	MaxRetries      int           // additional attempts after the first
	BaseDelay       time.Duration // first backoff delay
	MaxDelay        time.Duration // backoff cap
	Jitter          bool          // +-25% uniform jitter on each delay
	AttemptTimeout  time.Duration // deadline per attempt
	RetryableErrors []string      // lowercase substrings marking transient failures
}

// DefaultRetryableErrors covers rate limiting, transient network failures,
// and 5xx/overload conditions as providers commonly word them.
var DefaultRetryableErrors = []string{
	"rate limit",
	"too many requests",
	"429",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"overloaded",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"internal server error",
	"500",
	"502",
	"503",
	"529",
}

// DefaultRetryConfig returns the tuned process-wide defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        15 * time.Second,
		Jitter:          true,
		AttemptTimeout:  60 * time.Second,
		RetryableErrors: DefaultRetryableErrors,
	}
}

// Pacer throttles outbound dispatch per provider. Wait blocks until the
// provider has budget or the context ends.
type Pacer interface {
	Wait(ctx context.Context, provider string) error
}

// Executor runs adapter calls under a retry/timeout/breaker discipline.
type Executor struct {
	breakers circuitbreaker.Registry
	defaults RetryConfig
	pacer    Pacer
}

// Option configures an Executor.
type Option func(*Executor)

// WithPacer installs an outbound rate limiter consulted before every attempt.
func WithPacer(p Pacer) Option {
	return func(e *Executor) { e.pacer = p }
}

// NewExecutor creates an executor bound to a breaker registry. The registry
// is injected, never ambient, so tests can run with isolated instances.
func NewExecutor(breakers circuitbreaker.Registry, defaults RetryConfig, opts ...Option) *Executor {
	if defaults.MaxRetries < 0 {
		defaults.MaxRetries = 0
	}
	if defaults.BaseDelay <= 0 {
		defaults.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if defaults.MaxDelay <= 0 {
		defaults.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if defaults.AttemptTimeout <= 0 {
		defaults.AttemptTimeout = DefaultRetryConfig().AttemptTimeout
	}
	if len(defaults.RetryableErrors) == 0 {
		defaults.RetryableErrors = DefaultRetryableErrors
	}
	e := &Executor{breakers: breakers, defaults: defaults}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breakers exposes the registry for health reporting.
func (e *Executor) Breakers() circuitbreaker.Registry {
	return e.breakers
}

// abandon releases any half-open probe slot this call holds. Abort paths end
// with neither a success nor a failure recorded, and the caller's context is
// usually already done there, so the release runs detached from it.
func (e *Executor) abandon(ctx context.Context, provider string) {
	e.breakers.ReleaseProbe(context.WithoutCancel(ctx), provider)
}

// Execute runs one adapter call with retries. If the provider's breaker is
// open the call fails fast with a CircuitOpenError and no attempt is made.
// On success the result carries the attempt count and wall-clock latency.
func (e *Executor) Execute(ctx context.Context, a provider.Adapter, req domain.GenerationRequest, cfg *RetryConfig) (*domain.GenerationResult, error) {
	res, _, err := e.execute(ctx, a, req, e.config(cfg))
	return res, err
}

func (e *Executor) config(override *RetryConfig) RetryConfig {
	if override == nil {
		return e.defaults
	}
	return *override
}

// execute is the shared retry loop. It additionally returns the number of
// attempts consumed so the fallback orchestrator can aggregate counts across
// candidates even on failure.
func (e *Executor) execute(ctx context.Context, a provider.Adapter, req domain.GenerationRequest, cfg RetryConfig) (*domain.GenerationResult, int, error) {
	name := a.Name()

	if e.breakers.IsOpen(ctx, name) {
		metrics.RecordBreakerSkip(name)
		return nil, 0, &domain.CircuitOpenError{Provider: name}
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx, name); err != nil {
				e.abandon(ctx, name)
				return nil, attempt, err
			}
		}

		res, err := e.attempt(ctx, a, req, cfg.AttemptTimeout)
		if err == nil {
			e.breakers.RecordSuccess(ctx, name)
			metrics.RecordAttempt(name, "success")

			res.Provider = name
			res.Attempts = attempt + 1
			res.LatencyMs = time.Since(start).Milliseconds()
			return res, res.Attempts, nil
		}

		lastErr = err
		metrics.RecordAttempt(name, "failure")
		metrics.RecordProviderError(name, errorLabel(err))

		// Caller gave up; abort without charging the provider's breaker,
		// but free any probe slot this call claimed.
		if ctx.Err() != nil {
			e.abandon(ctx, name)
			return nil, attempt + 1, ctx.Err()
		}

		// A rejected request is the caller's fault, not the provider's;
		// surface it without touching the failure count.
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			e.abandon(ctx, name)
			return nil, attempt + 1, err
		}

		if !Retryable(err, cfg.RetryableErrors) {
			e.breakers.RecordFailure(ctx, name)
			return nil, attempt + 1, err
		}

		if attempt < cfg.MaxRetries {
			delay := calculateDelay(cfg, attempt)
			slog.Warn("provider attempt failed, retrying",
				"provider", name,
				"attempt", attempt+1,
				"max_attempts", cfg.MaxRetries+1,
				"delay", delay,
				"error", err,
			)
			metrics.RecordRetry(name)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				e.abandon(ctx, name)
				return nil, attempt + 1, ctx.Err()
			}
		}
	}

	// One breaker failure for the exhausted sequence, not one per attempt.
	e.breakers.RecordFailure(ctx, name)
	return nil, cfg.MaxRetries + 1, lastErr
}

type attemptOutcome struct {
	res *domain.GenerationResult
	err error
}

// attempt races one adapter call against the per-attempt deadline. The
// result channel is buffered so a call that completes after its deadline
// parks its outcome there and is discarded; a late success never reaches
// the breaker after the timeout was already recorded.
func (e *Executor) attempt(ctx context.Context, a provider.Adapter, req domain.GenerationRequest, timeout time.Duration) (*domain.GenerationResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		res, err := a.Generate(attemptCtx, req)
		done <- attemptOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.ProviderError{
			Provider: a.Name(),
			Kind:     domain.ErrKindTimeout,
			Message:  "attempt timed out after " + timeout.String(),
			Err:      context.DeadlineExceeded,
		}
	}
}

// calculateDelay returns min(base * 2^attempt, cap), jittered by +-25% when
// enabled. Deterministic with jitter off.
func calculateDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}

	if cfg.Jitter {
		factor := 0.75 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
	}

	return delay
}

// Retryable classifies an error as transient. A structured
// *domain.ProviderError kind is authoritative when present; otherwise the
// message is inspected for the configured substrings. Classification happens
// exactly once here and is never re-derived upstream.
func Retryable(err error, retryableSubstrings []string) bool {
	if err == nil {
		return false
	}

	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return false
	}

	var pErr *domain.ProviderError
	if errors.As(err, &pErr) && pErr.Kind != domain.ErrKindUnknown {
		return pErr.Kind.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func errorLabel(err error) string {
	var pErr *domain.ProviderError
	if errors.As(err, &pErr) && pErr.Kind != domain.ErrKindUnknown {
		return string(pErr.Kind)
	}
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(domain.ErrKindTimeout)
	}
	return "unclassified"
}
