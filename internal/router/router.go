package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/circuitbreaker"
	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/metrics"
	"github.com/felipepmaragno/modelrouter/internal/provider"
	"github.com/felipepmaragno/modelrouter/internal/resilience"
)

// ResponseCache stores completed generations keyed by request shape.
type ResponseCache interface {
	Get(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, bool)
	Set(ctx context.Context, req domain.GenerationRequest, res *domain.GenerationResult)
}

// CostEstimator prices a completed call from its token usage.
type CostEstimator interface {
	Cost(model string, caps domain.Capabilities, usage *domain.Usage) float64
}

// UsageRecorder persists per-call usage for reporting. Failures are logged,
// never surfaced to the caller.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}

// Router is the front door: it selects providers for requests and executes
// them through the resilience layer, consulting the cache and recording
// usage around the call.
type Router struct {
	adapters []provider.Adapter
	byName   map[string]provider.Adapter
	exec     *resilience.Executor

	cache ResponseCache
	cost  CostEstimator
	usage UsageRecorder
}

// RouterOption configures optional collaborators.
type RouterOption func(*Router)

func WithCache(c ResponseCache) RouterOption {
	return func(r *Router) { r.cache = c }
}

func WithCostEstimator(c CostEstimator) RouterOption {
	return func(r *Router) { r.cost = c }
}

func WithUsageRecorder(u UsageRecorder) RouterOption {
	return func(r *Router) { r.usage = u }
}

// New builds a router over the given adapters. Registration order matters:
// score ties go to the earliest adapter.
func New(adapters []provider.Adapter, exec *resilience.Executor, opts ...RouterOption) *Router {
	byName := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	r := &Router{adapters: adapters, byName: byName, exec: exec}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers lists registered provider names in registration order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Models lists every registered adapter's default model and capabilities.
func (r *Router) Models() []domain.ModelInfo {
	infos := make([]domain.ModelInfo, 0, len(r.adapters))
	for _, a := range r.adapters {
		infos = append(infos, domain.ModelInfo{
			Provider:     a.Name(),
			Model:        a.DefaultModel(),
			Capabilities: a.Capabilities(),
		})
	}
	return infos
}

// ProviderHealth reports circuit breaker state per provider.
func (r *Router) ProviderHealth(ctx context.Context) map[string]circuitbreaker.Health {
	return r.exec.Breakers().Health(ctx)
}

// ResetBreaker force-closes a provider's breaker.
func (r *Router) ResetBreaker(ctx context.Context, providerName string) error {
	if _, ok := r.byName[providerName]; !ok {
		return domain.ErrNoProviderAvailable
	}
	return r.exec.Breakers().Reset(ctx, providerName)
}

// Generate answers a request, falling back across providers in score order.
func (r *Router) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}
	if len(r.adapters) == 0 {
		return nil, domain.ErrNoProviderAvailable
	}

	if r.cache != nil && cacheable(req) {
		if res, ok := r.cache.Get(ctx, req); ok {
			metrics.CacheHits.Inc()
			return res, nil
		}
		metrics.CacheMisses.Inc()
	}

	candidates := r.candidates(req)

	start := time.Now()
	res, err := r.exec.ExecuteAcrossProviders(ctx, candidates, req, nil)
	if err != nil {
		metrics.RecordRequest("none", req.Model, "error", time.Since(start).Seconds())
		return nil, err
	}

	r.settle(ctx, res)
	metrics.RecordRequest(res.Provider, res.Model, "success", time.Since(start).Seconds())

	if r.cache != nil && cacheable(req) {
		r.cache.Set(ctx, req, res)
	}
	return res, nil
}

// GenerateStream streams a request. Providers are tried in score order; a
// candidate that fails before emitting anything is abandoned for the next
// one. Once chunks flow, that provider owns the stream.
func (r *Router) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	out := make(chan domain.StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if err := r.validate(req); err != nil {
			errCh <- err
			return
		}
		if len(r.adapters) == 0 {
			errCh <- domain.ErrNoProviderAvailable
			return
		}

		var lastErr error
		tried := 0
		eligible := false
		for _, c := range r.candidates(req) {
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			if !c.Adapter.Capabilities().SupportsStreaming {
				continue
			}
			eligible = true

			chunks, errs := r.exec.ExecuteStream(ctx, c.Adapter, req.WithModel(c.Model), nil)

			forwarded, err := bridge(ctx, chunks, errs, out)
			if err == nil {
				metrics.RecordRequest(c.Adapter.Name(), c.Model, "success", 0)
				return
			}
			lastErr = err
			if forwarded || ctx.Err() != nil {
				// Content already reached the client; the failure is final.
				errCh <- err
				return
			}
			var openErr *domain.CircuitOpenError
			if !errors.As(err, &openErr) {
				tried++
			}
			slog.Warn("stream provider failed before output, trying next",
				"provider", c.Adapter.Name(), "error", err)
		}

		if !eligible {
			errCh <- domain.ErrStreamNotSupported
			return
		}
		errCh <- &domain.AllProvidersExhaustedError{Providers: tried, LastErr: lastErr}
	}()

	return out, errCh
}

// candidates turns the ranked adapters into fallback candidates, each
// carrying its provider's default model.
func (r *Router) candidates(req domain.GenerationRequest) []resilience.Candidate {
	ranked := r.rankCandidates(req)
	out := make([]resilience.Candidate, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, resilience.Candidate{Adapter: s.adapter, Model: s.adapter.DefaultModel()})
	}
	return out
}

// settle prices and persists a successful result.
func (r *Router) settle(ctx context.Context, res *domain.GenerationResult) {
	if res.Usage == nil {
		return
	}

	metrics.RecordTokens(res.Provider, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens)

	if r.cost != nil {
		if a, ok := r.byName[res.Provider]; ok {
			res.CostUSD = r.cost.Cost(res.Model, a.Capabilities(), res.Usage)
			metrics.RecordCost(res.Provider, res.Model, res.CostUSD)
		}
	}

	if r.usage != nil {
		rec := domain.UsageRecord{
			Provider:     res.Provider,
			Model:        res.Model,
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
			CostUSD:      res.CostUSD,
			LatencyMs:    res.LatencyMs,
			CreatedAt:    time.Now().UTC(),
		}
		if err := r.usage.RecordUsage(ctx, rec); err != nil {
			slog.Error("recording usage failed", "provider", res.Provider, "error", err)
		}
	}
}

// validate rejects requests that can never succeed: malformed shape, or an
// estimated context no registered provider can hold.
func (r *Router) validate(req domain.GenerationRequest) error {
	if err := validateShape(req); err != nil {
		return err
	}
	if len(r.adapters) == 0 {
		return nil
	}
	for _, a := range r.adapters {
		if provider.ValidateRequest(a, req) == nil {
			return nil
		}
	}
	return domain.NewValidationError(
		"estimated context of %d tokens exceeds every provider's window",
		provider.EstimateContextTokens(req),
	)
}

func validateShape(req domain.GenerationRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewValidationError("at least one message is required")
	}
	for i, m := range req.Messages {
		if m.Content == "" {
			return domain.NewValidationError("message %d has empty content", i)
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return domain.NewValidationError("temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return domain.NewValidationError("max_tokens must be positive")
	}
	return nil
}

// cacheable excludes sampling-heavy requests where replaying a stored
// answer would be surprising.
func cacheable(req domain.GenerationRequest) bool {
	if req.Stream || req.SkipCache {
		return false
	}
	return req.Temperature == nil || *req.Temperature == 0
}

// bridge copies one provider stream onto the shared output channel.
func bridge(ctx context.Context, chunks <-chan domain.StreamChunk, errs <-chan error, out chan<- domain.StreamChunk) (bool, error) {
	forwarded := false
	for chunk := range chunks {
		select {
		case out <- chunk:
			forwarded = true
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
	return forwarded, <-errs
}
