// Package circuitbreaker implements per-provider circuit breakers for
// failure protection. A breaker prevents cascading failures by failing fast
// when a provider is unhealthy, and admits a single half-open probe to test
// recovery.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider unhealthy, requests blocked
//   - Half-Open: exactly one probe in flight testing recovery
//
// Implementations:
//   - InMemoryRegistry: single-instance, one mutex-guarded record per provider
//   - RedisRegistry: distributed, Lua scripts for atomic transitions
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/metrics"
)

// Registry tracks breaker state for every provider name it has seen.
// Records are created lazily on first reference and live for the process
// lifetime.
type Registry interface {
	// IsOpen reports whether calls to the provider are currently blocked.
	// When an open breaker's reset window has elapsed, IsOpen also performs
	// the open to half-open transition and claims the single probe slot as a
	// side effect; exactly one concurrent caller observes false.
	IsOpen(ctx context.Context, provider string) bool

	// RecordSuccess resets the failure count and closes the breaker. In
	// half-open state it resolves the probe.
	RecordSuccess(ctx context.Context, provider string)

	// RecordFailure increments the failure count, possibly opening the
	// breaker. In half-open state it resolves the probe back to open.
	RecordFailure(ctx context.Context, provider string)

	// ReleaseProbe frees the half-open probe slot without recording an
	// outcome. Called when a probe is abandoned before completing, e.g. the
	// caller cancelled mid-attempt, so the next caller can claim a fresh
	// probe instead of the provider staying blocked. No-op outside half-open.
	ReleaseProbe(ctx context.Context, provider string)

	// Health returns an observability snapshot for every known provider.
	Health(ctx context.Context) map[string]Health

	// Reset forces a provider's breaker back to closed. Operator escape
	// hatch, exposed on the admin surface.
	Reset(ctx context.Context, provider string) error
}

// State represents the current state of one provider's breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Health is one provider's snapshot.
type Health struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Config defines breaker behavior shared by all providers in a registry.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	ResetWindow      time.Duration // open duration before a probe is admitted
}

// DefaultConfig returns the tuned production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetWindow:      60 * time.Second,
	}
}

// StateChangeFunc observes breaker transitions, e.g. to publish
// provider_down/provider_up notifications or update gauges. Called outside
// the record lock.
type StateChangeFunc func(provider string, from, to State)

// record is the unit of breaker state for one provider. All fields,
// including the probe marker, are guarded by the one mutex so the
// check-then-claim in isOpen is a single critical section.
type record struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	probeInFlight bool
}

// InMemoryRegistry is the single-instance Registry implementation.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*record
	config  Config

	onStateChange StateChangeFunc
}

// Option configures an InMemoryRegistry.
type Option func(*InMemoryRegistry)

// WithStateChangeFunc registers a transition observer.
func WithStateChangeFunc(fn StateChangeFunc) Option {
	return func(r *InMemoryRegistry) {
		r.onStateChange = fn
	}
}

// NewInMemory creates an in-memory breaker registry.
func NewInMemory(cfg Config, opts ...Option) *InMemoryRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultConfig().ResetWindow
	}

	r := &InMemoryRegistry{
		records: make(map[string]*record),
		config:  cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryRegistry) get(provider string) *record {
	r.mu.RLock()
	rec, ok := r.records[provider]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[provider]; ok {
		return rec
	}
	rec = &record{state: StateClosed}
	r.records[provider] = rec
	return rec
}

func (r *InMemoryRegistry) IsOpen(ctx context.Context, provider string) bool {
	rec := r.get(provider)

	rec.mu.Lock()
	switch rec.state {
	case StateClosed:
		rec.mu.Unlock()
		return false

	case StateOpen:
		if time.Since(rec.lastFailure) > r.config.ResetWindow && !rec.probeInFlight {
			rec.state = StateHalfOpen
			rec.probeInFlight = true
			rec.mu.Unlock()
			r.notify(provider, StateOpen, StateHalfOpen)
			return false
		}
		rec.mu.Unlock()
		return true

	case StateHalfOpen:
		// A probe is already in flight; everyone else stays blocked until
		// its outcome resolves the state.
		if !rec.probeInFlight {
			rec.probeInFlight = true
			rec.mu.Unlock()
			return false
		}
		rec.mu.Unlock()
		return true
	}

	rec.mu.Unlock()
	return false
}

func (r *InMemoryRegistry) RecordSuccess(ctx context.Context, provider string) {
	rec := r.get(provider)

	rec.mu.Lock()
	from := rec.state
	rec.failures = 0
	rec.probeInFlight = false
	rec.state = StateClosed
	rec.mu.Unlock()

	if from != StateClosed {
		r.notify(provider, from, StateClosed)
	}
}

func (r *InMemoryRegistry) RecordFailure(ctx context.Context, provider string) {
	rec := r.get(provider)

	rec.mu.Lock()
	from := rec.state
	rec.failures++
	rec.lastFailure = time.Now()

	switch rec.state {
	case StateClosed:
		if rec.failures >= r.config.FailureThreshold {
			rec.state = StateOpen
		}
	case StateHalfOpen:
		// Probe failed: back to open with a fresh reset-window clock.
		rec.probeInFlight = false
		rec.state = StateOpen
	}
	to := rec.state
	rec.mu.Unlock()

	if from != to {
		r.notify(provider, from, to)
	}
}

func (r *InMemoryRegistry) ReleaseProbe(ctx context.Context, provider string) {
	rec := r.get(provider)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == StateHalfOpen {
		rec.probeInFlight = false
	}
}

func (r *InMemoryRegistry) Health(ctx context.Context) map[string]Health {
	r.mu.RLock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	r.mu.RUnlock()

	snapshot := make(map[string]Health, len(names))
	for _, name := range names {
		rec := r.get(name)
		rec.mu.Lock()
		snapshot[name] = Health{
			State:       rec.state.String(),
			Failures:    rec.failures,
			LastFailure: rec.lastFailure,
		}
		rec.mu.Unlock()
	}
	return snapshot
}

func (r *InMemoryRegistry) Reset(ctx context.Context, provider string) error {
	rec := r.get(provider)

	rec.mu.Lock()
	from := rec.state
	rec.state = StateClosed
	rec.failures = 0
	rec.probeInFlight = false
	rec.lastFailure = time.Time{}
	rec.mu.Unlock()

	if from != StateClosed {
		r.notify(provider, from, StateClosed)
	}
	return nil
}

// StateOf returns the current state without side effects. Used by tests and
// the metrics gauge.
func (r *InMemoryRegistry) StateOf(provider string) State {
	rec := r.get(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// Failures returns the current consecutive failure count for a provider.
func (r *InMemoryRegistry) Failures(provider string) int {
	rec := r.get(provider)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.failures
}

func (r *InMemoryRegistry) notify(provider string, from, to State) {
	metrics.SetCircuitBreakerState(provider, int(to))
	if r.onStateChange != nil {
		r.onStateChange(provider, from, to)
	}
}
