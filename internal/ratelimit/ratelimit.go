// Package ratelimit paces outbound calls per provider so the router stays
// under vendor rate limits instead of discovering them as 429s. Sliding
// one-minute windows; in-memory for a single instance, Redis when several
// instances share the provider quota.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/metrics"
)

// Limiter answers whether one more call to a provider fits in the current
// window, and when the window resets if not.
type Limiter interface {
	Allow(ctx context.Context, provider string) (allowed bool, resetAt time.Time, err error)
}

// Limits holds requests-per-minute budgets per provider. Zero or missing
// means unlimited.
type Limits struct {
	PerProvider map[string]int
	Default     int
}

func (l Limits) limitFor(provider string) int {
	if n, ok := l.PerProvider[provider]; ok {
		return n
	}
	return l.Default
}

// Pacer wraps a Limiter into a blocking wait usable by the execution layer.
type Pacer struct {
	limiter Limiter
}

func NewPacer(limiter Limiter) *Pacer {
	return &Pacer{limiter: limiter}
}

// Wait blocks until the provider has budget or the context ends. On limiter
// backend errors it lets the call through; pacing is an optimization, not a
// correctness gate.
func (p *Pacer) Wait(ctx context.Context, provider string) error {
	for {
		allowed, resetAt, err := p.limiter.Allow(ctx, provider)
		if err != nil || allowed {
			return nil
		}

		metrics.RecordOutboundRateLimitHit(provider)

		wait := time.Until(resetAt)
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InMemoryLimiter tracks windows per provider in process memory.
type InMemoryLimiter struct {
	limits Limits

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory(limits Limits) *InMemoryLimiter {
	return &InMemoryLimiter{
		limits:  limits,
		windows: make(map[string]*window),
	}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, provider string) (bool, time.Time, error) {
	limit := l.limits.limitFor(provider)
	if limit <= 0 {
		return true, time.Time{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[provider]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[provider] = w
	}

	if w.count >= limit {
		return false, w.resetAt, nil
	}

	w.count++
	return true, w.resetAt, nil
}
