package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryAllowsUpToLimit(t *testing.T) {
	l := NewInMemory(Limits{Default: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, "openai")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !allowed {
			t.Fatalf("call %d blocked below the limit", i+1)
		}
	}

	allowed, resetAt, err := l.Allow(ctx, "openai")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Error("fourth call allowed past a limit of 3")
	}
	if !resetAt.After(time.Now()) {
		t.Error("resetAt should be in the future")
	}
}

func TestProvidersHaveIndependentWindows(t *testing.T) {
	l := NewInMemory(Limits{Default: 1})
	ctx := context.Background()

	if ok, _, _ := l.Allow(ctx, "openai"); !ok {
		t.Fatal("first openai call blocked")
	}
	if ok, _, _ := l.Allow(ctx, "anthropic"); !ok {
		t.Error("anthropic blocked by openai's window")
	}
	if ok, _, _ := l.Allow(ctx, "openai"); ok {
		t.Error("second openai call should be blocked")
	}
}

func TestPerProviderOverridesDefault(t *testing.T) {
	l := NewInMemory(Limits{Default: 1, PerProvider: map[string]int{"ollama": 0, "openai": 2}})
	ctx := context.Background()

	// Zero means unlimited.
	for i := 0; i < 10; i++ {
		if ok, _, _ := l.Allow(ctx, "ollama"); !ok {
			t.Fatal("unlimited provider blocked")
		}
	}

	l.Allow(ctx, "openai")
	if ok, _, _ := l.Allow(ctx, "openai"); !ok {
		t.Error("openai blocked below its per-provider limit")
	}
	if ok, _, _ := l.Allow(ctx, "openai"); ok {
		t.Error("openai allowed past its per-provider limit")
	}
}

func TestPacerPassesThroughWhenAllowed(t *testing.T) {
	p := NewPacer(NewInMemory(Limits{Default: 5}))

	start := time.Now()
	if err := p.Wait(context.Background(), "openai"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait blocked despite available budget")
	}
}

func TestPacerHonorsContextCancel(t *testing.T) {
	l := NewInMemory(Limits{Default: 1})
	p := NewPacer(l)
	ctx := context.Background()

	if err := p.Wait(ctx, "openai"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	err := p.Wait(cancelCtx, "openai")
	if err != context.DeadlineExceeded {
		t.Fatalf("Wait error = %v, want deadline exceeded", err)
	}
}
