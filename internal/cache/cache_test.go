package cache

import (
	"context"
	"testing"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

func sampleRequest(content string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Model:    "gpt-4-turbo",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: content}},
	}
}

func TestKeyIsStable(t *testing.T) {
	a := Key(sampleRequest("hello"))
	b := Key(sampleRequest("hello"))
	if a != b {
		t.Errorf("same request hashed differently: %q vs %q", a, b)
	}
}

func TestKeyVariesWithContent(t *testing.T) {
	if Key(sampleRequest("hello")) == Key(sampleRequest("goodbye")) {
		t.Error("different requests produced the same key")
	}

	temp := 0.7
	withTemp := sampleRequest("hello")
	withTemp.Temperature = &temp
	if Key(sampleRequest("hello")) == Key(withTemp) {
		t.Error("temperature change should change the key")
	}

	withFiles := sampleRequest("hello")
	withFiles.Context = &domain.RequestContext{Files: []domain.ContextFile{{Path: "a.go", Content: "x"}}}
	if Key(sampleRequest("hello")) == Key(withFiles) {
		t.Error("attached context should change the key")
	}
}

func TestResponseCacheRoundTrip(t *testing.T) {
	c := NewResponseCache(NewInMemoryStore(), time.Minute)
	ctx := context.Background()

	req := sampleRequest("hello")
	if _, ok := c.Get(ctx, req); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Set(ctx, req, &domain.GenerationResult{Content: "cached answer", Provider: "openai"})

	res, ok := c.Get(ctx, req)
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if res.Content != "cached answer" {
		t.Errorf("content = %q, want cached answer", res.Content)
	}
}

func TestInMemoryStoreExpiry(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", &domain.GenerationResult{Content: "v"}, 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := s.Get(ctx, "k"); !ok {
		t.Fatal("expected a hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("expected a miss after expiry")
	}
}
