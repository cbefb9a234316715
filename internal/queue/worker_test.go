package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

type stubGenerator struct {
	result *domain.GenerationResult
	err    error
}

func (g *stubGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	return g.result, g.err
}

func userRequest(content string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: content}},
	}
}

func TestWorkerPublishesResult(t *testing.T) {
	q := NewInMemoryQueue()
	q.SendRequest(context.Background(), AsyncRequest{
		ID:      "job-1",
		Request: userRequest("hello"),
	})

	gen := &stubGenerator{result: &domain.GenerationResult{Content: "hi", Provider: "openai"}}
	w := NewWorker(q, gen)

	requests, _ := q.ReceiveRequests(context.Background(), 10)
	for _, req := range requests {
		w.process(context.Background(), req)
	}

	responses := q.GetResponses()
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].RequestID != "job-1" {
		t.Errorf("request id = %s, want job-1", responses[0].RequestID)
	}
	if responses[0].Result == nil || responses[0].Result.Content != "hi" {
		t.Errorf("unexpected result: %+v", responses[0].Result)
	}
	if responses[0].Error != "" {
		t.Errorf("unexpected error field: %s", responses[0].Error)
	}
}

func TestWorkerPublishesFailure(t *testing.T) {
	q := NewInMemoryQueue()
	q.SendRequest(context.Background(), AsyncRequest{
		ID:      "job-2",
		Request: userRequest("hello"),
	})

	gen := &stubGenerator{err: errors.New("all providers exhausted")}
	w := NewWorker(q, gen)

	requests, _ := q.ReceiveRequests(context.Background(), 10)
	for _, req := range requests {
		w.process(context.Background(), req)
	}

	responses := q.GetResponses()
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Result != nil {
		t.Error("failed job should not carry a result")
	}
	if responses[0].Error == "" {
		t.Error("failed job should carry the error message")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q := NewInMemoryQueue()
	w := NewWorker(q, &stubGenerator{result: &domain.GenerationResult{}})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestInMemoryQueueDrainsInOrder(t *testing.T) {
	q := NewInMemoryQueue()
	for _, id := range []string{"a", "b", "c"} {
		q.SendRequest(context.Background(), AsyncRequest{ID: id})
	}

	first, _ := q.ReceiveRequests(context.Background(), 2)
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("unexpected first batch: %+v", first)
	}

	second, _ := q.ReceiveRequests(context.Background(), 2)
	if len(second) != 1 || second[0].ID != "c" {
		t.Fatalf("unexpected second batch: %+v", second)
	}
}
