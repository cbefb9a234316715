package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/circuitbreaker"
	"github.com/felipepmaragno/modelrouter/internal/domain"
)

func streamOf(chunks []domain.StreamChunk, finalErr error) func(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	return func(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
		out := make(chan domain.StreamChunk)
		errCh := make(chan error, 1)
		go func() {
			defer close(out)
			defer close(errCh)
			for _, c := range chunks {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			if finalErr != nil {
				errCh <- finalErr
			}
		}()
		return out, errCh
	}
}

func collect(t *testing.T, chunks <-chan domain.StreamChunk, errs <-chan error) (string, error) {
	t.Helper()
	var content string
	for c := range chunks {
		content += c.Content
	}
	return content, <-errs
}

func TestStreamForwardsChunks(t *testing.T) {
	exec, _ := newTestExecutor(t)

	a := &fakeAdapter{
		name: "anthropic",
		streamFunc: streamOf([]domain.StreamChunk{
			{Content: "hel"}, {Content: "lo"}, {FinishReason: "stop"},
		}, nil),
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	content, err := collect(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q, want hello", content)
	}
}

func TestStreamRetriesFailureBeforeFirstChunk(t *testing.T) {
	exec, reg := newTestExecutor(t)

	var n atomic.Int32
	a := &fakeAdapter{
		name: "openai",
		streamFunc: func(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
			if n.Add(1) == 1 {
				return streamOf(nil, errors.New("503 service unavailable"))(ctx, req)
			}
			return streamOf([]domain.StreamChunk{{Content: "ok"}}, nil)(ctx, req)
		},
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	content, err := collect(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if content != "ok" {
		t.Errorf("content = %q, want ok", content)
	}
	if got := a.streamCalls.Load(); got != 2 {
		t.Errorf("stream opened %d times, want 2", got)
	}
	if got := reg.Failures("openai"); got != 0 {
		t.Errorf("breaker failures = %d, want 0 after recovery", got)
	}
}

func TestStreamDoesNotRetryAfterContentForwarded(t *testing.T) {
	exec, _ := newTestExecutor(t)

	a := &fakeAdapter{
		name:       "openai",
		streamFunc: streamOf([]domain.StreamChunk{{Content: "partial"}}, errors.New("connection reset by peer")),
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	content, err := collect(t, chunks, errs)
	if err == nil {
		t.Fatal("expected mid-stream error to surface")
	}
	if content != "partial" {
		t.Errorf("content = %q, want the partial output", content)
	}
	if got := a.streamCalls.Load(); got != 1 {
		t.Errorf("stream opened %d times, want 1 (no replay after output)", got)
	}
}

func TestStreamRetriesCappedAtTwo(t *testing.T) {
	reg := circuitbreaker.NewInMemory(circuitbreaker.DefaultConfig())
	cfg := fastRetryConfig()
	cfg.MaxRetries = 10
	exec := NewExecutor(reg, cfg)

	a := &fakeAdapter{
		name:       "openai",
		streamFunc: streamOf(nil, errors.New("503 service unavailable")),
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	_, err := collect(t, chunks, errs)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := a.streamCalls.Load(); got != 3 {
		t.Errorf("stream opened %d times, want 3 (1 + 2 capped retries)", got)
	}
}

func TestStreamFailsFastWhenCircuitOpen(t *testing.T) {
	exec, reg := newTestExecutor(t)

	ctx := context.Background()
	for i := 0; i < circuitbreaker.DefaultConfig().FailureThreshold; i++ {
		reg.RecordFailure(ctx, "openai")
	}

	a := &fakeAdapter{
		name:       "openai",
		streamFunc: streamOf([]domain.StreamChunk{{Content: "never"}}, nil),
	}

	chunks, errs := exec.ExecuteStream(ctx, a, domain.GenerationRequest{}, nil)
	content, err := collect(t, chunks, errs)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("error = %v, want circuit open", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
	if got := a.streamCalls.Load(); got != 0 {
		t.Errorf("stream opened %d times, want 0", got)
	}
}

func TestStreamReleasesProbeWhenCallerCancels(t *testing.T) {
	reg := circuitbreaker.NewInMemory(circuitbreaker.Config{
		FailureThreshold: 2,
		ResetWindow:      20 * time.Millisecond,
	})
	exec := NewExecutor(reg, fastRetryConfig())

	bg := context.Background()
	reg.RecordFailure(bg, "openai")
	reg.RecordFailure(bg, "openai")
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAdapter{
		name: "openai",
		streamFunc: func(sctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
			cancel()
			return streamOf(nil, errors.New("connection reset by peer"))(sctx, req)
		},
	}

	chunks, errs := exec.ExecuteStream(ctx, a, domain.GenerationRequest{}, nil)
	_, err := collect(t, chunks, errs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	if reg.IsOpen(bg, "openai") {
		t.Error("expected next caller admitted as a new probe after cancellation")
	}
}

func TestStreamValidationErrorNotChargedToBreaker(t *testing.T) {
	exec, reg := newTestExecutor(t)

	a := &fakeAdapter{
		name:       "openai",
		streamFunc: streamOf(nil, domain.NewValidationError("context window exceeded")),
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	_, err := collect(t, chunks, errs)

	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if got := a.streamCalls.Load(); got != 1 {
		t.Errorf("stream opened %d times, want 1", got)
	}
	if got := reg.Failures("openai"); got != 0 {
		t.Errorf("breaker failures = %d, want 0", got)
	}
}

// The chunk channel can close before the adapter delivers its error. The
// attempt must still observe that error rather than report a clean finish.
func TestStreamSeesErrorArrivingAfterChunksClose(t *testing.T) {
	exec, _ := newTestExecutor(t)

	a := &fakeAdapter{
		name: "openai",
		streamFunc: func(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
			out := make(chan domain.StreamChunk)
			errCh := make(chan error, 1)
			go func() {
				close(out)
				time.Sleep(10 * time.Millisecond)
				errCh <- domain.NewProviderError("openai", domain.ErrKindAuth, "invalid api key")
				close(errCh)
			}()
			return out, errCh
		},
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	_, err := collect(t, chunks, errs)
	if err == nil {
		t.Fatal("expected the late error to surface")
	}

	var pErr *domain.ProviderError
	if !errors.As(err, &pErr) || pErr.Kind != domain.ErrKindAuth {
		t.Errorf("error = %v, want the adapter's auth error", err)
	}
}

func TestStreamPermanentErrorNotRetried(t *testing.T) {
	exec, _ := newTestExecutor(t)

	a := &fakeAdapter{
		name:       "openai",
		streamFunc: streamOf(nil, domain.NewProviderError("openai", domain.ErrKindAuth, "invalid api key")),
	}

	chunks, errs := exec.ExecuteStream(context.Background(), a, domain.GenerationRequest{}, nil)
	_, err := collect(t, chunks, errs)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := a.streamCalls.Load(); got != 1 {
		t.Errorf("stream opened %d times, want 1", got)
	}
}
