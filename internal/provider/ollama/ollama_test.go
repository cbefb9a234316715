package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"model": "llama3.2",
			"message": {"role": "assistant", "content": "local hello"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 12,
			"eval_count": 3
		}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "")

	res, err := a.Generate(context.Background(), domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if res.Content != "local hello" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want total 15", res.Usage)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"content":"hel"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"content":""},"done":true,"done_reason":"stop"}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "llama3.2")
	chunks, errs := a.GenerateStream(context.Background(), domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})

	var content, finish string
	for c := range chunks {
		content += c.Content
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q, want hello", content)
	}
	if finish != "stop" {
		t.Errorf("finish reason = %q, want stop", finish)
	}
}

func TestCapabilitiesAreFree(t *testing.T) {
	a := New("http://localhost:11434", "")
	if got := a.Capabilities().AvgCostPer1K(); got != 0 {
		t.Errorf("avg cost = %v, want 0 for a local model", got)
	}
}
