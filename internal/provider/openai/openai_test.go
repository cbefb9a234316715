package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"model": "gpt-4-turbo-preview",
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	}))
	defer srv.Close()

	a := New("test-key").WithBaseURL(srv.URL)

	res, err := a.Generate(context.Background(), domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if res.Content != "hi there" {
		t.Errorf("content = %q, want hi there", res.Content)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v, want total 12", res.Usage)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", res.FinishReason)
	}
}

func TestGenerateUsesDefaultModelWhenUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model": "gpt-4-turbo-preview", "choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	a := New("k").WithBaseURL(srv.URL)
	wr := a.buildRequest(domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, false)
	if wr.Model != "gpt-4-turbo-preview" {
		t.Errorf("model = %q, want the default", wr.Model)
	}
}

func TestGenerateClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   domain.ErrorKind
	}{
		{http.StatusTooManyRequests, domain.ErrKindRateLimited},
		{http.StatusUnauthorized, domain.ErrKindAuth},
		{http.StatusBadRequest, domain.ErrKindInvalidRequest},
		{http.StatusInternalServerError, domain.ErrKindServerError},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream says no", tc.status)
			}))
			defer srv.Close()

			a := New("k").WithBaseURL(srv.URL)
			_, err := a.Generate(context.Background(), domain.GenerationRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			})

			var pErr *domain.ProviderError
			if !errors.As(err, &pErr) {
				t.Fatalf("error = %v, want provider error", err)
			}
			if pErr.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", pErr.Kind, tc.kind)
			}
			if pErr.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", pErr.StatusCode, tc.status)
			}
		})
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New("k").WithBaseURL(srv.URL)
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

func TestGenerateStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New("k").WithBaseURL(srv.URL)
	chunks, errs := a.GenerateStream(context.Background(), domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	for range chunks {
	}

	err := <-errs
	var pErr *domain.ProviderError
	if !errors.As(err, &pErr) || pErr.Kind != domain.ErrKindServerError {
		t.Fatalf("error = %v, want server error kind", err)
	}
}
