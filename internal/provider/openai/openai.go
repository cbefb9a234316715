// Package openai talks to the OpenAI chat completions API. The same wire
// format is served by several other vendors, so the adapter is parameterized
// and reused by their packages.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/httputil"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Adapter struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	caps         domain.Capabilities
	client       *http.Client
}

func New(apiKey string) *Adapter {
	return NewCompatible("openai", apiKey, defaultBaseURL, "gpt-4-turbo-preview", domain.Capabilities{
		SupportsVision:          true,
		SupportsFunctionCalling: true,
		SupportsStreaming:       true,
		MaxContextTokens:        128000,
		CostPer1K:               domain.CostPer1K{Input: 0.01, Output: 0.03},
		Speed:                   domain.SpeedMedium,
		Quality:                 domain.QualityHigh,
	})
}

// NewCompatible builds an adapter for any OpenAI-wire-compatible endpoint.
func NewCompatible(name, apiKey, baseURL, defaultModel string, caps domain.Capabilities) *Adapter {
	return &Adapter{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		caps:         caps,
		client:       httputil.DefaultClient(),
	}
}

// WithBaseURL overrides the endpoint, mainly for tests.
func (a *Adapter) WithBaseURL(baseURL string) *Adapter {
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

func (a *Adapter) Name() string                      { return a.name }
func (a *Adapter) DefaultModel() string              { return a.defaultModel }
func (a *Adapter) Capabilities() domain.Capabilities { return a.caps }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type wireStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *Adapter) buildRequest(req domain.GenerationRequest, stream bool) wireRequest {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return wireRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (a *Adapter) post(ctx context.Context, wr wireRequest, sse bool) (*http.Response, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if sse {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: a.name,
			Kind:     domain.ErrKindTransport,
			Message:  "do request",
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &domain.ProviderError{
			Provider:   a.name,
			Kind:       domain.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(bodyBytes)),
		}
	}

	return resp, nil
}

func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	resp, err := a.post(ctx, a.buildRequest(req, false), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return nil, domain.NewProviderError(a.name, domain.ErrKindUnknown, "response contained no choices")
	}

	choice := wr.Choices[0]
	return &domain.GenerationResult{
		Content:      choice.Message.Content,
		Model:        wr.Model,
		FinishReason: choice.FinishReason,
		Usage: &domain.Usage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
			TotalTokens:  wr.Usage.TotalTokens,
		},
	}, nil
}

func (a *Adapter) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := a.post(ctx, a.buildRequest(req, true), true)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk wireStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			select {
			case chunks <- domain.StreamChunk{
				Content:      chunk.Choices[0].Delta.Content,
				Model:        chunk.Model,
				FinishReason: chunk.Choices[0].FinishReason,
			}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- &domain.ProviderError{
				Provider: a.name,
				Kind:     domain.ErrKindTransport,
				Message:  "scan stream",
				Err:      err,
			}
		}
	}()

	return chunks, errs
}
