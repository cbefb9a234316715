// Package ollama talks to a local Ollama daemon. No API key, no billing,
// which makes it the natural last-resort fallback when hosted providers
// are down.
package ollama

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

type Adapter struct {
	baseURL string
	model   string
	client  *http.Client
}

func New(baseURL, model string) *Adapter {
	if model == "" {
		model = "llama3.2"
	}
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  httputil.DefaultClient(),
	}
}

func (a *Adapter) Name() string { return "ollama" }

func (a *Adapter) DefaultModel() string { return a.model }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsStreaming: true,
		MaxContextTokens:  8192,
		CostPer1K:         domain.CostPer1K{},
		Speed:             domain.SpeedFast,
		Quality:           domain.QualityLow,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type wireResponse struct {
	Model   string      `json:"model"`
	Message wireMessage `json:"message"`
	Done    bool        `json:"done"`
	// Populated on the final message only.
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (a *Adapter) buildRequest(req domain.GenerationRequest, stream bool) wireRequest {
	model := req.Model
	if model == "" {
		model = a.model
	}
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	wr := wireRequest{Model: model, Messages: msgs, Stream: stream}
	if req.Temperature != nil || req.MaxTokens != nil {
		wr.Options = &wireOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return wr
}

func (a *Adapter) post(ctx context.Context, wr wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: "ollama",
			Kind:     domain.ErrKindTransport,
			Message:  "do request",
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &domain.ProviderError{
			Provider:   "ollama",
			Kind:       domain.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(bodyBytes)),
		}
	}

	return resp, nil
}

func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	resp, err := a.post(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &domain.GenerationResult{
		Content:      wr.Message.Content,
		Model:        wr.Model,
		FinishReason: wr.DoneReason,
		Usage: &domain.Usage{
			InputTokens:  wr.PromptEvalCount,
			OutputTokens: wr.EvalCount,
			TotalTokens:  wr.PromptEvalCount + wr.EvalCount,
		},
	}, nil
}

// GenerateStream reads Ollama's newline-delimited JSON stream.
func (a *Adapter) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := a.post(ctx, a.buildRequest(req, true))
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var wr wireResponse
			if err := json.Unmarshal(scanner.Bytes(), &wr); err != nil {
				continue
			}

			chunk := domain.StreamChunk{Content: wr.Message.Content, Model: wr.Model}
			if wr.Done {
				chunk.FinishReason = wr.DoneReason
				if chunk.FinishReason == "" {
					chunk.FinishReason = "stop"
				}
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}

			if wr.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- &domain.ProviderError{
				Provider: "ollama",
				Kind:     domain.ErrKindTransport,
				Message:  "scan stream",
				Err:      err,
			}
		}
	}()

	return chunks, errs
}
