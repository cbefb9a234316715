// Package anthropic talks to the Anthropic messages API.
package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	// The API rejects requests without max_tokens.
	defaultMaxTokens = 4096
)

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey string) *Adapter {
	return &Adapter{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  httputil.DefaultClient(),
	}
}

func (a *Adapter) WithBaseURL(baseURL string) *Adapter {
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) DefaultModel() string { return "claude-3-5-sonnet-20241022" }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsVision:          true,
		SupportsFunctionCalling: true,
		SupportsStreaming:       true,
		MaxContextTokens:        200000,
		CostPer1K:               domain.CostPer1K{Input: 0.003, Output: 0.015},
		Speed:                   domain.SpeedFast,
		Quality:                 domain.QualityHigh,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// buildRequest maps the request onto Anthropic's shape: system messages are
// hoisted into the top-level system field, the rest alternate as-is.
func (a *Adapter) buildRequest(req domain.GenerationRequest, stream bool) wireRequest {
	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}

	wr := wireRequest{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.MaxTokens != nil {
		wr.MaxTokens = *req.MaxTokens
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			if wr.System != "" {
				wr.System += "\n"
			}
			wr.System += m.Content
			continue
		}
		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return wr
}

func (a *Adapter) post(ctx context.Context, wr wireRequest, sse bool) (*http.Response, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if sse {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: "anthropic",
			Kind:     domain.ErrKindTransport,
			Message:  "do request",
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &domain.ProviderError{
			Provider:   "anthropic",
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

	var content strings.Builder
	for _, block := range wr.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &domain.GenerationResult{
		Content:      content.String(),
		Model:        wr.Model,
		FinishReason: wr.StopReason,
		Usage: &domain.Usage{
			InputTokens:  wr.Usage.InputTokens,
			OutputTokens: wr.Usage.OutputTokens,
			TotalTokens:  wr.Usage.InputTokens + wr.Usage.OutputTokens,
		},
	}, nil
}

type wireStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

func (a *Adapter) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		wr := a.buildRequest(req, true)

		resp, err := a.post(ctx, wr, true)
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

			var event wireStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			var chunk domain.StreamChunk
			switch event.Type {
			case "content_block_delta":
				chunk = domain.StreamChunk{Content: event.Delta.Text, Model: wr.Model}
			case "message_delta":
				if event.Delta.StopReason == "" {
					continue
				}
				chunk = domain.StreamChunk{Model: wr.Model, FinishReason: event.Delta.StopReason}
			case "message_stop":
				return
			default:
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- &domain.ProviderError{
				Provider: "anthropic",
				Kind:     domain.ErrKindTransport,
				Message:  "scan stream",
				Err:      err,
			}
		}
	}()

	return chunks, errs
}
