// Package bedrock routes to Anthropic models hosted on AWS Bedrock. Useful
// as a second path to Claude when the Anthropic API itself is rate limiting
// or down.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/felipepmaragno/modelrouter/internal/domain"
)

const defaultMaxTokens = 4096

type Adapter struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg aws.Config) *Adapter {
	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

func (a *Adapter) Name() string { return "bedrock" }

func (a *Adapter) DefaultModel() string { return "anthropic.claude-3-5-sonnet-20241022-v2:0" }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsVision:    true,
		SupportsStreaming: true,
		MaxContextTokens:  200000,
		CostPer1K:         domain.CostPer1K{Input: 0.003, Output: 0.015},
		Speed:             domain.SpeedMedium,
		Quality:           domain.QualityHigh,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	System           string        `json:"system,omitempty"`
	Messages         []wireMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type wireStreamChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
}

// shortNames lets callers use bare Claude model names without the
// Bedrock-specific id suffixes.
var shortNames = map[string]string{
	"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"claude-3-5-haiku":  "anthropic.claude-3-5-haiku-20241022-v1:0",
	"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
	"claude-3-haiku":    "anthropic.claude-3-haiku-20240307-v1:0",
}

func (a *Adapter) modelID(model string) string {
	if model == "" {
		return a.DefaultModel()
	}
	if mapped, ok := shortNames[model]; ok {
		return mapped
	}
	return model
}

func buildRequest(req domain.GenerationRequest) wireRequest {
	wr := wireRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        defaultMaxTokens,
		Temperature:      req.Temperature,
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

func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	modelID := a.modelID(req.Model)

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classify(err)
	}

	var wr wireResponse
	if err := json.Unmarshal(output.Body, &wr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content string
	for _, block := range wr.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.GenerationResult{
		Content:      content,
		Model:        modelID,
		FinishReason: wr.StopReason,
		Usage: &domain.Usage{
			InputTokens:  wr.Usage.InputTokens,
			OutputTokens: wr.Usage.OutputTokens,
			TotalTokens:  wr.Usage.InputTokens + wr.Usage.OutputTokens,
		},
	}, nil
}

func (a *Adapter) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(buildRequest(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		modelID := a.modelID(req.Model)

		output, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(modelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- classify(err)
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var wc wireStreamChunk
			if err := json.Unmarshal(chunk.Value.Bytes, &wc); err != nil {
				continue
			}

			switch wc.Type {
			case "content_block_delta":
				if wc.Delta == nil {
					continue
				}
				select {
				case chunks <- domain.StreamChunk{Content: wc.Delta.Text, Model: modelID}:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				if wc.Delta == nil || wc.Delta.StopReason == "" {
					continue
				}
				select {
				case chunks <- domain.StreamChunk{Model: modelID, FinishReason: wc.Delta.StopReason}:
				case <-ctx.Done():
					return
				}
			case "message_stop":
				return
			}
		}

		if err := stream.Err(); err != nil {
			errs <- classify(err)
		}
	}()

	return chunks, errs
}

// classify maps SDK error shapes onto the structured kinds the retry layer
// understands.
func classify(err error) error {
	var kind domain.ErrorKind
	switch {
	case isType[*types.ThrottlingException](err):
		kind = domain.ErrKindRateLimited
	case isType[*types.ServiceUnavailableException](err),
		isType[*types.InternalServerException](err),
		isType[*types.ModelNotReadyException](err):
		kind = domain.ErrKindServerError
	case isType[*types.AccessDeniedException](err):
		kind = domain.ErrKindAuth
	case isType[*types.ValidationException](err),
		isType[*types.ResourceNotFoundException](err):
		kind = domain.ErrKindInvalidRequest
	default:
		kind = domain.ErrKindUnknown
	}

	return &domain.ProviderError{
		Provider: "bedrock",
		Kind:     kind,
		Message:  "invoke model",
		Err:      err,
	}
}

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
