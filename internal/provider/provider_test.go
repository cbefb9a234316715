package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

type tinyAdapter struct {
	caps domain.Capabilities
}

func (a tinyAdapter) Name() string                      { return "tiny" }
func (a tinyAdapter) DefaultModel() string              { return "tiny-1" }
func (a tinyAdapter) Capabilities() domain.Capabilities { return a.caps }

func (a tinyAdapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	return nil, nil
}

func (a tinyAdapter) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamChunk, <-chan error) {
	return nil, nil
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{strings.Repeat("x", 401), 101},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(len=%d) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestEstimateContextTokensIncludesFiles(t *testing.T) {
	req := domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: strings.Repeat("m", 40)}},
		Context: &domain.RequestContext{Files: []domain.ContextFile{
			{Path: "a.go", Content: strings.Repeat("f", 80)},
			{Path: "b.go", Content: strings.Repeat("f", 80)},
		}},
	}
	if got := EstimateContextTokens(req); got != 10+20+20 {
		t.Errorf("EstimateContextTokens = %d, want 50", got)
	}
}

func TestValidateRequest(t *testing.T) {
	a := tinyAdapter{caps: domain.Capabilities{MaxContextTokens: 50}}

	if err := ValidateRequest(a, domain.GenerationRequest{}); err == nil {
		t.Error("empty messages should fail validation")
	}

	ok := domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "short"}},
	}
	if err := ValidateRequest(a, ok); err != nil {
		t.Errorf("ValidateRequest = %v, want nil", err)
	}

	huge := domain.GenerationRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: strings.Repeat("x", 1000)}},
	}
	err := ValidateRequest(a, huge)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("oversized context error = %v, want validation error", err)
	}
}
