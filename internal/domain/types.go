package domain

import "time"

// Role identifies the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Speed is a provider's relative latency tier.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

// Quality is a provider's relative output quality tier.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// CostPer1K holds a provider's USD price per 1000 tokens.
type CostPer1K struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Capabilities describes what a provider adapter can do. It is set once at
// adapter construction and never mutated.
type Capabilities struct {
	SupportsVision          bool      `json:"supports_vision"`
	SupportsFunctionCalling bool      `json:"supports_function_calling"`
	SupportsStreaming       bool      `json:"supports_streaming"`
	SupportsSearch          bool      `json:"supports_search"`
	CodeSpecialized         bool      `json:"code_specialized"`
	MaxContextTokens        int       `json:"max_context_tokens"`
	CostPer1K               CostPer1K `json:"cost_per_1k_tokens"`
	Speed                   Speed     `json:"speed"`
	Quality                 Quality   `json:"quality"`
}

// AvgCostPer1K returns the mean of input and output pricing, used by the
// scorer's cost-efficiency term.
func (c Capabilities) AvgCostPer1K() float64 {
	return (c.CostPer1K.Input + c.CostPer1K.Output) / 2
}

// Message is a single turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ContextFile is an auxiliary file attached to a request. Only its size and
// extension participate in routing; content is forwarded verbatim.
type ContextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RequestContext carries auxiliary codebase context for a request.
type RequestContext struct {
	Files []ContextFile `json:"files,omitempty"`
}

// GenerationRequest is a normalized completion request. Immutable per call.
type GenerationRequest struct {
	Messages    []Message       `json:"messages"`
	Model       string          `json:"model,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Context     *RequestContext `json:"context,omitempty"`

	// SkipCache bypasses the response cache for this request. Set from
	// the X-Skip-Cache header, never from the body.
	SkipCache bool `json:"-"`
}

// WithModel returns a copy of the request with the model hint replaced.
// Used by the fallback orchestrator for per-candidate model overrides.
func (r GenerationRequest) WithModel(model string) GenerationRequest {
	r.Model = model
	return r
}

// Usage holds token counts reported by a provider, when available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// GenerationResult is a successful completion. Attempts and LatencyMs are
// filled in by the resilient executor; ProvidersAttempted and TotalAttempts
// by the fallback orchestrator when more than one candidate was involved.
type GenerationResult struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`

	Attempts           int     `json:"attempts,omitempty"`
	LatencyMs          int64   `json:"latency_ms,omitempty"`
	ProvidersAttempted int     `json:"providers_attempted,omitempty"`
	TotalAttempts      int     `json:"total_attempts,omitempty"`
	CostUSD            float64 `json:"cost_usd,omitempty"`
}

// StreamChunk is one increment of a streaming completion.
type StreamChunk struct {
	Content      string `json:"content,omitempty"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ModelInfo is the scorer's selection: a provider, its default (or hinted)
// model, and the capabilities the decision was based on.
type ModelInfo struct {
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Capabilities Capabilities `json:"capabilities"`
}

// UsageRecord is one persisted row of provider usage for cost reporting.
type UsageRecord struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
