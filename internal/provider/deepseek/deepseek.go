// Package deepseek routes to DeepSeek's OpenAI-compatible API. Cheap and
// tuned for code, so the scorer favors it for coding-flavored requests.
package deepseek

import (
	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/provider/openai"
)

const baseURL = "https://api.deepseek.com"

func New(apiKey string) *openai.Adapter {
	return openai.NewCompatible("deepseek", apiKey, baseURL, "deepseek-chat", domain.Capabilities{
		SupportsFunctionCalling: true,
		SupportsStreaming:       true,
		CodeSpecialized:         true,
		MaxContextTokens:        64000,
		CostPer1K:               domain.CostPer1K{Input: 0.00014, Output: 0.00028},
		Speed:                   domain.SpeedFast,
		Quality:                 domain.QualityMedium,
	})
}
