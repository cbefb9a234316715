// Package perplexity routes to Perplexity's OpenAI-compatible API. Its
// models run retrieval over live web results, which is why the adapter is
// the only one advertising search support.
package perplexity

import (
	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/provider/openai"
)

const baseURL = "https://api.perplexity.ai"

func New(apiKey string) *openai.Adapter {
	return openai.NewCompatible("perplexity", apiKey, baseURL, "llama-3.1-sonar-large-128k-online", domain.Capabilities{
		SupportsStreaming: true,
		SupportsSearch:    true,
		MaxContextTokens:  127072,
		CostPer1K:         domain.CostPer1K{Input: 0.001, Output: 0.001},
		Speed:             domain.SpeedMedium,
		Quality:           domain.QualityMedium,
	})
}
