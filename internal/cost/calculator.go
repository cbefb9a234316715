// Package cost prices completed calls. Known models have exact per-model
// rates; anything else falls back to the owning provider's capability-level
// average rates so no call goes unpriced.
package cost

import (
	"github.com/felipepmaragno/modelrouter/internal/domain"
)

type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

var defaultPricing = map[string]ModelPricing{
	"gpt-4":                              {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-4-turbo-preview":                {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4o":                             {InputPer1K: 0.005, OutputPer1K: 0.015},
	"gpt-4o-mini":                        {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"claude-3-5-sonnet-20241022":         {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku-20241022":          {InputPer1K: 0.001, OutputPer1K: 0.005},
	"claude-3-opus-20240229":             {InputPer1K: 0.015, OutputPer1K: 0.075},
	"deepseek-chat":                      {InputPer1K: 0.00014, OutputPer1K: 0.00028},
	"llama-3.1-sonar-large-128k-online":  {InputPer1K: 0.001, OutputPer1K: 0.001},
	"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
}

type Calculator struct {
	pricing map[string]ModelPricing
}

func NewCalculator() *Calculator {
	pricing := make(map[string]ModelPricing, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &Calculator{pricing: pricing}
}

// Calculate prices a call against the per-model table, keyed exactly.
// Unknown models cost zero here; use Cost for capability fallback.
func (c *Calculator) Calculate(model string, usage domain.Usage) float64 {
	pricing, ok := c.pricing[model]
	if !ok {
		return 0
	}
	return price(pricing, usage)
}

// Cost implements the router's estimator: exact table rate when the model
// is known, otherwise the provider's advertised capability rates.
func (c *Calculator) Cost(model string, caps domain.Capabilities, usage *domain.Usage) float64 {
	if usage == nil {
		return 0
	}
	if pricing, ok := c.pricing[model]; ok {
		return price(pricing, *usage)
	}
	return price(ModelPricing{
		InputPer1K:  caps.CostPer1K.Input,
		OutputPer1K: caps.CostPer1K.Output,
	}, *usage)
}

func (c *Calculator) SetPricing(model string, pricing ModelPricing) {
	c.pricing[model] = pricing
}

func price(p ModelPricing, usage domain.Usage) float64 {
	inputCost := float64(usage.InputTokens) / 1000 * p.InputPer1K
	outputCost := float64(usage.OutputTokens) / 1000 * p.OutputPer1K
	return inputCost + outputCost
}
