// Package router picks the provider and model for each request. Selection is
// capability driven: requests are scored against every registered adapter
// unless an explicit model hint names a provider directly.
package router

import (
	"strings"

	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/provider"
)

// aliasTable maps model-name fragments to provider names. Checked in order;
// first hit wins. Fragments for providers that are not registered simply
// fall through to scoring.
var aliasTable = []struct {
	fragment string
	provider string
}{
	{"claude", "anthropic"},
	{"anthropic", "anthropic"},
	{"gpt", "openai"},
	{"openai", "openai"},
	{"gemini", "google"},
	{"google", "google"},
	{"kimi", "moonshot"},
	{"moonshot", "moonshot"},
	{"deepseek", "deepseek"},
	{"sonar", "perplexity"},
	{"perplexity", "perplexity"},
	{"titan", "bedrock"},
	{"nova", "bedrock"},
	{"bedrock", "bedrock"},
	{"grok", "xai"},
	{"command", "cohere"},
	{"ernie", "baidu"},
	{"qwen", "ollama"},
	{"mistral", "ollama"},
	{"mixtral", "ollama"},
	{"llama", "ollama"},
	{"gemma", "ollama"},
	{"ollama", "ollama"},
}

// providerForModel resolves a model hint to a provider name, or "" when the
// hint matches no known alias.
func providerForModel(model string) string {
	lower := strings.ToLower(model)
	for _, a := range aliasTable {
		if strings.Contains(lower, a.fragment) {
			return a.provider
		}
	}
	return ""
}

// signals captures what a request appears to need, derived from keyword
// inspection of the message text and attached file extensions. Coarse on
// purpose; the scorer only needs direction, not certainty.
type signals struct {
	vision  bool
	speed   bool
	quality bool
	search  bool
	coding  bool
}

var (
	visionKeywords  = []string{"image", "screenshot", "visual", "design", "diagram", "photo"}
	speedKeywords   = []string{"explain", "summarize", "translate", "format", "quick", "briefly"}
	qualityKeywords = []string{"architecture", "design", "complex", "critical", "production", "security"}
	searchKeywords  = []string{"search", "latest", "current", "recent", "news", "today", "up to date"}
	codingKeywords  = []string{"code", "function", "implement", "debug", "refactor", "compile", "bug", "test"}

	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}
)

func detectSignals(req domain.GenerationRequest) signals {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte(' ')
	}
	content := b.String()

	contains := func(keywords []string) bool {
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				return true
			}
		}
		return false
	}

	sig := signals{
		vision:  contains(visionKeywords),
		speed:   contains(speedKeywords),
		quality: contains(qualityKeywords),
		search:  contains(searchKeywords),
		coding:  contains(codingKeywords),
	}

	if !sig.vision && req.Context != nil {
		for _, f := range req.Context.Files {
			lower := strings.ToLower(f.Path)
			for _, ext := range imageExtensions {
				if strings.HasSuffix(lower, ext) {
					sig.vision = true
				}
			}
		}
	}

	return sig
}

// scoreAdapter rates how well an adapter's capabilities fit the request.
// An undersized context window is penalized, not excluded, so a provider
// with too little context can still win when nothing better is registered.
func scoreAdapter(caps domain.Capabilities, contextTokens int, sig signals) float64 {
	var score float64

	if caps.MaxContextTokens >= contextTokens {
		score += 10
	} else {
		score -= 20
	}

	if sig.vision {
		if caps.SupportsVision {
			score += 5
		} else {
			score -= 10
		}
	}

	if sig.speed {
		switch caps.Speed {
		case domain.SpeedFast:
			score += 5
		case domain.SpeedMedium:
			score += 2
		}
	}

	if sig.quality {
		switch caps.Quality {
		case domain.QualityHigh:
			score += 5
		case domain.QualityMedium:
			score += 2
		}
	}

	if sig.search && caps.SupportsSearch {
		score += 15
	}

	if sig.coding {
		if caps.CodeSpecialized {
			score += 10
		} else if caps.Quality == domain.QualityHigh {
			score += 8
		}
	}

	if avg := caps.AvgCostPer1K(); avg > 0 {
		score += (0.01 / avg) * 2
	}

	return score
}

// SelectBestModel picks the provider and model for a request. An explicit
// model hint naming a registered provider wins outright; otherwise every
// registered adapter is scored and the best one is chosen, ties going to
// the earliest registered.
func (r *Router) SelectBestModel(req domain.GenerationRequest) (domain.ModelInfo, error) {
	if len(r.adapters) == 0 {
		return domain.ModelInfo{}, domain.ErrNoProviderAvailable
	}

	if req.Model != "" {
		if name := providerForModel(req.Model); name != "" {
			if a, ok := r.byName[name]; ok {
				return domain.ModelInfo{
					Provider:     name,
					Model:        a.DefaultModel(),
					Capabilities: a.Capabilities(),
				}, nil
			}
		}
	}

	contextTokens := provider.EstimateContextTokens(req)
	sig := detectSignals(req)

	best := r.adapters[0]
	bestScore := scoreAdapter(best.Capabilities(), contextTokens, sig)
	for _, a := range r.adapters[1:] {
		if s := scoreAdapter(a.Capabilities(), contextTokens, sig); s > bestScore {
			best, bestScore = a, s
		}
	}

	return domain.ModelInfo{
		Provider:     best.Name(),
		Model:        best.DefaultModel(),
		Capabilities: best.Capabilities(),
	}, nil
}

// rankCandidates orders every registered adapter by score, best first, for
// fallback execution. A model hint pins its provider to the front with the
// rest ranked behind it.
func (r *Router) rankCandidates(req domain.GenerationRequest) []scored {
	contextTokens := provider.EstimateContextTokens(req)
	sig := detectSignals(req)

	var pinned string
	if req.Model != "" {
		if name := providerForModel(req.Model); name != "" {
			if _, ok := r.byName[name]; ok {
				pinned = name
			}
		}
	}

	ranked := make([]scored, 0, len(r.adapters))
	for _, a := range r.adapters {
		ranked = append(ranked, scored{
			adapter: a,
			score:   scoreAdapter(a.Capabilities(), contextTokens, sig),
		})
	}

	// Insertion-order stable sort keeps first-seen-wins ties.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && better(ranked[j], ranked[j-1], pinned); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}

type scored struct {
	adapter provider.Adapter
	score   float64
}

func better(a, b scored, pinned string) bool {
	if a.adapter.Name() == pinned {
		return b.adapter.Name() != pinned
	}
	if b.adapter.Name() == pinned {
		return false
	}
	return a.score > b.score
}
