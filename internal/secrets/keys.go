package secrets

import (
	"context"
	"fmt"
)

// ProviderKeys is the JSON shape of the provider credential secret.
// Empty fields leave the corresponding provider unconfigured.
type ProviderKeys struct {
	OpenAI     string `json:"openai_api_key,omitempty"`
	Anthropic  string `json:"anthropic_api_key,omitempty"`
	DeepSeek   string `json:"deepseek_api_key,omitempty"`
	Perplexity string `json:"perplexity_api_key,omitempty"`
}

// LoadProviderKeys reads the provider credential secret. A missing
// secret is an error; a present secret with empty fields is not.
func LoadProviderKeys(ctx context.Context, store SecretStore, secretName string) (ProviderKeys, error) {
	var keys ProviderKeys
	if err := store.GetSecretJSON(ctx, secretName, &keys); err != nil {
		return ProviderKeys{}, fmt.Errorf("load provider keys: %w", err)
	}
	return keys, nil
}

// Merge overlays non-empty fields from other on top of k. Environment
// variables win over the secret store so local overrides stay possible.
func (k ProviderKeys) Merge(other ProviderKeys) ProviderKeys {
	if other.OpenAI != "" {
		k.OpenAI = other.OpenAI
	}
	if other.Anthropic != "" {
		k.Anthropic = other.Anthropic
	}
	if other.DeepSeek != "" {
		k.DeepSeek = other.DeepSeek
	}
	if other.Perplexity != "" {
		k.Perplexity = other.Perplexity
	}
	return k
}
