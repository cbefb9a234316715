package secrets

import (
	"context"
	"testing"
)

func TestInMemorySecretStoreSetAndGet(t *testing.T) {
	store := NewInMemorySecretStore()
	ctx := context.Background()

	store.SetSecret("api-key", "sk-test-123")

	value, err := store.GetSecret(ctx, "api-key")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if value != "sk-test-123" {
		t.Errorf("GetSecret() = %v, want sk-test-123", value)
	}
}

func TestInMemorySecretStoreNotFound(t *testing.T) {
	store := NewInMemorySecretStore()

	if _, err := store.GetSecret(context.Background(), "nonexistent"); err == nil {
		t.Error("GetSecret() should return error for nonexistent secret")
	}
}

func TestLoadProviderKeys(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("modelrouter/providers", `{
		"openai_api_key": "sk-openai",
		"anthropic_api_key": "sk-ant",
		"deepseek_api_key": "sk-deep"
	}`)

	keys, err := LoadProviderKeys(context.Background(), store, "modelrouter/providers")
	if err != nil {
		t.Fatalf("LoadProviderKeys() error = %v", err)
	}

	if keys.OpenAI != "sk-openai" {
		t.Errorf("OpenAI = %v, want sk-openai", keys.OpenAI)
	}
	if keys.Anthropic != "sk-ant" {
		t.Errorf("Anthropic = %v, want sk-ant", keys.Anthropic)
	}
	if keys.Perplexity != "" {
		t.Errorf("Perplexity = %v, want empty", keys.Perplexity)
	}
}

func TestLoadProviderKeysMissingSecret(t *testing.T) {
	store := NewInMemorySecretStore()

	if _, err := LoadProviderKeys(context.Background(), store, "missing"); err == nil {
		t.Error("LoadProviderKeys() should fail when the secret does not exist")
	}
}

func TestLoadProviderKeysInvalidJSON(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("bad", "not json")

	if _, err := LoadProviderKeys(context.Background(), store, "bad"); err == nil {
		t.Error("LoadProviderKeys() should fail on malformed JSON")
	}
}

func TestProviderKeysMerge(t *testing.T) {
	base := ProviderKeys{OpenAI: "from-secret", Anthropic: "from-secret"}
	override := ProviderKeys{Anthropic: "from-env", DeepSeek: "from-env"}

	merged := base.Merge(override)

	if merged.OpenAI != "from-secret" {
		t.Errorf("OpenAI = %v, want from-secret", merged.OpenAI)
	}
	if merged.Anthropic != "from-env" {
		t.Errorf("Anthropic = %v, want from-env", merged.Anthropic)
	}
	if merged.DeepSeek != "from-env" {
		t.Errorf("DeepSeek = %v, want from-env", merged.DeepSeek)
	}
}
