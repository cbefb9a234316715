package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	// Provider credentials and endpoints
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	DeepSeekAPIKey   string
	PerplexityAPIKey string
	OllamaBaseURL    string
	OllamaModel      string
	BedrockEnabled   bool

	// AWS integrations
	AWSRegion           string
	ProviderKeysSecret  string
	SNSTopicArn         string
	SQSRequestQueueURL  string
	SQSResponseQueueURL string

	OTLPEndpoint string

	// Resilience tuning
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	AttemptTimeout   time.Duration
	FailureThreshold int
	BreakerReset     time.Duration

	UseDistributedCircuitBreaker bool

	// Outbound requests per minute, per provider. Zero means unlimited.
	RateLimitDefault     int
	RateLimitPerProvider map[string]int

	// Monthly spend limits in USD. Zero means unmonitored.
	SpendLimitDefault     float64
	SpendLimitPerProvider map[string]float64
	SpendCheckInterval    time.Duration

	CacheTTL      time.Duration
	EncryptionKey string

	AdminKeyHash string

	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		DeepSeekAPIKey:   getEnv("DEEPSEEK_API_KEY", ""),
		PerplexityAPIKey: getEnv("PERPLEXITY_API_KEY", ""),
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", ""),
		OllamaModel:      getEnv("OLLAMA_MODEL", "llama3.2"),
		BedrockEnabled:   getBoolEnv("BEDROCK_ENABLED", false),

		AWSRegion:           getEnv("AWS_REGION", ""),
		ProviderKeysSecret:  getEnv("PROVIDER_KEYS_SECRET", ""),
		SNSTopicArn:         getEnv("SNS_TOPIC_ARN", ""),
		SQSRequestQueueURL:  getEnv("SQS_REQUEST_QUEUE_URL", ""),
		SQSResponseQueueURL: getEnv("SQS_RESPONSE_QUEUE_URL", ""),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		MaxRetries:       getIntEnv("MAX_RETRIES", 3),
		RetryBaseDelay:   getDurationEnv("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getDurationEnv("RETRY_MAX_DELAY", 15*time.Second),
		AttemptTimeout:   getDurationEnv("ATTEMPT_TIMEOUT", 60*time.Second),
		FailureThreshold: getIntEnv("FAILURE_THRESHOLD", 5),
		BreakerReset:     getDurationEnv("BREAKER_RESET", 60*time.Second),

		UseDistributedCircuitBreaker: getBoolEnv("USE_DISTRIBUTED_CB", false),

		RateLimitDefault:     getIntEnv("RATE_LIMIT_DEFAULT", 0),
		RateLimitPerProvider: parseIntMap(getEnv("RATE_LIMIT_PER_PROVIDER", "")),

		SpendLimitDefault:     getFloatEnv("SPEND_LIMIT_DEFAULT", 0),
		SpendLimitPerProvider: parseFloatMap(getEnv("SPEND_LIMIT_PER_PROVIDER", "")),
		SpendCheckInterval:    getDurationEnv("SPEND_CHECK_INTERVAL", 5*time.Minute),

		CacheTTL:      getDurationEnv("CACHE_TTL", 5*time.Minute),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		AdminKeyHash: getEnv("ADMIN_KEY_HASH", ""),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:    getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if cfg.FailureThreshold < 1 {
		return nil, fmt.Errorf("FAILURE_THRESHOLD must be at least 1")
	}
	if cfg.UseDistributedCircuitBreaker && cfg.RedisURL == "" {
		return nil, fmt.Errorf("USE_DISTRIBUTED_CB requires REDIS_URL")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// parseIntMap reads "openai=100,anthropic=50" into a map. Malformed
// entries are skipped.
func parseIntMap(value string) map[string]int {
	if value == "" {
		return nil
	}

	out := make(map[string]int)
	for _, pair := range strings.Split(value, ",") {
		name, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[name] = n
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseFloatMap(value string) map[string]float64 {
	if value == "" {
		return nil
	}

	out := make(map[string]float64)
	for _, pair := range strings.Split(value, ",") {
		name, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[name] = f
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
