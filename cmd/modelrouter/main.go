package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/api"
	"github.com/felipepmaragno/modelrouter/internal/auth"
	"github.com/felipepmaragno/modelrouter/internal/budget"
	"github.com/felipepmaragno/modelrouter/internal/cache"
	"github.com/felipepmaragno/modelrouter/internal/circuitbreaker"
	"github.com/felipepmaragno/modelrouter/internal/config"
	"github.com/felipepmaragno/modelrouter/internal/cost"
	"github.com/felipepmaragno/modelrouter/internal/crypto"
	"github.com/felipepmaragno/modelrouter/internal/notifications"
	"github.com/felipepmaragno/modelrouter/internal/provider"
	"github.com/felipepmaragno/modelrouter/internal/provider/anthropic"
	"github.com/felipepmaragno/modelrouter/internal/provider/bedrock"
	"github.com/felipepmaragno/modelrouter/internal/provider/deepseek"
	"github.com/felipepmaragno/modelrouter/internal/provider/ollama"
	"github.com/felipepmaragno/modelrouter/internal/provider/openai"
	"github.com/felipepmaragno/modelrouter/internal/provider/perplexity"
	"github.com/felipepmaragno/modelrouter/internal/queue"
	"github.com/felipepmaragno/modelrouter/internal/ratelimit"
	"github.com/felipepmaragno/modelrouter/internal/repository"
	"github.com/felipepmaragno/modelrouter/internal/resilience"
	"github.com/felipepmaragno/modelrouter/internal/router"
	"github.com/felipepmaragno/modelrouter/internal/secrets"
	"github.com/felipepmaragno/modelrouter/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting model router", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "modelrouter", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	keys := providerKeys(ctx, cfg)
	adapters := buildAdapters(ctx, cfg, keys)
	if len(adapters) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicArn != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Error("failed to init SNS notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("using SNS notifications", "topic", cfg.SNSTopicArn)
	}

	breakers := buildBreakers(cfg, notifier)
	executor := buildExecutor(cfg, breakers)

	opts := []router.RouterOption{
		router.WithCostEstimator(cost.NewCalculator()),
		router.WithCache(cache.NewResponseCache(buildCacheStore(cfg), cfg.CacheTTL)),
	}

	var usageRepo *repository.PostgresUsageRepository
	if cfg.DatabaseURL != "" {
		usageRepo, err = repository.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := usageRepo.Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		opts = append(opts, router.WithUsageRecorder(usageRepo))
		slog.Info("usage tracking enabled")
	}

	rt := router.New(adapters, executor, opts...)

	var spendReader budget.SpendReader
	if usageRepo != nil {
		spendReader = usageRepo
		startSpendMonitor(ctx, cfg, usageRepo, notifier)
	}

	if cfg.SQSRequestQueueURL != "" {
		q, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSRequestQueueURL, cfg.SQSResponseQueueURL)
		if err != nil {
			slog.Error("failed to init SQS queue", "error", err)
			os.Exit(1)
		}
		go queue.NewWorker(q, rt).Run(ctx)
		slog.Info("async worker started", "queue", cfg.SQSRequestQueueURL)
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.NewHandler(rt))

	adminAuth := auth.NewAdminAuth(cfg.AdminKeyHash)
	mux.Handle("/admin/", adminAuth.Middleware(api.NewAdminHandler(rt, spendReader)))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	if usageRepo != nil {
		usageRepo.Close()
	}

	slog.Info("server stopped")
}

// providerKeys merges Secrets Manager credentials with environment
// overrides. The secret is optional; env-only setups work unchanged.
func providerKeys(ctx context.Context, cfg *config.Config) secrets.ProviderKeys {
	envKeys := secrets.ProviderKeys{
		OpenAI:     cfg.OpenAIAPIKey,
		Anthropic:  cfg.AnthropicAPIKey,
		DeepSeek:   cfg.DeepSeekAPIKey,
		Perplexity: cfg.PerplexityAPIKey,
	}

	if cfg.ProviderKeysSecret == "" {
		return envKeys
	}

	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Error("failed to init secrets manager", "error", err)
		os.Exit(1)
	}

	stored, err := secrets.LoadProviderKeys(ctx, store, cfg.ProviderKeysSecret)
	if err != nil {
		slog.Error("failed to load provider keys", "error", err, "secret", cfg.ProviderKeysSecret)
		os.Exit(1)
	}

	slog.Info("provider keys loaded from secrets manager", "secret", cfg.ProviderKeysSecret)
	return stored.Merge(envKeys)
}

func buildAdapters(ctx context.Context, cfg *config.Config, keys secrets.ProviderKeys) []provider.Adapter {
	var adapters []provider.Adapter

	register := func(name string, a provider.Adapter) {
		adapters = append(adapters, a)
		slog.Info("registered provider", "provider", name)
	}

	if keys.OpenAI != "" {
		register("openai", openai.New(keys.OpenAI).WithBaseURL(cfg.OpenAIBaseURL))
	}
	if keys.Anthropic != "" {
		register("anthropic", anthropic.New(keys.Anthropic))
	}
	if keys.DeepSeek != "" {
		register("deepseek", deepseek.New(keys.DeepSeek))
	}
	if keys.Perplexity != "" {
		register("perplexity", perplexity.New(keys.Perplexity))
	}
	if cfg.BedrockEnabled {
		a, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init bedrock", "error", err)
			os.Exit(1)
		}
		register("bedrock", a)
	}
	if cfg.OllamaBaseURL != "" {
		register("ollama", ollama.New(cfg.OllamaBaseURL, cfg.OllamaModel))
	}

	return adapters
}

func buildBreakers(cfg *config.Config, notifier notifications.Notifier) circuitbreaker.Registry {
	bcfg := circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		ResetWindow:      cfg.BreakerReset,
	}

	var opts []circuitbreaker.Option
	if notifier != nil {
		opts = append(opts, circuitbreaker.WithStateChangeFunc(notifications.BreakerStateChange(notifier)))
	}

	if cfg.UseDistributedCircuitBreaker {
		reg, err := circuitbreaker.NewRedis(cfg.RedisURL, bcfg)
		if err != nil {
			slog.Error("failed to connect to redis for circuit breakers", "error", err)
			os.Exit(1)
		}
		slog.Info("using distributed circuit breakers")
		return reg
	}

	return circuitbreaker.NewInMemory(bcfg, opts...)
}

func buildExecutor(cfg *config.Config, breakers circuitbreaker.Registry) *resilience.Executor {
	retry := resilience.RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		Jitter:         true,
		AttemptTimeout: cfg.AttemptTimeout,
	}

	var opts []resilience.Option
	if cfg.RateLimitDefault > 0 || len(cfg.RateLimitPerProvider) > 0 {
		limits := ratelimit.Limits{
			PerProvider: cfg.RateLimitPerProvider,
			Default:     cfg.RateLimitDefault,
		}

		var limiter ratelimit.Limiter
		if cfg.RedisURL != "" {
			redisLimiter, err := ratelimit.NewRedis(cfg.RedisURL, limits)
			if err != nil {
				slog.Error("failed to connect to redis for rate limiting", "error", err)
				os.Exit(1)
			}
			limiter = redisLimiter
			slog.Info("using redis outbound rate limiter")
		} else {
			limiter = ratelimit.NewInMemory(limits)
			slog.Info("using in-memory outbound rate limiter")
		}

		opts = append(opts, resilience.WithPacer(ratelimit.NewPacer(limiter)))
	}

	return resilience.NewExecutor(breakers, retry, opts...)
}

func buildCacheStore(cfg *config.Config) cache.Store {
	if cfg.RedisURL == "" {
		slog.Info("using in-memory response cache")
		return cache.NewInMemoryStore()
	}

	store, err := cache.NewRedisStore(cfg.RedisURL)
	if err != nil {
		slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
		return cache.NewInMemoryStore()
	}

	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid encryption key", "error", err)
			os.Exit(1)
		}
		store = store.WithEncryptor(enc)
		slog.Info("using encrypted redis response cache")
	} else {
		slog.Info("using redis response cache")
	}

	return store
}

func startSpendMonitor(ctx context.Context, cfg *config.Config, reader budget.SpendReader, notifier notifications.Notifier) {
	if cfg.SpendLimitDefault <= 0 && len(cfg.SpendLimitPerProvider) == 0 {
		return
	}

	var dedup budget.AlertDeduplicator
	if cfg.RedisURL != "" {
		redisDedup, err := budget.NewRedisDeduplicator(cfg.RedisURL, time.Hour)
		if err != nil {
			slog.Warn("failed to init redis alert dedup, using in-memory", "error", err)
		} else {
			dedup = redisDedup
		}
	}

	monitor := budget.NewMonitor(reader, budget.Limits{
		PerProvider: cfg.SpendLimitPerProvider,
		Default:     cfg.SpendLimitDefault,
	}, budget.DefaultThresholds(), dedup)

	monitor.OnAlert(budget.LogAlertHandler)
	if notifier != nil {
		monitor.OnAlert(notifications.SpendAlertHandler(notifier))
	}

	go monitor.Run(ctx, cfg.SpendCheckInterval)
	slog.Info("spend monitoring enabled", "interval", cfg.SpendCheckInterval)
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
