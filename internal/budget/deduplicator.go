package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertDeduplicator suppresses repeated spend alerts. When several
// router instances share a usage store, each of them sees the same
// overspend on every check; only one should notify.
type AlertDeduplicator interface {
	// ShouldAlert reports whether an alert at this level is new for the
	// provider and records it as sent.
	ShouldAlert(ctx context.Context, provider string, level AlertLevel) bool

	// ClearAlert resets the alert state once spend drops back below the
	// warning threshold, e.g. at the start of a new month.
	ClearAlert(ctx context.Context, provider string)
}

// InMemoryDeduplicator tracks sent alerts in process memory. Suitable
// for single-instance deployments.
type InMemoryDeduplicator struct {
	mu         sync.RWMutex
	lastAlerts map[string]AlertLevel
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, provider string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	lastLevel, exists := d.lastAlerts[provider]
	if exists && lastLevel == level {
		return false
	}

	d.lastAlerts[provider] = level
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, provider string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastAlerts, provider)
}

// RedisDeduplicator coordinates alert state across instances through
// Redis. SETNX makes exactly one instance win the right to notify.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

// NewRedisDeduplicator connects to Redis and verifies the connection.
// lockTTL bounds how long an alert stays suppressed; an hour works well
// for monthly spend limits.
func NewRedisDeduplicator(redisURL string, lockTTL time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}, nil
}

func NewRedisDeduplicatorWithClient(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}
}

func (d *RedisDeduplicator) alertKey(provider string, level AlertLevel) string {
	return fmt.Sprintf("spend:alert:%s:%s", provider, level)
}

func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, provider string, level AlertLevel) bool {
	key := d.alertKey(provider, level)

	acquired, err := d.client.SetNX(ctx, key, time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		// On Redis error, allow the alert (fail open)
		return true
	}

	return acquired
}

func (d *RedisDeduplicator) ClearAlert(ctx context.Context, provider string) {
	pattern := fmt.Sprintf("spend:alert:%s:*", provider)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	d.client.Del(ctx, keys...)
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
