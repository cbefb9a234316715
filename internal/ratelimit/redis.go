package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares provider windows across router instances with a
// sorted-set sliding window.
type RedisLimiter struct {
	client *redis.Client
	limits Limits
}

func NewRedis(redisURL string, limits Limits) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{client: client, limits: limits}, nil
}

func NewRedisWithClient(client *redis.Client, limits Limits) *RedisLimiter {
	return &RedisLimiter{client: client, limits: limits}
}

func (l *RedisLimiter) Allow(ctx context.Context, provider string) (bool, time.Time, error) {
	limit := l.limits.limitFor(provider)
	if limit <= 0 {
		return true, time.Time{}, nil
	}

	key := "outbound:" + provider
	now := time.Now()
	windowStart := now.Add(-time.Minute)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, time.Time{}, err
	}

	if int(countCmd.Val()) >= limit {
		return false, now.Add(time.Second), nil
	}

	pipe = l.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, time.Time{}, err
	}

	return true, now.Add(time.Minute), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
