package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic breaker operations. Each script reads and writes
// every key it touches in one execution, so the open to half-open admission
// and the probe claim cannot interleave across instances.

// isOpenScript checks admission and claims the probe slot when eligible.
// Keys: [state, last_failure, probe]
// Args: [reset_window_seconds]
// Returns: "allow" or "block"
var isOpenScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local window = tonumber(ARGV[1])

if state == 'closed' then
    return 'allow'
end

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) > window then
        if redis.call('SET', KEYS[3], '1', 'NX', 'EX', window) then
            redis.call('SET', KEYS[1], 'half-open')
            return 'allow'
        end
    end
    return 'block'
end

if state == 'half-open' then
    if redis.call('SET', KEYS[3], '1', 'NX', 'EX', window) then
        return 'allow'
    end
    return 'block'
end

return 'allow'
`)

// recordSuccessScript closes the breaker and resolves any probe.
// Keys: [state, failures, probe]
// Returns: prior state
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

redis.call('SET', KEYS[1], 'closed')
redis.call('SET', KEYS[2], '0')
redis.call('DEL', KEYS[3])

return state
`)

// recordFailureScript counts a failure and handles transitions.
// Keys: [state, failures, last_failure, probe]
// Args: [failure_threshold]
// Returns: new state
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

local failures = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local threshold = tonumber(ARGV[1])
    if failures >= threshold then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    redis.call('DEL', KEYS[4])
    return 'open'
end

return state
`)

// releaseProbeScript frees the probe slot when a probe ends without an
// outcome, so the next caller can claim a fresh one.
// Keys: [state, probe]
var releaseProbeScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'half-open' then
    redis.call('DEL', KEYS[2])
end

return state
`)

// RedisRegistry implements Registry against Redis so breaker state is
// shared across router instances. On any Redis error it fails open: the
// request is allowed rather than spuriously blocked.
type RedisRegistry struct {
	client *redis.Client
	config Config
}

// NewRedis creates a Redis-backed breaker registry.
func NewRedis(redisURL string, cfg Config) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client, sharing its connection pool.
func NewRedisWithClient(client *redis.Client, cfg Config) *RedisRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultConfig().ResetWindow
	}
	return &RedisRegistry{client: client, config: cfg}
}

func (r *RedisRegistry) keys(provider string) (state, failures, lastFailure, probe string) {
	prefix := "cb:" + provider + ":"
	return prefix + "state", prefix + "failures", prefix + "last_failure", prefix + "probe"
}

func (r *RedisRegistry) IsOpen(ctx context.Context, provider string) bool {
	state, _, lastFailure, probe := r.keys(provider)

	result, err := isOpenScript.Run(ctx, r.client,
		[]string{state, lastFailure, probe},
		int(r.config.ResetWindow.Seconds()),
	).Text()
	if err != nil {
		return false
	}

	// Track the provider name so Health can enumerate it.
	r.client.SAdd(ctx, "cb:providers", provider)

	return result == "block"
}

func (r *RedisRegistry) RecordSuccess(ctx context.Context, provider string) {
	state, failures, _, probe := r.keys(provider)
	recordSuccessScript.Run(ctx, r.client, []string{state, failures, probe})
	r.client.SAdd(ctx, "cb:providers", provider)
}

func (r *RedisRegistry) RecordFailure(ctx context.Context, provider string) {
	state, failures, lastFailure, probe := r.keys(provider)
	recordFailureScript.Run(ctx, r.client,
		[]string{state, failures, lastFailure, probe},
		r.config.FailureThreshold,
	)
	r.client.SAdd(ctx, "cb:providers", provider)
}

func (r *RedisRegistry) ReleaseProbe(ctx context.Context, provider string) {
	state, _, _, probe := r.keys(provider)
	releaseProbeScript.Run(ctx, r.client, []string{state, probe})
}

func (r *RedisRegistry) Health(ctx context.Context) map[string]Health {
	providers, err := r.client.SMembers(ctx, "cb:providers").Result()
	if err != nil {
		return map[string]Health{}
	}

	snapshot := make(map[string]Health, len(providers))
	for _, provider := range providers {
		stateKey, failuresKey, lastFailureKey, _ := r.keys(provider)

		state, err := r.client.Get(ctx, stateKey).Result()
		if err != nil {
			state = StateClosed.String()
		}

		failures, _ := strconv.Atoi(r.client.Get(ctx, failuresKey).Val())

		var lastFailure time.Time
		if ts, err := strconv.ParseInt(r.client.Get(ctx, lastFailureKey).Val(), 10, 64); err == nil && ts > 0 {
			lastFailure = time.Unix(ts, 0)
		}

		snapshot[provider] = Health{
			State:       state,
			Failures:    failures,
			LastFailure: lastFailure,
		}
	}
	return snapshot
}

func (r *RedisRegistry) Reset(ctx context.Context, provider string) error {
	state, failures, lastFailure, probe := r.keys(provider)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, state, "closed", 0)
	pipe.Set(ctx, failures, "0", 0)
	pipe.Del(ctx, lastFailure)
	pipe.Del(ctx, probe)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the underlying Redis client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
