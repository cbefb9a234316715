// Package cache stores completed generations so identical deterministic
// requests skip the upstream call entirely. Backends: in-memory for a single
// instance, Redis when several router instances share traffic.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/crypto"
	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Store is a TTL'd key-value backend for serialized results.
type Store interface {
	Get(ctx context.Context, key string) (*domain.GenerationResult, bool)
	Set(ctx context.Context, key string, res *domain.GenerationResult, ttl time.Duration) error
}

// Key hashes the request fields that determine the answer: model, messages,
// sampling parameters, and attached context.
func Key(req domain.GenerationRequest) string {
	data, _ := json.Marshal(struct {
		Model       string                 `json:"model"`
		Messages    []domain.Message       `json:"messages"`
		Temperature *float64               `json:"temperature,omitempty"`
		MaxTokens   *int                   `json:"max_tokens,omitempty"`
		Context     *domain.RequestContext `json:"context,omitempty"`
	}{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Context:     req.Context,
	})

	hash := sha256.Sum256(data)
	return "gen:" + hex.EncodeToString(hash[:])
}

// ResponseCache adapts a Store to request-keyed lookups with one shared TTL.
type ResponseCache struct {
	store Store
	ttl   time.Duration
}

func NewResponseCache(store Store, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResponseCache{store: store, ttl: ttl}
}

func (c *ResponseCache) Get(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, bool) {
	return c.store.Get(ctx, Key(req))
}

func (c *ResponseCache) Set(ctx context.Context, req domain.GenerationRequest, res *domain.GenerationResult) {
	// Cache failures are invisible to callers.
	_ = c.store.Set(ctx, Key(req), res, c.ttl)
}

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]*item
}

type item struct {
	result    *domain.GenerationResult
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{items: make(map[string]*item)}
	go s.cleanup()
	return s
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (*domain.GenerationResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}
	return it.result, true
}

func (s *InMemoryStore) Set(ctx context.Context, key string, res *domain.GenerationResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &item{result: res, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, it := range s.items {
			if now.After(it.expiresAt) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
}

type RedisStore struct {
	client *redis.Client
	enc    *crypto.Encryptor
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// WithEncryptor seals cached values before they reach Redis, for
// deployments where the cache holds sensitive prompts.
func (s *RedisStore) WithEncryptor(enc *crypto.Encryptor) *RedisStore {
	s.enc = enc
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.GenerationResult, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	if s.enc != nil {
		data, err = s.enc.Decrypt(string(data))
		if err != nil {
			return nil, false
		}
	}

	var res domain.GenerationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (s *RedisStore) Set(ctx context.Context, key string, res *domain.GenerationResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}

	if s.enc != nil {
		sealed, err := s.enc.Encrypt(data)
		if err != nil {
			return err
		}
		return s.client.Set(ctx, key, sealed, ttl).Err()
	}

	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
