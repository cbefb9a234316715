package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

// InMemoryUsageRepository keeps usage in process memory. Used when no
// database is configured, and in tests.
type InMemoryUsageRepository struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

func NewInMemory() *InMemoryUsageRepository {
	return &InMemoryUsageRepository{}
}

func (r *InMemoryUsageRepository) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *InMemoryUsageRepository) ProviderUsage(ctx context.Context, provider string, since time.Time) ([]domain.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.UsageRecord
	for _, rec := range r.records {
		if rec.Provider == provider && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *InMemoryUsageRepository) ProviderSpend(ctx context.Context, provider string, since time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total float64
	for _, rec := range r.records {
		if rec.Provider == provider && !rec.CreatedAt.Before(since) {
			total += rec.CostUSD
		}
	}
	return total, nil
}

func (r *InMemoryUsageRepository) SpendByProvider(ctx context.Context, since time.Time) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[string]float64)
	for _, rec := range r.records {
		if !rec.CreatedAt.Before(since) {
			totals[rec.Provider] += rec.CostUSD
		}
	}
	return totals, nil
}
