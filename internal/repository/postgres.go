// Package repository persists usage records to Postgres for cost reporting
// and provider spend tracking.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id            UUID PRIMARY KEY,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      DOUBLE PRECISION NOT NULL,
	latency_ms    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_provider_created ON usage_records (provider, created_at);
`

type PostgresUsageRepository struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*PostgresUsageRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresWithDB(db), nil
}

func NewPostgresWithDB(db *sql.DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

// Migrate creates the usage table when it does not exist yet.
func (r *PostgresUsageRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate usage schema: %w", err)
	}
	return nil
}

func (r *PostgresUsageRepository) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO usage_records (id, provider, model, input_tokens, output_tokens, cost_usd, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Provider,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.LatencyMs,
		rec.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			// Replays of the same record are harmless.
			return nil
		}
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (r *PostgresUsageRepository) ProviderUsage(ctx context.Context, provider string, since time.Time) ([]domain.UsageRecord, error) {
	query := `
		SELECT id, provider, model, input_tokens, output_tokens, cost_usd, latency_ms, created_at
		FROM usage_records
		WHERE provider = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, provider, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Provider,
			&rec.Model,
			&rec.InputTokens,
			&rec.OutputTokens,
			&rec.CostUSD,
			&rec.LatencyMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ProviderSpend sums cost for one provider since the given time.
func (r *PostgresUsageRepository) ProviderSpend(ctx context.Context, provider string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE provider = $1 AND created_at >= $2
	`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, provider, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query provider spend: %w", err)
	}
	return total, nil
}

// SpendByProvider sums cost per provider since the given time.
func (r *PostgresUsageRepository) SpendByProvider(ctx context.Context, since time.Time) (map[string]float64, error) {
	query := `
		SELECT provider, COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE created_at >= $1
		GROUP BY provider
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query spend by provider: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var provider string
		var total float64
		if err := rows.Scan(&provider, &total); err != nil {
			return nil, fmt.Errorf("scan spend row: %w", err)
		}
		totals[provider] = total
	}
	return totals, rows.Err()
}

func (r *PostgresUsageRepository) Close() error {
	return r.db.Close()
}
