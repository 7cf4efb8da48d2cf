// Package database opens the Postgres pool or the embedded SQLite handle and
// creates the cases table. The migration lives in code so a fresh container
// or test can bootstrap itself.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the cases table if needed. The analysis document is
// TEXT rather than JSONB so key order survives a round trip.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS cases (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	settlement_filename TEXT NOT NULL,
	settlement_path TEXT NOT NULL,
	settlement_media_type TEXT NOT NULL,
	bid_filename TEXT,
	bid_path TEXT,
	bid_media_type TEXT,
	has_bid BOOLEAN NOT NULL DEFAULT FALSE,
	settlement_text TEXT,
	bid_text TEXT,
	analysis_json TEXT,
	analysis_status TEXT NOT NULL DEFAULT 'pending',
	analysis_error TEXT,
	analysis_issues TEXT[],
	analysis_started_at TIMESTAMPTZ,
	case_name TEXT,
	case_number TEXT,
	jurisdiction TEXT,
	settlement_type TEXT,
	CONSTRAINT cases_bid_complete CHECK (
		(has_bid AND bid_filename IS NOT NULL AND bid_path IS NOT NULL AND bid_media_type IS NOT NULL)
		OR (NOT has_bid AND bid_filename IS NULL AND bid_path IS NULL AND bid_media_type IS NULL)
	)
);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(analysis_status);
CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at DESC);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
