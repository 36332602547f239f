// Package store persists strategies, their conditions, and trigger logs
// to Postgres via pgx, following the base repo's connection-pool and
// migration conventions.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store wraps a pgx connection pool.
type Store struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Config configures the pool backing a Store.
type Config struct {
	URL string
}

func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parsing connection string: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("store: creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	return &Store{Pool: pool, log: log.With().Str("component", "store").Logger()}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: health check failed: %w", err)
	}
	return nil
}

// migrations is an ordered list of idempotent schema statements, run in
// sequence by RunMigrations.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS strategies (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '5m',
		logic_tree JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_run_at TIMESTAMP,
		last_triggered_at TIMESTAMP,
		trigger_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategies_status ON strategies(status)`,
	`CREATE TABLE IF NOT EXISTS strategy_conditions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		strategy_id UUID NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		payload JSONB NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_conditions_strategy_id ON strategy_conditions(strategy_id)`,
	`CREATE TABLE IF NOT EXISTS strategy_trigger_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		strategy_id UUID NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
		triggered_at TIMESTAMP NOT NULL DEFAULT NOW(),
		snapshot JSONB NOT NULL,
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_trigger_logs_strategy_id ON strategy_trigger_logs(strategy_id)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_trigger_logs_triggered_at ON strategy_trigger_logs(triggered_at)`,
}

func (s *Store) RunMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration %d failed: %w", i, err)
		}
	}
	return nil
}
