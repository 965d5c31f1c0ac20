// Package pgstore writes step events to PostgreSQL for teams that collect
// repair telemetry centrally.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/mender/internal/steplog"
)

const schema = `
CREATE TABLE IF NOT EXISTS step_events (
    id             TEXT PRIMARY KEY,
    run_id         TEXT NOT NULL,
    item           TEXT NOT NULL,
    iteration      INTEGER NOT NULL DEFAULT 0,
    ts             TIMESTAMPTZ NOT NULL,
    component      TEXT NOT NULL,
    action         TEXT NOT NULL,
    input_summary  TEXT,
    output_summary TEXT,
    status         TEXT NOT NULL,
    detail         TEXT
);
CREATE INDEX IF NOT EXISTS idx_step_events_run ON step_events (run_id, item);
`

// Store is a pooled Postgres step sink.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the step_events table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Log inserts r. It satisfies steplog.Sink.
func (s *Store) Log(ctx context.Context, r steplog.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_events (id, run_id, item, iteration, ts, component, action, input_summary, output_summary, status, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.RunID, r.Item, r.Iteration, r.Timestamp,
		r.Component, r.Action, r.InputSummary, r.OutputSummary, r.Status, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert step event: %w", err)
	}
	return nil
}

// Count returns the number of step events stored for a run.
func (s *Store) Count(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM step_events WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count step events: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
