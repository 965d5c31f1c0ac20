package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lucasnoah/mender/internal/steplog"
)

// RepairRun is a row in the repair_runs table.
type RepairRun struct {
	ID             int
	RunID          string
	Item           string
	Status         string
	Iterations     int
	MaxIterations  int
	LastDiagnostic string
	Artifact       string
	DocCreated     bool
	DurationMs     int64
	FinishedAt     string
}

// Log inserts a step record. It satisfies steplog.Sink.
func (d *DB) Log(ctx context.Context, r steplog.Record) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO step_events (id, run_id, item, iteration, timestamp, component, action, input_summary, output_summary, status, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Item, r.Iteration, r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Component, r.Action, r.InputSummary, r.OutputSummary, r.Status, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("log step event: %w", err)
	}
	return nil
}

// GetSteps returns the step records for one item of a run in insertion order.
func (d *DB) GetSteps(ctx context.Context, runID, item string) ([]steplog.Record, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, run_id, item, iteration, timestamp, component, action, input_summary, output_summary, status, detail
		 FROM step_events WHERE run_id = ? AND item = ? ORDER BY id ASC`,
		runID, item,
	)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	var out []steplog.Record
	for rows.Next() {
		var r steplog.Record
		var ts string
		var in, outSum, detail sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.Item, &r.Iteration, &ts, &r.Component, &r.Action, &in, &outSum, &r.Status, &detail); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.InputSummary = in.String
		r.OutputSummary = outSum.String
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordRun inserts the outcome of one item.
func (d *DB) RecordRun(ctx context.Context, r RepairRun) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO repair_runs (run_id, item, status, iterations, max_iterations, last_diagnostic, artifact, doc_created, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Item, r.Status, r.Iterations, r.MaxIterations, r.LastDiagnostic, r.Artifact, r.DocCreated, r.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent item outcomes, newest first. A limit of
// zero or less returns everything.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RepairRun, error) {
	q := `SELECT id, run_id, item, status, iterations, max_iterations, last_diagnostic, artifact, doc_created, duration_ms, finished_at
		  FROM repair_runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RepairRun
	for rows.Next() {
		var r RepairRun
		var diag, artifact sql.NullString
		var dur sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Item, &r.Status, &r.Iterations, &r.MaxIterations, &diag, &artifact, &r.DocCreated, &dur, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.LastDiagnostic = diag.String
		r.Artifact = artifact.String
		r.DurationMs = dur.Int64
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunStats counts item outcomes by status for one run.
func (d *DB) RunStats(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM repair_runs WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
