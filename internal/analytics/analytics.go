// Package analytics aggregates repair outcomes and step events recorded in
// the SQLite database.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// OutcomeRate summarises terminal statuses across items.
type OutcomeRate struct {
	Total        int     `json:"total"`
	Fixed        int     `json:"fixed"`
	Exhausted    int     `json:"exhausted"`
	Aborted      int     `json:"aborted"`
	FixedPct     float64 `json:"fixed_pct"`
	ExhaustedPct float64 `json:"exhausted_pct"`
	AbortedPct   float64 `json:"aborted_pct"`
	DocsPct      float64 `json:"documented_pct"`
}

// QueryOutcomeRates counts item outcomes finished at or after since.
// Documentation coverage is relative to fixed items.
func QueryOutcomeRates(database DB, since string) (*OutcomeRate, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'fixed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'unfixed-exhausted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'aborted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'fixed' AND doc_created THEN 1 ELSE 0 END), 0)
		FROM repair_runs`

	args := []interface{}{}
	if since != "" {
		query += ` WHERE finished_at >= ?`
		args = append(args, since)
	}

	var r OutcomeRate
	var docs int
	if err := database.Conn().QueryRow(query, args...).Scan(&r.Total, &r.Fixed, &r.Exhausted, &r.Aborted, &docs); err != nil {
		return nil, fmt.Errorf("query outcome rates: %w", err)
	}
	r.FixedPct = pct(r.Fixed, r.Total)
	r.ExhaustedPct = pct(r.Exhausted, r.Total)
	r.AbortedPct = pct(r.Aborted, r.Total)
	r.DocsPct = pct(docs, r.Fixed)
	return &r, nil
}

// IterationDist is how many iterations fixed items needed, per budget.
type IterationDist struct {
	Budget    int     `json:"max_iterations"`
	Total     int     `json:"total"`
	One       float64 `json:"one_iteration_pct"`
	Two       float64 `json:"two_iterations_pct"`
	ThreePlus float64 `json:"three_plus_pct"`
}

// QueryIterationDist returns the iteration distribution of fixed items
// grouped by iteration budget.
func QueryIterationDist(database DB, since string) ([]IterationDist, error) {
	query := `
		SELECT max_iterations, iterations
		FROM repair_runs
		WHERE status = 'fixed'`

	args := []interface{}{}
	if since != "" {
		query += ` AND finished_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query iteration distribution: %w", err)
	}
	defer rows.Close()

	type iterCount struct {
		one, two, threePlus, total int
	}
	budgets := make(map[int]*iterCount)

	for rows.Next() {
		var budget, iterations int
		if err := rows.Scan(&budget, &iterations); err != nil {
			return nil, fmt.Errorf("scan iteration count: %w", err)
		}
		if _, ok := budgets[budget]; !ok {
			budgets[budget] = &iterCount{}
		}
		ic := budgets[budget]
		ic.total++
		switch {
		case iterations <= 1:
			ic.one++
		case iterations == 2:
			ic.two++
		default:
			ic.threePlus++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []IterationDist
	for budget, ic := range budgets {
		results = append(results, IterationDist{
			Budget:    budget,
			Total:     ic.total,
			One:       pct(ic.one, ic.total),
			Two:       pct(ic.two, ic.total),
			ThreePlus: pct(ic.threePlus, ic.total),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Budget < results[j].Budget
	})
	return results, nil
}

// FailureKindCount is how often one validation failure kind occurred.
type FailureKindCount struct {
	Kind  string  `json:"kind"`
	Count int     `json:"count"`
	Items int     `json:"items"`
	Pct   float64 `json:"pct"`
}

// QueryFailureKinds counts recoverable failures from the step log: judge
// verdicts carry the failure kind in output_summary and failed fixer steps
// count as oracle failures.
func QueryFailureKinds(database DB, since string) ([]FailureKindCount, error) {
	query := `
		SELECT
			CASE WHEN component = 'fixer' THEN 'oracle' ELSE output_summary END AS kind,
			run_id || '/' || item AS item_key
		FROM step_events
		WHERE status = 'FAILURE'
		AND ((component = 'judge' AND action = 'DEBUG') OR (component = 'fixer' AND action = 'FIX'))`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failure kinds: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	items := make(map[string]map[string]bool)
	total := 0
	for rows.Next() {
		var kind sql.NullString
		var key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, fmt.Errorf("scan failure kind: %w", err)
		}
		k := kind.String
		if k == "" {
			k = "unknown"
		}
		counts[k]++
		total++
		if items[k] == nil {
			items[k] = make(map[string]bool)
		}
		items[k][key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]FailureKindCount, 0, len(counts))
	for k, n := range counts {
		results = append(results, FailureKindCount{Kind: k, Count: n, Items: len(items[k]), Pct: pct(n, total)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Kind < results[j].Kind
	})
	return results, nil
}

// ItemDuration holds wall-clock stats per terminal status, in seconds.
type ItemDuration struct {
	Status string  `json:"status"`
	Count  int     `json:"count"`
	Avg    float64 `json:"avg_seconds"`
	P50    float64 `json:"p50_seconds"`
	P95    float64 `json:"p95_seconds"`
}

// QueryItemDurations returns average and percentile item durations per
// terminal status.
func QueryItemDurations(database DB, since string) ([]ItemDuration, error) {
	query := `
		SELECT status, duration_ms
		FROM repair_runs
		WHERE duration_ms IS NOT NULL`

	args := []interface{}{}
	if since != "" {
		query += ` AND finished_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query item durations: %w", err)
	}
	defer rows.Close()

	byStatus := make(map[string][]float64)
	for rows.Next() {
		var status string
		var ms int64
		if err := rows.Scan(&status, &ms); err != nil {
			return nil, fmt.Errorf("scan item duration: %w", err)
		}
		byStatus[status] = append(byStatus[status], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ItemDuration
	for status, durations := range byStatus {
		sort.Float64s(durations)
		results = append(results, ItemDuration{
			Status: status,
			Count:  len(durations),
			Avg:    avg(durations),
			P50:    percentile(durations, 50),
			P95:    percentile(durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Status < results[j].Status
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
