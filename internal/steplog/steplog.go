// Package steplog records one structured entry per pipeline step. Entries
// go to a caller-supplied Sink so concurrent items never share a global log.
package steplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Component names.
const (
	ComponentController = "controller"
	ComponentAnalyzer   = "analyzer"
	ComponentFixer      = "fixer"
	ComponentJudge      = "judge"
	ComponentArtifact   = "artifact"
)

// Actions.
const (
	ActionAnalysis = "CODE_ANALYSIS"
	ActionCodeGen  = "CODE_GEN"
	ActionDebug    = "DEBUG"
	ActionFix      = "FIX"
)

// Statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusPartial = "PARTIAL"
)

// Record is one step entry.
type Record struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	Item          string    `json:"item"`
	Iteration     int       `json:"iteration"`
	Timestamp     time.Time `json:"timestamp"`
	Component     string    `json:"component"`
	Action        string    `json:"action"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
}

// Sink stores records.
type Sink interface {
	Log(ctx context.Context, r Record) error
}

// NewID returns a sortable identifier for runs and records.
func NewID() string {
	return ulid.Make().String()
}

// Nop discards records.
type Nop struct{}

func (Nop) Log(context.Context, Record) error { return nil }

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Log(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Log(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Log(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Records returns a copy of everything logged so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// JSONL appends one JSON object per line to a file.
type JSONL struct {
	mu sync.Mutex
	f  *os.File
}

// OpenJSONL opens path for appending, creating parent directories.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open step log: %w", err)
	}
	return &JSONL{f: f}, nil
}

func (j *JSONL) Log(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append step record: %w", err)
	}
	return nil
}

// Close closes the file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Recorder stamps records for one item and writes them to a sink. Sink
// failures are logged and swallowed.
type Recorder struct {
	sink  Sink
	log   *zap.Logger
	runID string
	item  string
	now   func() time.Time
}

// NewRecorder returns a Recorder for item within run.
func NewRecorder(sink Sink, log *zap.Logger, runID, item string) *Recorder {
	if sink == nil {
		sink = Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, log: log, runID: runID, item: item, now: time.Now}
}

// RunID returns the run the recorder stamps onto records.
func (r *Recorder) RunID() string { return r.runID }

// Emit fills ID, RunID, Item and Timestamp and writes rec.
func (r *Recorder) Emit(ctx context.Context, rec Record) {
	rec.ID = NewID()
	rec.RunID = r.runID
	rec.Item = r.item
	rec.Timestamp = r.now().UTC()
	if err := r.sink.Log(ctx, rec); err != nil {
		r.log.Warn("step log write failed",
			zap.String("item", r.item),
			zap.String("action", rec.Action),
			zap.Error(err),
		)
	}
}

// Summarize shortens s to at most n runes for summary fields.
func Summarize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
