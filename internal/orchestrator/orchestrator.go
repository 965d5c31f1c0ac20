package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/mender/internal/db"
	"github.com/lucasnoah/mender/internal/repair"
	"github.com/lucasnoah/mender/internal/runstore"
	"github.com/lucasnoah/mender/internal/steplog"
)

// Runner repairs one item.
type Runner interface {
	Run(ctx context.Context, in repair.Input) (*repair.Report, error)
	MaxIterations() int
}

// RunRecorder stores per-item outcomes.
type RunRecorder interface {
	RecordRun(ctx context.Context, r db.RepairRun) error
}

// Waiter blocks until background documentation jobs finish.
type Waiter interface {
	Wait()
}

// Options configures an Orchestrator. Everything except Runner is optional.
type Options struct {
	Runner      Runner
	Store       *runstore.Store
	Runs        RunRecorder
	Artifacts   Waiter
	Concurrency int
	// Skip lists directories Discover must not descend into, such as the
	// sandbox root and the output directory.
	Skip   []string
	Logger *zap.Logger
}

// Orchestrator composes batch repair operations over a directory.
type Orchestrator struct {
	runner      Runner
	store       *runstore.Store
	runs        RunRecorder
	artifacts   Waiter
	concurrency int
	skip        []string
	log         *zap.Logger
	progress    io.Writer
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		runner:      opts.Runner,
		store:       opts.Store,
		runs:        opts.Runs,
		artifacts:   opts.Artifacts,
		concurrency: opts.Concurrency,
		skip:        opts.Skip,
		log:         opts.Logger,
	}
}

// SetProgress sets a writer for per-item progress lines.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

// Summary describes one batch run.
type Summary struct {
	RunID     string           `json:"run_id"`
	TargetDir string           `json:"target_dir"`
	Total     int              `json:"total"`
	Fixed     int              `json:"fixed"`
	Exhausted int              `json:"exhausted"`
	Aborted   int              `json:"aborted"`
	Docs      int              `json:"documentation_created"`
	Reports   []*repair.Report `json:"reports"`
	Duration  time.Duration    `json:"duration"`
}

// Counts returns the per-status tally.
func (s *Summary) Counts() map[string]int {
	return map[string]int{
		string(repair.StatusFixed):     s.Fixed,
		string(repair.StatusExhausted): s.Exhausted,
		string(repair.StatusAborted):   s.Aborted,
	}
}

// Discover returns every Python file under dir that is a repair candidate,
// in lexical order. Repaired outputs, package markers, test modules, hidden
// directories, __pycache__ and the skip directories are left out.
func Discover(dir string, skip ...string) ([]string, error) {
	skipAbs := make(map[string]bool, len(skip))
	for _, s := range skip {
		if s == "" {
			continue
		}
		if abs, err := filepath.Abs(s); err == nil {
			skipAbs[abs] = true
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if strings.HasPrefix(name, ".") || name == "__pycache__" {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && skipAbs[abs] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".py") ||
			strings.HasSuffix(name, "_fixed.py") ||
			name == "__init__.py" ||
			strings.HasPrefix(name, "test_") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Process repairs every discovered file under dir with bounded
// concurrency. An aborted item never stops the others; only cancellation
// of ctx ends the batch early, in which case the partial summary is
// returned together with the context error.
func (o *Orchestrator) Process(ctx context.Context, dir string) (*Summary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("target dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target dir %s is not a directory", dir)
	}
	files, err := Discover(dir, o.skip...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	runID := steplog.NewID()
	if o.store != nil {
		if _, err := o.store.CreateRun(runID, dir, o.runner.MaxIterations()); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}
	o.log.Info("batch started", zap.String("run_id", runID), zap.String("dir", dir), zap.Int("files", len(files)))

	reports := make([]*repair.Report, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, path := range files {
		g.Go(func() error {
			o.printf("[%d/%d] %s\n", i+1, len(files), path)
			report, err := o.runOne(gctx, runID, path)
			reports[i] = report
			return err
		})
	}
	runErr := g.Wait()

	if o.artifacts != nil {
		o.artifacts.Wait()
	}

	sum := &Summary{RunID: runID, TargetDir: dir}
	for _, r := range reports {
		if r == nil {
			continue
		}
		if r.Artifact != nil {
			created, derr := r.Artifact.WaitDocs(context.WithoutCancel(ctx))
			r.DocumentationCreated = created
			if derr != nil {
				o.log.Warn("documentation failed", zap.String("item", r.Name), zap.Error(derr))
			}
			if o.store != nil {
				if err := o.store.SaveReport(r.RunID, r.Name, r); err != nil {
					o.log.Warn("archive report failed", zap.String("item", r.Name), zap.Error(err))
				}
			}
		}
		o.tally(sum, r)
		o.record(ctx, r)
	}
	sum.Duration = time.Since(start)

	if o.store != nil {
		status := "completed"
		if runErr != nil {
			status = "interrupted"
		}
		if err := o.store.UpdateRun(runID, func(m *runstore.RunMeta) {
			m.Status = status
			m.Counts = sum.Counts()
		}); err != nil {
			o.log.Warn("update run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	o.log.Info("batch finished",
		zap.String("run_id", runID),
		zap.Int("fixed", sum.Fixed),
		zap.Int("exhausted", sum.Exhausted),
		zap.Int("aborted", sum.Aborted),
		zap.Duration("elapsed", sum.Duration),
	)
	return sum, runErr
}

// runOne reads and repairs a single file. Only context errors are returned;
// everything else ends up in the report.
func (o *Orchestrator) runOne(ctx context.Context, runID, path string) (*repair.Report, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return &repair.Report{
			RunID:          runID,
			Name:           path,
			Status:         repair.StatusAborted,
			MaxIterations:  o.runner.MaxIterations(),
			LastDiagnostic: fmt.Sprintf("read input: %v", err),
			History:        []repair.Attempt{},
		}, nil
	}

	report, err := o.runner.Run(ctx, repair.Input{RunID: runID, Name: path, Source: string(src)})
	if err != nil {
		var sv *repair.SandboxViolation
		if errors.As(err, &sv) {
			o.log.Error("sandbox violation", zap.String("item", path), zap.Error(err))
			return report, nil
		}
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) tally(sum *Summary, r *repair.Report) {
	sum.Total++
	sum.Reports = append(sum.Reports, r)
	switch r.Status {
	case repair.StatusFixed:
		sum.Fixed++
	case repair.StatusExhausted:
		sum.Exhausted++
	default:
		sum.Aborted++
	}
	if r.DocumentationCreated {
		sum.Docs++
	}
}

func (o *Orchestrator) record(ctx context.Context, r *repair.Report) {
	if o.runs == nil {
		return
	}
	row := db.RepairRun{
		RunID:          r.RunID,
		Item:           r.Name,
		Status:         string(r.Status),
		Iterations:     r.Iterations,
		MaxIterations:  r.MaxIterations,
		LastDiagnostic: r.LastDiagnostic,
		DocCreated:     r.DocumentationCreated,
		DurationMs:     r.Duration.Milliseconds(),
	}
	if r.Artifact != nil {
		row.Artifact = r.Artifact.Path
	}
	if err := o.runs.RecordRun(context.WithoutCancel(ctx), row); err != nil {
		o.log.Warn("record run failed", zap.String("item", r.Name), zap.Error(err))
	}
}

func (o *Orchestrator) printf(format string, args ...any) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format, args...)
	}
}

// StatusInfo summarises a stored run for display.
type StatusInfo struct {
	RunID     string         `json:"run_id"`
	TargetDir string         `json:"target_dir"`
	Status    string         `json:"status"`
	Counts    map[string]int `json:"counts,omitempty"`
	Items     int            `json:"items"`
	CreatedAt string         `json:"created_at"`
}

// Status returns the stored state of one run.
func (o *Orchestrator) Status(runID string) (*StatusInfo, error) {
	if o.store == nil {
		return nil, fmt.Errorf("no run store configured")
	}
	meta, err := o.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	return o.statusFor(*meta), nil
}

// StatusAll returns every stored run, newest first.
func (o *Orchestrator) StatusAll() ([]StatusInfo, error) {
	if o.store == nil {
		return nil, nil
	}
	metas, err := o.store.ListRuns()
	if err != nil {
		return nil, err
	}
	out := make([]StatusInfo, 0, len(metas))
	for _, m := range metas {
		out = append(out, *o.statusFor(m))
	}
	return out, nil
}

func (o *Orchestrator) statusFor(m runstore.RunMeta) *StatusInfo {
	items, _ := o.store.Items(m.RunID)
	return &StatusInfo{
		RunID:     m.RunID,
		TargetDir: m.TargetDir,
		Status:    m.Status,
		Counts:    m.Counts,
		Items:     len(items),
		CreatedAt: m.CreatedAt,
	}
}

// ItemStatus is the archived outcome of one item. Items still in flight
// have no report yet and show as pending.
type ItemStatus struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Iterations     int    `json:"iterations"`
	MaxIterations  int    `json:"max_iterations"`
	LastFailure    string `json:"last_failure,omitempty"`
	LastDiagnostic string `json:"last_diagnostic,omitempty"`
}

// ItemStatuses reads the archived report of every item in a run.
func (o *Orchestrator) ItemStatuses(runID string) ([]ItemStatus, error) {
	if o.store == nil {
		return nil, fmt.Errorf("no run store configured")
	}
	if _, err := o.store.GetRun(runID); err != nil {
		return nil, err
	}
	keys, err := o.store.Items(runID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemStatus, 0, len(keys))
	for _, k := range keys {
		s := ItemStatus{Key: k, Name: k}
		if err := o.store.GetReport(runID, k, &s); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read report %s: %w", k, err)
			}
			s.Status = "pending"
		}
		s.Key = k
		out = append(out, s)
	}
	return out, nil
}

// Iteration reads back one archived iteration of an item.
func (o *Orchestrator) Iteration(runID, item string, n int) (*runstore.Iteration, error) {
	if o.store == nil {
		return nil, fmt.Errorf("no run store configured")
	}
	return o.store.GetIteration(runID, item, n)
}

// Cleanup deletes the stored files of a finished run.
func (o *Orchestrator) Cleanup(runID string) error {
	if o.store == nil {
		return fmt.Errorf("no run store configured")
	}
	meta, err := o.store.GetRun(runID)
	if err != nil {
		return err
	}
	if meta.Status == "running" {
		return fmt.Errorf("run %s is still running", runID)
	}
	return o.store.DeleteRun(runID)
}
