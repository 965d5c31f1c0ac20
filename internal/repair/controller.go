// Package repair drives one work item through ANALYZE, REPAIR and VALIDATE
// until the candidate passes its generated tests or the iteration budget
// runs out.
package repair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/mender/internal/artifact"
	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/config"
	"github.com/lucasnoah/mender/internal/gate"
	"github.com/lucasnoah/mender/internal/harness"
	"github.com/lucasnoah/mender/internal/metrics"
	"github.com/lucasnoah/mender/internal/oracle"
	"github.com/lucasnoah/mender/internal/runstore"
	"github.com/lucasnoah/mender/internal/sandbox"
	"github.com/lucasnoah/mender/internal/steplog"
)

// Oracle plans fixes, rewrites code and writes tests.
type Oracle interface {
	Plan(ctx context.Context, req oracle.PlanRequest) (string, error)
	Fix(ctx context.Context, req oracle.FixRequest) (string, error)
	Tests(ctx context.Context, source, module string) (string, error)
}

// TestValidator pre-flights generated tests.
type TestValidator interface {
	Validate(ctx context.Context, testSrc, sourcePath string) harness.Result
}

// Suite executes a test module.
type Suite interface {
	Run(ctx context.Context, dir, testFile string) (*checks.SuiteRun, error)
}

// Analyzer runs the configured external analyzers.
type Analyzer interface {
	RunGate(ctx context.Context, dir string, opts checks.GateOpts) (*checks.GateResult, []*checks.Result, error)
}

// Persister writes the repaired module.
type Persister interface {
	Persist(ctx context.Context, input, src, changes string) (*artifact.Artifact, error)
}

// Archive keeps per-iteration files and final reports.
type Archive interface {
	SaveIteration(runID, item string, it runstore.Iteration) error
	SaveReport(runID, item string, report any) error
}

// Options wires a Controller.
type Options struct {
	MaxIterations int
	Sandbox       *sandbox.Resolver
	Gate          *gate.Gate
	Oracle        Oracle
	Harness       TestValidator
	Suite         Suite
	Artifacts     Persister

	// Optional.
	Analyzer Analyzer
	Checks   []checks.GateCheckConfig
	Sink     steplog.Sink
	Archive  Archive
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Controller runs the repair loop. One Controller may run many items
// concurrently; all per-item state lives in the WorkItem.
type Controller struct {
	maxIterations int
	sandbox       *sandbox.Resolver
	gate          *gate.Gate
	oracle        Oracle
	harness       TestValidator
	suite         Suite
	artifacts     Persister
	analyzer      Analyzer
	checks        []checks.GateCheckConfig
	sink          steplog.Sink
	archive       Archive
	metrics       *metrics.Metrics
	log           *zap.Logger
	progress      io.Writer
}

// NewController validates opts. The iteration budget is checked before
// anything else so an invalid budget never reaches the filesystem.
func NewController(opts Options) (*Controller, error) {
	if v := config.ValidateIterations(opts.MaxIterations); v != nil {
		return nil, configError(v)
	}
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"sandbox", opts.Sandbox == nil},
		{"gate", opts.Gate == nil},
		{"oracle", opts.Oracle == nil},
		{"harness", opts.Harness == nil},
		{"suite", opts.Suite == nil},
		{"artifacts", opts.Artifacts == nil},
	} {
		if dep.missing {
			return nil, &ConfigurationError{Field: dep.name, Message: "is required"}
		}
	}
	if opts.Sink == nil {
		opts.Sink = steplog.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		maxIterations: opts.MaxIterations,
		sandbox:       opts.Sandbox,
		gate:          opts.Gate,
		oracle:        opts.Oracle,
		harness:       opts.Harness,
		suite:         opts.Suite,
		artifacts:     opts.Artifacts,
		analyzer:      opts.Analyzer,
		checks:        opts.Checks,
		sink:          opts.Sink,
		archive:       opts.Archive,
		metrics:       opts.Metrics,
		log:           opts.Logger,
	}, nil
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (c *Controller) SetProgress(w io.Writer) {
	c.progress = w
}

// MaxIterations returns the iteration budget.
func (c *Controller) MaxIterations() int { return c.maxIterations }

func (c *Controller) logf(format string, args ...any) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, "  → "+format+"\n", args...)
	}
}

// Input is one repair request.
type Input struct {
	RunID  string
	Name   string
	Source string
}

// Run repairs one item. The returned error is non-nil only for a sandbox
// violation or cancellation of ctx; every other failure is absorbed into
// the loop and reported through Report.Status.
func (c *Controller) Run(ctx context.Context, in Input) (*Report, error) {
	runID := in.RunID
	if runID == "" {
		runID = steplog.NewID()
	}
	rec := steplog.NewRecorder(c.sink, c.log, runID, in.Name)
	item := WorkItem{
		Name:          in.Name,
		OriginalCode:  in.Source,
		SourceCode:    in.Source,
		MaxIterations: c.maxIterations,
		State:         StateAnalyze,
		started:       time.Now(),
	}
	c.logf("%s: starting repair (max %d iterations)", in.Name, c.maxIterations)

	ws, err := artifact.NewWorkspace(c.sandbox, in.Name)
	if err != nil {
		hard := c.hardError(in.Name, err)
		item.abort(hard)
		return c.finish(ctx, rec, item, nil), asViolation(hard)
	}
	defer func() {
		if err := ws.Close(); err != nil {
			c.log.Warn("workspace cleanup failed", zap.String("item", in.Name), zap.Error(err))
		}
	}()

	var runErr error
	for !item.State.Terminal() {
		if err := ctx.Err(); err != nil {
			item.abort(err)
			runErr = err
			break
		}
		stage, start := item.State, time.Now()
		switch item.State {
		case StateAnalyze:
			item = c.analyze(ctx, rec, ws, item)
			item.State = StateRepair
		case StateRepair:
			item = c.repair(ctx, rec, item)
			if item.repairFailed {
				item.State = route(item)
			} else {
				item.State = StateValidate
			}
		case StateValidate:
			item, err = c.validate(ctx, rec, ws, item)
			if err != nil {
				item.abort(err)
				runErr = asViolation(err)
				if ctx.Err() != nil {
					runErr = ctx.Err()
				}
				break
			}
			item.State = route(item)
		}
		c.metrics.ObserveStage(string(stage), time.Since(start))
	}

	var art *artifact.Artifact
	if item.State == StateSuccess {
		art, err = c.persist(ctx, rec, item)
		if err != nil {
			item.abort(err)
		}
	}
	return c.finish(ctx, rec, item, art), runErr
}

// route decides where the loop goes after REPAIR or VALIDATE.
func route(item WorkItem) State {
	switch {
	case item.IsResolved:
		return StateSuccess
	case item.IterationCount >= item.MaxIterations:
		return StateExhausted
	default:
		return StateAnalyze
	}
}

func (w *WorkItem) abort(err error) {
	w.State = StateAborted
	w.abortReason = err.Error()
}

// hardError wraps path escapes as SandboxViolation.
func (c *Controller) hardError(item string, err error) error {
	var pe *sandbox.PathEscapeError
	if errors.As(err, &pe) {
		return &SandboxViolation{Item: item, Err: pe}
	}
	return err
}

// asViolation returns err when it is a SandboxViolation and nil otherwise.
func asViolation(err error) error {
	var sv *SandboxViolation
	if errors.As(err, &sv) {
		return sv
	}
	return nil
}

func (c *Controller) persist(ctx context.Context, rec *steplog.Recorder, item WorkItem) (*artifact.Artifact, error) {
	a, err := c.artifacts.Persist(ctx, item.Name, item.SourceCode, changeSummary(item))
	r := steplog.Record{
		Iteration:    item.IterationCount,
		Component:    steplog.ComponentArtifact,
		Action:       steplog.ActionCodeGen,
		InputSummary: fmt.Sprintf("%d bytes", len(item.SourceCode)),
		Status:       steplog.StatusSuccess,
	}
	if err != nil {
		r.Status = steplog.StatusFailure
		r.OutputSummary = steplog.Summarize(err.Error(), 200)
		rec.Emit(ctx, r)
		return nil, fmt.Errorf("persist artifact: %w", err)
	}
	r.OutputSummary = a.Path
	rec.Emit(ctx, r)
	c.logf("%s: wrote %s", item.Name, a.Path)
	return a, nil
}

func (c *Controller) finish(ctx context.Context, rec *steplog.Recorder, item WorkItem, art *artifact.Artifact) *Report {
	report := &Report{
		RunID:         rec.RunID(),
		Name:          item.Name,
		Iterations:    item.IterationCount,
		MaxIterations: item.MaxIterations,
		LastFailure:   item.LastFailure,
		Artifact:      art,
		History:       item.History,
		OriginalCode:  item.OriginalCode,
		FinalCode:     item.SourceCode,
		Duration:      time.Since(item.started),
	}
	if report.History == nil {
		report.History = []Attempt{}
	}
	status := steplog.StatusFailure
	switch item.State {
	case StateSuccess:
		report.Status = StatusFixed
		report.LastFailure = FailureNone
		status = steplog.StatusSuccess
	case StateExhausted:
		report.Status = StatusExhausted
		report.LastDiagnostic = lastDiagnostic(item)
		status = steplog.StatusPartial
	default:
		report.Status = StatusAborted
		report.LastDiagnostic = item.abortReason
	}

	rec.Emit(ctx, steplog.Record{
		Iteration:     item.IterationCount,
		Component:     steplog.ComponentController,
		Action:        steplog.ActionDebug,
		InputSummary:  item.Name,
		OutputSummary: fmt.Sprintf("%s after %d/%d iterations", report.Status, report.Iterations, report.MaxIterations),
		Status:        status,
		Detail:        steplog.Summarize(report.LastDiagnostic, 2000),
	})
	c.metrics.ObserveItem(string(report.Status), report.Iterations)
	if c.archive != nil {
		if err := c.archive.SaveReport(report.RunID, item.Name, report); err != nil {
			c.log.Warn("archive report failed", zap.String("item", item.Name), zap.Error(err))
		}
	}
	c.log.Info("item finished",
		zap.String("item", item.Name),
		zap.String("status", string(report.Status)),
		zap.Int("iterations", report.Iterations),
		zap.Duration("elapsed", report.Duration),
	)
	c.logf("%s: %s after %d iteration(s)", item.Name, report.Status, report.Iterations)
	return report
}

func lastDiagnostic(item WorkItem) string {
	for i := len(item.History) - 1; i >= 0; i-- {
		if d := item.History[i].Diagnostic; d != "" {
			return d
		}
	}
	return item.LastFailureReport
}
