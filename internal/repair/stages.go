package repair

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/mender/internal/artifact"
	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/detect"
	"github.com/lucasnoah/mender/internal/feedback"
	"github.com/lucasnoah/mender/internal/gate"
	"github.com/lucasnoah/mender/internal/oracle"
	"github.com/lucasnoah/mender/internal/runstore"
	"github.com/lucasnoah/mender/internal/steplog"
)

const maxLintFindings = 15

// analyze collects detector findings, analyzer output and a repair plan
// into the item's pending feedback.
func (c *Controller) analyze(ctx context.Context, rec *steplog.Recorder, ws *artifact.Workspace, item WorkItem) WorkItem {
	item.Findings = detect.Detect(item.SourceCode)
	item.PendingFeedback = append(item.PendingFeedback, detect.ToFeedback(item.Findings)...)

	item.Lint = ""
	v := c.gate.Check(ctx, item.SourceCode)
	switch {
	case v.Valid:
		if item.LastGoodSource == "" {
			item.LastGoodSource = item.SourceCode
		}
		item.Lint = c.runAnalyzers(ctx, ws, item)
	case item.IterationCount == 0:
		// Later iterations already carry this verdict in LastFailureReport.
		item.PendingFeedback = append(item.PendingFeedback, verdictItem(v))
	}

	status := steplog.StatusSuccess
	plan, err := c.oracle.Plan(ctx, oracle.PlanRequest{
		FileName:    filepath.Base(item.Name),
		Source:      item.SourceCode,
		Findings:    detect.Report(item.Findings),
		Lint:        item.Lint,
		LastFailure: item.LastFailureReport,
		Iteration:   item.IterationCount + 1,
	})
	if err != nil {
		c.log.Warn("plan failed", zap.String("item", item.Name), zap.Error(err))
		status = steplog.StatusPartial
		plan = ""
	}
	item.Plan = plan

	out := detect.Summary(item.Findings)
	if item.Lint != "" {
		out += "; analyzers reported issues"
	}
	rec.Emit(ctx, steplog.Record{
		Iteration:     item.IterationCount,
		Component:     steplog.ComponentAnalyzer,
		Action:        steplog.ActionAnalysis,
		InputSummary:  fmt.Sprintf("%s (%d lines)", filepath.Base(item.Name), strings.Count(item.SourceCode, "\n")+1),
		OutputSummary: out,
		Status:        status,
		Detail:        steplog.Summarize(detect.Report(item.Findings)+"\n"+item.Lint, 4000),
	})
	c.logf("%s: analysis: %s", item.Name, out)
	return item
}

// runAnalyzers writes the gated source into the workspace, runs every
// configured analyzer and removes the file again.
func (c *Controller) runAnalyzers(ctx context.Context, ws *artifact.Workspace, item WorkItem) string {
	if c.analyzer == nil || len(c.checks) == 0 {
		return ""
	}
	if _, err := ws.WriteSource(item.SourceCode); err != nil {
		c.log.Warn("write source for analysis", zap.String("item", item.Name), zap.Error(err))
		return ""
	}
	defer func() {
		if err := ws.EndIteration(false); err != nil {
			c.log.Warn("remove analysis file", zap.String("item", item.Name), zap.Error(err))
		}
	}()

	gate, _, err := c.analyzer.RunGate(ctx, ws.Dir(), checks.GateOpts{
		Gate:      "analysis",
		Item:      item.Name,
		Iteration: item.IterationCount,
		File:      ws.SourceFile(),
		Checks:    c.checks,
		Continue:  true,
	})
	if err != nil {
		c.log.Warn("analyzers failed", zap.String("item", item.Name), zap.Error(err))
		return ""
	}
	return gate.Digest(maxLintFindings)
}

// repair consumes one iteration and asks the oracle for a new candidate.
func (c *Controller) repair(ctx context.Context, rec *steplog.Recorder, item WorkItem) WorkItem {
	item.IterationCount++
	start := time.Now()

	code, err := c.oracle.Fix(ctx, oracle.FixRequest{
		FileName:      filepath.Base(item.Name),
		Source:        item.SourceCode,
		Plan:          item.Plan,
		Feedback:      feedback.Format(item.PendingFeedback),
		LastFailure:   item.LastFailureReport,
		Iteration:     item.IterationCount,
		MaxIterations: item.MaxIterations,
	})
	item.PendingFeedback = nil
	item.repairFailed = err != nil

	r := steplog.Record{
		Iteration:    item.IterationCount,
		Component:    steplog.ComponentFixer,
		Action:       steplog.ActionFix,
		InputSummary: fmt.Sprintf("%d bytes, %d findings", len(item.SourceCode), len(item.Findings)),
	}
	if err != nil {
		diag := "ORACLE ERROR: " + err.Error()
		item.LastFailure = FailureOracle
		item.History = append(item.History, Attempt{
			Iteration:  item.IterationCount,
			Failure:    FailureOracle,
			Diagnostic: diag,
			Duration:   time.Since(start),
		})
		c.metrics.Failure(string(FailureOracle))
		c.saveIteration(rec, item, runstore.Iteration{N: item.IterationCount, Failure: string(FailureOracle), Diagnostic: diag})

		r.Status = steplog.StatusFailure
		r.OutputSummary = steplog.Summarize(diag, 200)
		rec.Emit(ctx, r)
		c.logf("%s: iteration %d/%d: oracle failed: %v", item.Name, item.IterationCount, item.MaxIterations, err)
		return item
	}

	item.SourceCode = code
	r.Status = steplog.StatusSuccess
	r.OutputSummary = fmt.Sprintf("candidate %d bytes", len(code))
	rec.Emit(ctx, r)
	c.logf("%s: iteration %d/%d: candidate received", item.Name, item.IterationCount, item.MaxIterations)
	return item
}

// validate judges the current candidate, records the attempt and cleans up
// the iteration's files. A non-nil error aborts the item.
func (c *Controller) validate(ctx context.Context, rec *steplog.Recorder, ws *artifact.Workspace, item WorkItem) (WorkItem, error) {
	start := time.Now()
	item.IsResolved = false
	item.Execution = nil
	item.GeneratedTests = ""
	item.keepFiles = false
	candidate := item.SourceCode

	item, output, err := c.judge(ctx, rec, ws, item)
	if err != nil {
		return item, err
	}

	att := Attempt{
		Iteration: item.IterationCount,
		Resolved:  item.IsResolved,
		Duration:  time.Since(start),
	}
	if !item.IsResolved {
		att.Failure = item.LastFailure
		att.Diagnostic = item.LastFailureReport
		c.metrics.Failure(string(item.LastFailure))
	}
	if item.Execution != nil {
		att.Passed, att.Failed = item.Execution.Passed, item.Execution.Failed
	}
	item.History = append(item.History, att)

	c.saveIteration(rec, item, runstore.Iteration{
		N:          item.IterationCount,
		Candidate:  candidate,
		Tests:      item.GeneratedTests,
		Output:     output,
		Failure:    string(att.Failure),
		Diagnostic: att.Diagnostic,
	})

	keep := item.keepFiles && item.IterationCount < item.MaxIterations
	if err := ws.EndIteration(keep); err != nil {
		c.log.Warn("remove iteration files", zap.String("item", item.Name), zap.Error(err))
	}
	if keep {
		c.logf("%s: keeping %s for inspection", item.Name, ws.Dir())
	}
	return item, nil
}

// judge applies the validation rules in order: content gate, test
// generation, harness pre-flight, execution, then classification.
func (c *Controller) judge(ctx context.Context, rec *steplog.Recorder, ws *artifact.Workspace, item WorkItem) (WorkItem, string, error) {
	judged := func(kind FailureKind, report string) (WorkItem, string, error) {
		item.LastFailure = kind
		item.LastFailureReport = report
		rec.Emit(ctx, steplog.Record{
			Iteration:     item.IterationCount,
			Component:     steplog.ComponentJudge,
			Action:        steplog.ActionDebug,
			InputSummary:  ws.SourceFile(),
			OutputSummary: string(kind),
			Status:        steplog.StatusFailure,
			Detail:        steplog.Summarize(report, 4000),
		})
		c.logf("%s: iteration %d/%d: %s failure", item.Name, item.IterationCount, item.MaxIterations, kind)
		return item, "", nil
	}

	v := c.gate.Check(ctx, item.SourceCode)
	item.SyntaxValid = v.Kind != gate.KindSyntax
	switch v.Kind {
	case gate.KindSyntax:
		return judged(FailureSyntax, v.String())
	case gate.KindSecurity:
		item.SourceCode = item.LastGoodSource
		if item.SourceCode == "" {
			item.SourceCode = item.OriginalCode
		}
		item.PendingFeedback = append(item.PendingFeedback, verdictItem(v))
		return judged(FailureSecurity, v.String()+
			"\nThe candidate was discarded and the previous version restored. Remove the flagged operation entirely.")
	}
	item.LastGoodSource = item.SourceCode

	tests, err := c.oracle.Tests(ctx, item.SourceCode, ws.ModuleName())
	if err != nil {
		if ctx.Err() != nil {
			return item, "", ctx.Err()
		}
		return judged(FailureOracle, "TEST GENERATION ERROR: "+err.Error()+
			"\nNo tests were produced; the candidate source was not evaluated.")
	}
	tests = artifact.RewriteImports(tests, artifact.Identifier(artifact.Base(item.Name)), ws.ModuleName())
	item.GeneratedTests = tests
	rec.Emit(ctx, steplog.Record{
		Iteration:     item.IterationCount,
		Component:     steplog.ComponentJudge,
		Action:        steplog.ActionCodeGen,
		InputSummary:  ws.ModuleName(),
		OutputSummary: fmt.Sprintf("test module %d bytes", len(tests)),
		Status:        steplog.StatusSuccess,
	})

	srcPath, err := ws.WriteSource(item.SourceCode)
	if err != nil {
		return item, "", c.hardError(item.Name, err)
	}
	if res := c.harness.Validate(ctx, tests, srcPath); !res.OK {
		if ctx.Err() != nil {
			return item, "", ctx.Err()
		}
		return judged(FailureHarness, res.Diagnostic)
	}
	if _, _, err := ws.WriteTests(tests); err != nil {
		return item, "", c.hardError(item.Name, err)
	}

	run, err := c.suite.Run(ctx, ws.Dir(), ws.TestFile())
	if err != nil {
		if ctx.Err() != nil {
			return item, "", ctx.Err()
		}
		return judged(FailureCollection, "EXECUTION ERROR: the test suite could not be started: "+err.Error())
	}
	if run.TimedOut {
		item, _, _ = judged(FailureTimeout, fmt.Sprintf(
			"TIMEOUT: the test suite was killed after %s. Look for infinite loops or blocking calls.\n%s",
			run.Duration.Round(time.Second), feedback.Extract(run.Output)))
		return item, run.Output, nil
	}

	res := run.Result
	item.Execution = &res
	switch {
	case res.CollectionError:
		item.keepFiles = true
		item, _, _ = judged(FailureCollection, "COLLECTION ERROR: the generated tests could not be collected.\n"+
			feedback.Extract(run.Output)+"\n\nGenerated test module:\n"+tests)
	case res.Failed == 0:
		item.IsResolved = true
		item.LastFailure = FailureNone
		rec.Emit(ctx, steplog.Record{
			Iteration:     item.IterationCount,
			Component:     steplog.ComponentJudge,
			Action:        steplog.ActionDebug,
			InputSummary:  ws.TestFile(),
			OutputSummary: fmt.Sprintf("%d passed, 0 failed", res.Passed),
			Status:        steplog.StatusSuccess,
		})
		c.logf("%s: iteration %d/%d: all tests passed (%d)", item.Name, item.IterationCount, item.MaxIterations, res.Passed)
	default:
		item.PendingFeedback = append(item.PendingFeedback, feedback.Items(run.Output)...)
		item, _, _ = judged(FailureAssertion, fmt.Sprintf("TEST FAILURES: %d failed, %d passed.\n%s",
			res.Failed, res.Passed, feedback.Extract(run.Output)))
	}
	return item, run.Output, nil
}

func verdictItem(v gate.Verdict) feedback.Item {
	it := feedback.Item{Severity: "HIGH", Description: v.Message}
	if v.Line > 0 {
		it.Location = fmt.Sprintf("line %d", v.Line)
	}
	switch v.Kind {
	case gate.KindSecurity:
		it.Severity = "CRITICAL"
		it.SuggestedAction = "Remove this operation entirely. Do not replace it with another call that has the same effect."
	case gate.KindSyntax:
		it.SuggestedAction = "Fix the syntax so the module parses."
	}
	return it
}

func (c *Controller) saveIteration(rec *steplog.Recorder, item WorkItem, it runstore.Iteration) {
	if c.archive == nil {
		return
	}
	if err := c.archive.SaveIteration(rec.RunID(), item.Name, it); err != nil {
		c.log.Warn("archive iteration failed", zap.String("item", item.Name), zap.Error(err))
	}
}

// changeSummary describes what the loop went through, for documentation.
func changeSummary(item WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolved after %d of %d iteration(s).\n", item.IterationCount, item.MaxIterations)
	if item.Plan != "" {
		b.WriteString("\nRepair plan:\n" + item.Plan + "\n")
	}
	var failures []string
	for _, a := range item.History {
		if a.Failure != FailureNone {
			failures = append(failures, fmt.Sprintf("- iteration %d: %s: %s", a.Iteration, a.Failure, firstLine(a.Diagnostic)))
		}
	}
	if len(failures) > 0 {
		b.WriteString("\nProblems addressed along the way:\n" + strings.Join(failures, "\n") + "\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
