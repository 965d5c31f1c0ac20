package repair

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lucasnoah/mender/internal/artifact"
	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/gate"
	"github.com/lucasnoah/mender/internal/harness"
	"github.com/lucasnoah/mender/internal/metrics"
	"github.com/lucasnoah/mender/internal/oracle"
	"github.com/lucasnoah/mender/internal/runstore"
	"github.com/lucasnoah/mender/internal/sandbox"
	"github.com/lucasnoah/mender/internal/steplog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const buggy = "def divide(a, b):\n    return a // b\n"

const guarded = `def divide(a, b):
    if b == 0:
        raise ValueError("division by zero")
    return a // b
`

const generatedTests = `import pytest
from calc import divide


def test_divide():
    assert divide(6, 3) == 2


def test_zero():
    with pytest.raises(ValueError):
        divide(1, 0)
`

type reply struct {
	code string
	err  error
}

type fakeOracle struct {
	mu       sync.Mutex
	fixes    []reply
	tests    string
	testsErr error
	planErr  error
	fixReqs  []oracle.FixRequest
	planReqs []oracle.PlanRequest
}

func (f *fakeOracle) Plan(ctx context.Context, req oracle.PlanRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planReqs = append(f.planReqs, req)
	if f.planErr != nil {
		return "", f.planErr
	}
	return "1. Guard the divisor.", nil
}

func (f *fakeOracle) Fix(ctx context.Context, req oracle.FixRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixReqs = append(f.fixReqs, req)
	r := f.fixes[0]
	if len(f.fixes) > 1 {
		f.fixes = f.fixes[1:]
	}
	return r.code, r.err
}

func (f *fakeOracle) Tests(ctx context.Context, source, module string) (string, error) {
	if f.testsErr != nil {
		return "", f.testsErr
	}
	if f.tests != "" {
		return f.tests, nil
	}
	return generatedTests, nil
}

type fakeHarness struct {
	result *harness.Result
}

func (h fakeHarness) Validate(ctx context.Context, testSrc, sourcePath string) harness.Result {
	if h.result != nil {
		return *h.result
	}
	return harness.Result{OK: true, Tests: []string{"test_divide", "test_zero"}}
}

type fakeSuite struct {
	mu    sync.Mutex
	calls int
	fn    func(dir, testFile string) (*checks.SuiteRun, error)
}

func (s *fakeSuite) Run(ctx context.Context, dir, testFile string) (*checks.SuiteRun, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(dir, testFile)
}

func (s *fakeSuite) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func suiteOutput(output string, exit int) *checks.SuiteRun {
	return &checks.SuiteRun{Output: output, ExitCode: exit, Result: checks.NewExecutionResult(output, exit)}
}

// divisionSuite passes only when the candidate in the workspace guards
// against a zero divisor.
func divisionSuite() *fakeSuite {
	return &fakeSuite{fn: func(dir, testFile string) (*checks.SuiteRun, error) {
		src, err := os.ReadFile(filepath.Join(dir, "calc_temp.py"))
		if err != nil {
			return nil, err
		}
		if strings.Contains(string(src), "b == 0") {
			return suiteOutput("..\n2 passed in 0.02s\n", 0), nil
		}
		return suiteOutput(`.F
=================================== FAILURES ===================================
__________________________________ test_zero ___________________________________
    def test_zero():
        with pytest.raises(ValueError):
>           divide(1, 0)
E           ZeroDivisionError: integer division or modulo by zero
FAILED test_calc_temp.py::test_zero - ZeroDivisionError: integer division or modulo by zero
1 failed, 1 passed in 0.03s
`, 1), nil
	}}
}

func newController(t *testing.T, max int, o Oracle, s Suite, mut ...func(*Options)) (*Controller, *steplog.Memory, string) {
	t.Helper()
	root, err := sandbox.New(filepath.Join(t.TempDir(), "sandbox"))
	require.NoError(t, err)
	out := t.TempDir()
	mem := &steplog.Memory{}
	opts := Options{
		MaxIterations: max,
		Sandbox:       root,
		Gate:          gate.New(gate.DefaultDenylist()),
		Oracle:        o,
		Harness:       fakeHarness{},
		Suite:         s,
		Artifacts:     artifact.NewManager(artifact.Options{OutputDir: out}),
		Sink:          mem,
		Metrics:       metrics.New(),
	}
	for _, m := range mut {
		m(&opts)
	}
	c, err := NewController(opts)
	require.NoError(t, err)
	return c, mem, out
}

func TestNewController_RejectsBudgetBeforeAnything(t *testing.T) {
	for _, n := range []int{0, -1, 11, 100} {
		_, err := NewController(Options{MaxIterations: n})
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce, "max=%d", n)
		assert.Equal(t, "max_iterations", ce.Field)
	}
}

func TestNewController_RequiresDependencies(t *testing.T) {
	_, err := NewController(Options{MaxIterations: 3})
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sandbox", ce.Field)
}

func TestRun_FixesDivisionWithinTwoIterations(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: buggy}, {code: guarded}}}
	suite := divisionSuite()
	c, mem, out := newController(t, 3, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "/proj/calc.py", Source: buggy})
	require.NoError(t, err)

	assert.Equal(t, StatusFixed, report.Status)
	assert.Equal(t, 2, report.Iterations)
	assert.LessOrEqual(t, report.Iterations, 2)
	require.Len(t, report.History, 2)
	assert.Equal(t, FailureAssertion, report.History[0].Failure)
	assert.Equal(t, 1, report.History[0].Failed)
	assert.True(t, report.History[1].Resolved)

	data, err := os.ReadFile(filepath.Join(out, "calc_fixed.py"))
	require.NoError(t, err)
	assert.Equal(t, guarded, string(data))

	require.Len(t, o.fixReqs, 2)
	second := o.fixReqs[1]
	assert.Contains(t, second.LastFailure, "TEST FAILURES: 1 failed, 1 passed")
	assert.Contains(t, second.LastFailure, "ZeroDivisionError")
	assert.Equal(t, 2, second.Iteration)

	var actions []string
	for _, r := range mem.Records() {
		actions = append(actions, r.Component+":"+r.Action+":"+r.Status)
	}
	assert.Contains(t, actions, "analyzer:CODE_ANALYSIS:SUCCESS")
	assert.Contains(t, actions, "fixer:FIX:SUCCESS")
	assert.Contains(t, actions, "judge:DEBUG:FAILURE")
	assert.Contains(t, actions, "artifact:CODE_GEN:SUCCESS")
	assert.Equal(t, "controller:DEBUG:SUCCESS", actions[len(actions)-1])
}

func TestRun_ExhaustsAfterExactlyOneIteration(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{err: &oracle.TransportError{Op: "fix", Err: errors.New("503")}}}}
	suite := divisionSuite()
	c, _, out := newController(t, 1, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "/proj/calc.py", Source: buggy})
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, report.Status)
	assert.Equal(t, 1, report.Iterations)
	assert.Len(t, o.fixReqs, 1)
	assert.Zero(t, suite.Calls(), "oracle failure skips validation")
	assert.Contains(t, report.LastDiagnostic, "ORACLE ERROR")
	assert.Equal(t, FailureOracle, report.LastFailure)

	_, statErr := os.Stat(filepath.Join(out, "calc_fixed.py"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_OracleFailureConsumesIteration(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{err: oracle.ErrImplausible}, {code: guarded}}}
	c, _, _ := newController(t, 3, o, divisionSuite())

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusFixed, report.Status)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, FailureOracle, report.History[0].Failure)
}

func TestRun_ExhaustedKeepsLastDiagnostic(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: buggy}}}
	suite := divisionSuite()
	c, _, _ := newController(t, 3, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, report.Status)
	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, 3, suite.Calls())
	assert.Contains(t, report.LastDiagnostic, "TEST FAILURES")
}

func TestRun_SyntaxErrorSkipsExecution(t *testing.T) {
	broken := "def divide(a, b)\n    return a // b\n"
	o := &fakeOracle{fixes: []reply{{code: broken}, {code: guarded}}}
	suite := divisionSuite()
	c, _, _ := newController(t, 3, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)

	assert.Equal(t, StatusFixed, report.Status)
	assert.Equal(t, FailureSyntax, report.History[0].Failure)
	assert.Contains(t, report.History[0].Diagnostic, "SYNTAX ERROR")
	assert.Equal(t, 1, suite.Calls(), "only the parseable candidate is executed")

	// The broken candidate is handed back for repair.
	assert.Equal(t, broken, o.fixReqs[1].Source)
}

func TestRun_SecurityViolationRevertsSource(t *testing.T) {
	unsafe := "import os\n\ndef divide(a, b):\n    os.remove('/tmp/x')\n    return a // b\n"
	o := &fakeOracle{fixes: []reply{{code: unsafe}, {code: guarded}}}
	suite := divisionSuite()
	c, _, _ := newController(t, 3, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)

	assert.Equal(t, StatusFixed, report.Status)
	assert.Equal(t, FailureSecurity, report.History[0].Failure)
	assert.Equal(t, 1, suite.Calls())

	second := o.fixReqs[1]
	assert.Equal(t, buggy, second.Source, "unsafe candidate is discarded")
	assert.Contains(t, second.Feedback, "[CRITICAL]")
	assert.Contains(t, second.LastFailure, "SECURITY ERROR")
}

func TestRun_HarnessFailureSkipsExecution(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	suite := divisionSuite()
	bad := harness.Result{Failure: harness.FailureEmpty, Diagnostic: "TEST HARNESS ERROR (empty): no tests"}
	c, _, _ := newController(t, 2, o, suite, func(opts *Options) {
		opts.Harness = fakeHarness{result: &bad}
	})

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, report.Status)
	assert.Zero(t, suite.Calls())
	assert.Equal(t, FailureHarness, report.LastFailure)
	assert.Contains(t, report.LastDiagnostic, "TEST HARNESS ERROR")
}

func TestRun_TestGenerationFailure(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}, testsErr: errors.New("quota")}
	suite := divisionSuite()
	c, _, _ := newController(t, 1, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, report.Status)
	assert.Zero(t, suite.Calls())
	assert.Contains(t, report.LastDiagnostic, "TEST GENERATION ERROR")
}

func TestRun_CollectionErrorIncludesTests(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	suite := &fakeSuite{fn: func(dir, testFile string) (*checks.SuiteRun, error) {
		return suiteOutput("_ ERROR collecting test_calc_temp.py _\nE   ModuleNotFoundError: No module named 'numpy'\n1 error in 0.1s\n", 2), nil
	}}
	c, _, _ := newController(t, 1, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, report.Status)
	assert.Equal(t, FailureCollection, report.LastFailure)
	assert.Contains(t, report.LastDiagnostic, "COLLECTION ERROR")
	assert.Contains(t, report.LastDiagnostic, "from calc_temp import divide")
}

func TestRun_TimeoutIsItsOwnFailure(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	suite := &fakeSuite{fn: func(dir, testFile string) (*checks.SuiteRun, error) {
		return &checks.SuiteRun{TimedOut: true, ExitCode: -1}, nil
	}}
	c, _, _ := newController(t, 1, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, FailureTimeout, report.LastFailure)
	assert.Contains(t, report.LastDiagnostic, "TIMEOUT")
}

func TestRun_NoTestsCollectedCountsAsResolved(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	suite := &fakeSuite{fn: func(dir, testFile string) (*checks.SuiteRun, error) {
		return suiteOutput("\nno tests ran in 0.01s\n", 5), nil
	}}
	c, _, _ := newController(t, 1, o, suite)

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusFixed, report.Status)
}

func TestRun_AlreadyResolvedInputIsIdempotent(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	c, _, _ := newController(t, 3, o, divisionSuite())

	report, err := c.Run(context.Background(), Input{Name: "calc_fixed.py", Source: guarded})
	require.NoError(t, err)
	assert.Equal(t, StatusFixed, report.Status)
	assert.Equal(t, 1, report.Iterations)
	require.Len(t, o.planReqs, 1)
	assert.Empty(t, o.planReqs[0].Findings, "guarded source has no detector findings")
}

func TestRun_PlanFailureIsNotFatal(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}, planErr: errors.New("timeout")}
	c, mem, _ := newController(t, 1, o, divisionSuite())

	report, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, StatusFixed, report.Status)
	assert.Equal(t, steplog.StatusPartial, mem.Records()[0].Status)
}

func TestRun_FindingsReachTheFixer(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	c, _, _ := newController(t, 1, o, divisionSuite())

	_, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	require.NotEmpty(t, o.fixReqs)
	assert.Contains(t, o.fixReqs[0].Feedback, "line 2")
	assert.Equal(t, "1. Guard the divisor.", o.fixReqs[0].Plan)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	c, _, _ := newController(t, 3, o, divisionSuite())

	report, err := c.Run(ctx, Input{Name: "calc.py", Source: buggy})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusAborted, report.Status)
	assert.Contains(t, report.LastDiagnostic, "context canceled")
}

func TestRun_WorkspaceRemoved(t *testing.T) {
	o := &fakeOracle{fixes: []reply{{code: guarded}}}
	c, _, _ := newController(t, 1, o, divisionSuite())

	_, err := c.Run(context.Background(), Input{Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	entries, err := os.ReadDir(c.sandbox.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ArchivesIterations(t *testing.T) {
	store := runstore.NewStore(t.TempDir())
	o := &fakeOracle{fixes: []reply{{code: buggy}, {code: guarded}}}
	c, _, _ := newController(t, 3, o, divisionSuite(), func(opts *Options) {
		opts.Archive = store
	})

	report, err := c.Run(context.Background(), Input{RunID: "run-1", Name: "calc.py", Source: buggy})
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)

	first, err := store.GetIteration("run-1", "calc.py", 1)
	require.NoError(t, err)
	assert.Equal(t, "assertion", first.Failure)
	assert.Contains(t, first.Output, "1 failed")
	assert.Contains(t, first.Tests, "from calc_temp import divide")

	var saved Report
	require.NoError(t, store.GetReport("run-1", "calc.py", &saved))
	assert.Equal(t, StatusFixed, saved.Status)
}

func TestValidate_CollectionErrorRetainsFilesWhileIterationsRemain(t *testing.T) {
	suite := &fakeSuite{fn: func(dir, testFile string) (*checks.SuiteRun, error) {
		return suiteOutput("ERROR collecting test_calc_temp.py\n1 error in 0.1s\n", 2), nil
	}}
	c, _, _ := newController(t, 3, &fakeOracle{fixes: []reply{{code: guarded}}}, suite)
	ws, err := artifact.NewWorkspace(c.sandbox, "calc.py")
	require.NoError(t, err)
	defer ws.Close()
	rec := steplog.NewRecorder(nil, nil, "r", "calc.py")

	item := WorkItem{Name: "calc.py", SourceCode: guarded, OriginalCode: buggy, MaxIterations: 3, IterationCount: 1}
	item, err = c.validate(context.Background(), rec, ws, item)
	require.NoError(t, err)
	assert.Equal(t, FailureCollection, item.LastFailure)
	assert.FileExists(t, filepath.Join(ws.Dir(), ws.SourceFile()))
	assert.FileExists(t, filepath.Join(ws.Dir(), ws.TestFile()))

	item.SourceCode = guarded
	item.IterationCount = 3
	item, err = c.validate(context.Background(), rec, ws, item)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(ws.Dir(), ws.SourceFile()))
	assert.NoFileExists(t, filepath.Join(ws.Dir(), ws.TestFile()))
}

func TestValidate_AssertionFailureDeletesFiles(t *testing.T) {
	c, _, _ := newController(t, 3, &fakeOracle{fixes: []reply{{code: buggy}}}, divisionSuite())
	ws, err := artifact.NewWorkspace(c.sandbox, "calc.py")
	require.NoError(t, err)
	defer ws.Close()

	item := WorkItem{Name: "calc.py", SourceCode: buggy, MaxIterations: 3, IterationCount: 1}
	item, err = c.validate(context.Background(), steplog.NewRecorder(nil, nil, "r", "calc.py"), ws, item)
	require.NoError(t, err)
	assert.Equal(t, FailureAssertion, item.LastFailure)
	assert.NotEmpty(t, item.PendingFeedback)
	assert.NoFileExists(t, filepath.Join(ws.Dir(), ws.SourceFile()))
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name string
		item WorkItem
		want State
	}{
		{"resolved", WorkItem{IsResolved: true, IterationCount: 3, MaxIterations: 3}, StateSuccess},
		{"budget left", WorkItem{IterationCount: 1, MaxIterations: 3}, StateAnalyze},
		{"budget spent", WorkItem{IterationCount: 3, MaxIterations: 3}, StateExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, route(tt.item))
		})
	}
}

func TestHardError(t *testing.T) {
	c, _, _ := newController(t, 1, &fakeOracle{fixes: []reply{{code: guarded}}}, divisionSuite())
	err := c.hardError("calc.py", &sandbox.PathEscapeError{Root: "/sb", Name: "../x", Path: "/x"})
	var sv *SandboxViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "calc.py", sv.Item)
	var pe *sandbox.PathEscapeError
	assert.ErrorAs(t, err, &pe)

	assert.Nil(t, asViolation(errors.New("disk full")))
}

func TestChangeSummary(t *testing.T) {
	item := WorkItem{
		IterationCount: 2, MaxIterations: 3, Plan: "1. Guard.",
		History: []Attempt{
			{Iteration: 1, Failure: FailureAssertion, Diagnostic: "TEST FAILURES: 1 failed\nmore"},
			{Iteration: 2, Resolved: true},
		},
	}
	s := changeSummary(item)
	assert.Contains(t, s, "Resolved after 2 of 3 iteration(s).")
	assert.Contains(t, s, "1. Guard.")
	assert.Contains(t, s, "- iteration 1: assertion: TEST FAILURES: 1 failed\n")
	assert.NotContains(t, s, "more")
}
