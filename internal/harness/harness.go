// Package harness pre-flights generated test modules so that a broken test
// generator is never mistaken for broken candidate code.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/pyast"
)

// FailureKind classifies why a test module was rejected.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureSyntax      FailureKind = "syntax"
	FailureLoad        FailureKind = "load"
	FailureLoadTimeout FailureKind = "load-timeout"
	FailureEmpty       FailureKind = "empty"
)

// Result is the outcome of validating one generated test module.
type Result struct {
	OK         bool        `json:"ok"`
	Failure    FailureKind `json:"failure,omitempty"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Tests      []string    `json:"tests,omitempty"`
}

const marker = "__MENDER_TESTS__"

// bootstrap executes the test module read from stdin as a fresh module with
// the source directory first on sys.path, then prints the discovered test
// names after marker.
const bootstrap = `import json, sys, types
sys.path.insert(0, sys.argv[1])
code = sys.stdin.read()
mod = types.ModuleType("generated_tests")
mod.__file__ = "generated_tests.py"
sys.modules["generated_tests"] = mod
exec(compile(code, "generated_tests.py", "exec"), mod.__dict__)
names = sorted(
    n for n, v in vars(mod).items()
    if (n.startswith("test") and callable(v) and not isinstance(v, type))
    or (n.startswith("Test") and isinstance(v, type))
)
print("` + marker + `" + json.dumps(names))
`

// Validator runs the parse, load and non-empty checks in order.
type Validator struct {
	cmd     checks.CommandRunner
	python  string
	timeout time.Duration
}

// New returns a Validator. A zero timeout defaults to 15s.
func New(cmd checks.CommandRunner, python string, timeout time.Duration) *Validator {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Validator{cmd: cmd, python: python, timeout: timeout}
}

// Validate checks testSrc against the module at sourcePath. The first
// failing check short-circuits the rest.
func (v *Validator) Validate(ctx context.Context, testSrc, sourcePath string) Result {
	if serr := pyast.Check(ctx, []byte(testSrc)); serr != nil {
		return fail(FailureSyntax, fmt.Sprintf("generated test module does not parse at line %d: %s", serr.Line, serr.Message))
	}

	names, res, ok := v.load(ctx, testSrc, filepath.Dir(sourcePath))
	if !ok {
		return res
	}
	if len(names) == 0 {
		return fail(FailureEmpty, "generated test module loaded but defines no test_* functions or Test* classes")
	}
	return Result{OK: true, Tests: names}
}

func (v *Validator) load(ctx context.Context, testSrc, dir string) ([]string, Result, bool) {
	loadCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	stdout, stderr, exitCode, err := v.cmd.Run(loadCtx, checks.Command{
		Dir:   dir,
		Name:  v.python,
		Args:  []string{"-c", bootstrap, dir},
		Stdin: testSrc,
		Env:   []string{"PYTHONDONTWRITEBYTECODE=1"},
	})
	if err != nil {
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fail(FailureLoadTimeout, fmt.Sprintf("importing the generated test module did not finish within %s", v.timeout)), false
		}
		return nil, fail(FailureLoad, fmt.Sprintf("could not start %s: %v", v.python, err)), false
	}
	if exitCode != 0 {
		return nil, fail(FailureLoad, "importing the generated test module failed:\n"+tail(stderr, 1500)), false
	}

	idx := strings.LastIndex(stdout, marker)
	if idx < 0 {
		return nil, fail(FailureLoad, "import check produced no result"), false
	}
	var names []string
	payload := strings.TrimSpace(stdout[idx+len(marker):])
	if err := json.Unmarshal([]byte(payload), &names); err != nil {
		return nil, fail(FailureLoad, fmt.Sprintf("import check produced unreadable result: %v", err)), false
	}
	return names, Result{}, true
}

func fail(kind FailureKind, detail string) Result {
	return Result{
		Failure: kind,
		Diagnostic: fmt.Sprintf("TEST HARNESS ERROR (%s): %s\n"+
			"The generated tests are at fault, not the candidate source; the candidate was not evaluated. "+
			"Do not change the code in response to this error.", kind, detail),
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
