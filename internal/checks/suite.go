package checks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SuiteRun is one execution of a generated test module.
type SuiteRun struct {
	Output   string          `json:"output"`
	ExitCode int             `json:"exit_code"`
	TimedOut bool            `json:"timed_out"`
	Duration time.Duration   `json:"duration"`
	Result   ExecutionResult `json:"result"`
}

// SuiteRunner executes pytest once against a workspace directory.
type SuiteRunner struct {
	cmd     CommandRunner
	python  string
	timeout time.Duration
}

// NewSuiteRunner returns a SuiteRunner. A zero timeout defaults to 30s.
func NewSuiteRunner(cmd CommandRunner, python string, timeout time.Duration) *SuiteRunner {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SuiteRunner{cmd: cmd, python: python, timeout: timeout}
}

// Timeout returns the wall-clock limit for one run.
func (s *SuiteRunner) Timeout() time.Duration { return s.timeout }

// Run executes testFile from dir. A timeout is reported through
// SuiteRun.TimedOut rather than as an error; the error return is reserved
// for failures to start the interpreter and for parent cancellation.
func (s *SuiteRunner) Run(ctx context.Context, dir, testFile string) (*SuiteRun, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c := Command{
		Dir:  dir,
		Name: s.python,
		Args: []string{"-m", "pytest", "-q", "--tb=short", "-p", "no:cacheprovider", "--rootdir", dir, testFile},
		Env:  []string{"PYTHONDONTWRITEBYTECODE=1"},
	}

	start := time.Now()
	stdout, stderr, exitCode, err := s.cmd.Run(runCtx, c)
	run := &SuiteRun{
		Output:   joinOutput(stdout, stderr),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			run.TimedOut = true
			run.ExitCode = -1
			return run, nil
		}
		return nil, fmt.Errorf("run test suite: %w", err)
	}
	run.Result = NewExecutionResult(run.Output, exitCode)
	return run, nil
}

func joinOutput(stdout, stderr string) string {
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}
