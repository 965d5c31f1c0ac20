package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string `json:"check_name"`
	Passed     bool   `json:"passed"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// CheckConfig mirrors config.Check with the fields the runner needs.
type CheckConfig struct {
	Name    string
	Command string // shell command; {file} is replaced with the quoted target
	Parser  string
	Timeout time.Duration
	File    string
}

// Command is one subprocess invocation.
type Command struct {
	Dir   string
	Name  string
	Args  []string
	Stdin string
	Env   []string // appended to the parent environment
}

// Shell wraps a shell snippet as a Command.
func Shell(dir, script string) Command {
	return Command{Dir: dir, Name: "sh", Args: []string{"-c", script}}
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, c Command) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. Children run in their
// own process group, which is killed as a whole when ctx is done.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after a kill.
	WaitDelay time.Duration
}

func (e *ExecRunner) Run(ctx context.Context, c Command) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, ctxErr
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["pylint"] = &PylintParser{}
	r.parsers["pytest"] = &PytestParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// Parsers lists the registered parser names.
func (r *Runner) Parsers() []string {
	names := make([]string, 0, len(r.parsers))
	for n := range r.parsers {
		names = append(names, n)
	}
	return names
}

// Run executes a single check in the given directory.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := cfg.Command
	if cfg.File != "" {
		command = strings.ReplaceAll(command, "{file}", shellQuote(cfg.File))
	}

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, Shell(dir, command))
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{
				CheckName:  cfg.Name,
				Passed:     false,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}

	parsed := parser.Parse(stdout, stderr, exitCode)

	findingsJSON, _ := json.Marshal(parsed.Findings)

	return &Result{
		CheckName:  cfg.Name,
		Passed:     parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   string(findingsJSON),
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
