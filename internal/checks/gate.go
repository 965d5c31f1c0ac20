package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GateCheckResult is one check within a gate run.
type GateCheckResult struct {
	Check    string          `json:"check"`
	Passed   bool            `json:"passed"`
	TimedOut bool            `json:"timed_out,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Findings []PylintFinding `json:"findings,omitempty"`
}

// GateFailure is a check that did not pass.
type GateFailure struct {
	Count   int    `json:"count,omitempty"`
	Summary string `json:"summary"`
}

// GateResult is the outcome of running a set of analyzers over one file.
type GateResult struct {
	Gate              string                 `json:"gate"`
	Item              string                 `json:"item"`
	Iteration         int                    `json:"iteration"`
	Passed            bool                   `json:"passed"`
	Checks            []GateCheckResult      `json:"checks"`
	RemainingFailures map[string]GateFailure `json:"remaining_failures,omitempty"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Digest renders the failing checks for a prompt: one header line per check
// and at most max findings under it.
func (g *GateResult) Digest(max int) string {
	var b strings.Builder
	for _, c := range g.Checks {
		if c.Passed {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", c.Check, c.Summary)
		for i, f := range c.Findings {
			if i == max {
				fmt.Fprintf(&b, "  ... %d more\n", len(c.Findings)-max)
				break
			}
			fmt.Fprintf(&b, "  line %d %s %s\n", f.Line, f.Code, f.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// GateOpts configures a gate run.
type GateOpts struct {
	Gate      string
	Item      string
	Iteration int
	File      string // substituted for {file}
	Checks    []GateCheckConfig
	Continue  bool // run all checks even if some fail
}

// GateCheckConfig is one analyzer of a gate.
type GateCheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
}

// RunGate runs opts.Checks in order against opts.File in dir. Unless
// Continue is set the first failing check stops the gate. The raw results
// are returned alongside for logging.
func (r *Runner) RunGate(ctx context.Context, dir string, opts GateOpts) (*GateResult, []*Result, error) {
	gate := &GateResult{
		Gate:              opts.Gate,
		Item:              opts.Item,
		Iteration:         opts.Iteration,
		Passed:            true,
		RemainingFailures: make(map[string]GateFailure),
	}

	var all []*Result
	for _, chk := range opts.Checks {
		result, err := r.Run(ctx, dir, CheckConfig{
			Name:    chk.Name,
			Command: chk.Command,
			Parser:  chk.Parser,
			Timeout: chk.Timeout,
			File:    opts.File,
		})
		if err != nil {
			return nil, all, fmt.Errorf("run check %q: %w", chk.Name, err)
		}
		all = append(all, result)

		cr := GateCheckResult{
			Check:    chk.Name,
			Passed:   result.Passed,
			TimedOut: result.TimedOut,
			Summary:  result.Summary,
		}
		var findings []PylintFinding
		if json.Unmarshal([]byte(result.Findings), &findings) == nil {
			cr.Findings = findings
		}
		gate.Checks = append(gate.Checks, cr)

		if result.Passed {
			continue
		}
		gate.Passed = false
		gate.RemainingFailures[chk.Name] = GateFailure{Count: len(cr.Findings), Summary: result.Summary}
		if !opts.Continue {
			break
		}
	}
	return gate, all, nil
}
