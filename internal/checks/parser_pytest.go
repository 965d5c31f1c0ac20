package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pytest exit statuses.
const (
	PytestOK          = 0
	PytestFailures    = 1
	PytestInterrupted = 2
	PytestInternal    = 3
	PytestUsage       = 4
	PytestNoTests     = 5
)

// Classification is the count summary parsed from pytest output.
type Classification struct {
	Passed          int  `json:"passed"`
	Failed          int  `json:"failed"`
	Errors          int  `json:"errors"`
	CollectionError bool `json:"collection_error"`
	HasTests        bool `json:"has_tests"`
}

var (
	passedRe = regexp.MustCompile(`(\d+)\s+passed`)
	failedRe = regexp.MustCompile(`(\d+)\s+failed`)
	errorRe  = regexp.MustCompile(`(\d+)\s+error`)

	// summaryRe matches pytest's closing line, e.g.
	// "=== 1 failed, 2 passed in 0.03s ===" or "1 passed in 1.20s (0:00:01)".
	summaryRe = regexp.MustCompile(`\b\d+\s+(?:passed|failed|errors?|skipped|xfailed|xpassed|warnings?|deselected)\b.*\bin\s+[\d.]+s\b`)
)

var collectionMarkers = []string{
	"ERROR collecting",
	"Interrupted:",
	"errors during collection",
	"error during collection",
	"ImportError while importing test module",
}

var noTestsMarkers = []string{
	"no tests ran",
	"no tests collected",
	"collected 0 items",
}

func count(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	return n, true
}

// summaryLine returns the last pytest summary line in output, or output
// itself when there is none.
func summaryLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if summaryRe.MatchString(lines[i]) {
			return lines[i]
		}
	}
	return output
}

// ClassifyPytest extracts counts from the summary line and derives the
// collection-error and has-tests flags.
func ClassifyPytest(output string) Classification {
	var c Classification
	var hasP, hasF, hasE bool
	summary := summaryLine(output)
	c.Passed, hasP = count(passedRe, summary)
	c.Failed, hasF = count(failedRe, summary)
	c.Errors, hasE = count(errorRe, summary)

	for _, m := range collectionMarkers {
		if strings.Contains(output, m) {
			c.CollectionError = true
			break
		}
	}
	if c.Errors > 0 && c.Passed == 0 && c.Failed == 0 {
		c.CollectionError = true
	}

	c.HasTests = true
	if !hasP && !hasF && !hasE {
		lower := strings.ToLower(output)
		for _, m := range noTestsMarkers {
			if strings.Contains(lower, m) {
				c.HasTests = false
				break
			}
		}
	}
	return c
}

// ExecutionResult is a classified test-suite run. A collection error always
// carries Passed == 0.
type ExecutionResult struct {
	Passed          int    `json:"passed"`
	Failed          int    `json:"failed"`
	CollectionError bool   `json:"collection_error"`
	HasTests        bool   `json:"has_tests"`
	ExitCode        int    `json:"exit_code"`
	Raw             string `json:"-"`
}

// NewExecutionResult classifies output together with the exit status.
// Errors outside collection count as failures. An exit status that reports
// trouble without any parsable counts is never read as success.
func NewExecutionResult(output string, exitCode int) ExecutionResult {
	c := ClassifyPytest(output)
	r := ExecutionResult{
		Passed:          c.Passed,
		Failed:          c.Failed + c.Errors,
		CollectionError: c.CollectionError,
		HasTests:        c.HasTests,
		ExitCode:        exitCode,
		Raw:             output,
	}
	counted := c.Passed+c.Failed+c.Errors > 0
	switch exitCode {
	case PytestOK:
	case PytestNoTests:
		r.HasTests = false
	case PytestFailures:
		if r.Failed == 0 && !r.CollectionError {
			r.Failed = 1
		}
	default:
		if !counted {
			r.CollectionError = true
		}
	}
	if r.CollectionError {
		r.Passed = 0
	}
	return r
}

// Succeeded reports whether the run counts as resolved.
func (r ExecutionResult) Succeeded() bool {
	return !r.CollectionError && r.Failed == 0
}

// PytestParser adapts ClassifyPytest to the Parser interface.
type PytestParser struct{}

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	combined := stdout
	if stderr != "" {
		combined += "\n" + stderr
	}
	r := NewExecutionResult(combined, exitCode)
	summary := fmt.Sprintf("%d passed, %d failed", r.Passed, r.Failed)
	switch {
	case r.CollectionError:
		summary = "collection error: " + summary
	case !r.HasTests:
		summary = "no tests collected"
	}
	return ParseResult{
		Passed:   r.Succeeded(),
		Summary:  summary,
		Findings: r,
	}
}
