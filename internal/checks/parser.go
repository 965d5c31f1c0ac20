package checks

import (
	"fmt"
	"strings"
)

// ParseResult is what a check reports after its output has been read.
type ParseResult struct {
	Passed   bool   `json:"passed"`
	Summary  string `json:"summary"`
	Findings any    `json:"findings"`
}

// Parser turns the raw output of one tool into a ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

// maxOutputLen bounds the output kept for a failing check.
const maxOutputLen = 8000

const tracebackHeader = "Traceback (most recent call last):"

// GenericParser judges by exit code alone. On failure it keeps the last
// Python traceback when there is one, otherwise the tail of the output.
type GenericParser struct{}

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)", Findings: ""}
	}

	combined := strings.TrimRight(stdout, "\n")
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}

	summary := fmt.Sprintf("exit code %d", exitCode)
	if i := strings.LastIndex(combined, tracebackHeader); i >= 0 {
		combined = combined[i:]
		if last := lastLine(combined); last != "" {
			summary += ": " + last
		}
	}
	if len(combined) > maxOutputLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}
	return ParseResult{Passed: false, Summary: summary, Findings: combined}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
