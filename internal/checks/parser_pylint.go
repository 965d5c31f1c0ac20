package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PylintParser parses pylint's parseable/text output.
type PylintParser struct{}

// PylintFinding is one message from pylint.
type PylintFinding struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Kind maps the message code to pylint's category letter.
func (f PylintFinding) Kind() string {
	if f.Code == "" {
		return ""
	}
	return f.Code[:1]
}

// file.py:12:4: E0602: Undefined variable 'x' (undefined-variable)
// file.py:12: [E0602(undefined-variable), f] Undefined variable 'x'
var (
	pylintTextRe      = regexp.MustCompile(`^(?:.*?):(\d+):(?:\d+:)?\s*([CRWEF]\d{4}):?\s*(.*)$`)
	pylintParseableRe = regexp.MustCompile(`^(?:.*?):(\d+):\s*\[([CRWEF]\d{4})(?:\([^)]*\))?(?:,[^\]]*)?\]\s*(.*)$`)
)

// ParseLines keeps error, warning and convention messages and drops the
// file path.
func (p *PylintParser) ParseLines(output string) []PylintFinding {
	var out []PylintFinding
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, ": E") && !strings.Contains(line, ": W") &&
			!strings.Contains(line, ": C") && !strings.Contains(line, ": [") {
			continue
		}
		m := pylintTextRe.FindStringSubmatch(line)
		if m == nil {
			m = pylintParseableRe.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		kind := m[2][:1]
		if kind != "E" && kind != "W" && kind != "C" {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		out = append(out, PylintFinding{Line: n, Code: m[2], Message: strings.TrimSpace(m[3])})
	}
	return out
}

func (p *PylintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	findings := p.ParseLines(stdout)
	if len(findings) == 0 && exitCode != 0 && strings.TrimSpace(stdout) == "" {
		return ParseResult{
			Passed:   false,
			Summary:  fmt.Sprintf("pylint did not run (exit code %d)", exitCode),
			Findings: []PylintFinding{},
		}
	}
	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Kind()]++
	}
	if len(findings) == 0 {
		return ParseResult{Passed: true, Summary: "code quality is good", Findings: []PylintFinding{}}
	}
	return ParseResult{
		Passed:   counts["E"] == 0,
		Summary:  fmt.Sprintf("%d errors, %d warnings, %d conventions", counts["E"], counts["W"], counts["C"]),
		Findings: findings,
	}
}
