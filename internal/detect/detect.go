// Package detect flags common defect patterns in Python source with
// line-level heuristics. Findings are advisory: they augment feedback and
// never block execution.
package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/mender/internal/feedback"
)

// Category groups findings for presentation.
type Category string

const (
	RuntimeError  Category = "RUNTIME_ERROR"
	LogicError    Category = "LOGIC_ERROR"
	DataStructure Category = "DATA_STRUCTURE"
)

// Severity ranks findings.
type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
)

// Finding is one flagged line. It is never mutated after creation.
type Finding struct {
	Line         int      `json:"line"`
	Rule         string   `json:"rule"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix"`
}

const (
	lookBehind  = 5
	lookAhead   = 2
	loopHorizon = 20
)

// line is one source line prepared for matching.
type line struct {
	num  int    // 1-based
	raw  string // trimmed original
	code string // comment stripped
	bare string // comment stripped, string contents blanked
	skip bool   // blank, comment, or inside a docstring
}

// scan is the per-source state the rules evaluate against.
type scan struct {
	lines []line
}

// context returns the comment-stripped text around index i.
func (s *scan) context(i int) string {
	from := i - lookBehind
	if from < 0 {
		from = 0
	}
	to := i + lookAhead + 1
	if to > len(s.lines) {
		to = len(s.lines)
	}
	parts := make([]string, 0, to-from)
	for _, l := range s.lines[from:to] {
		parts = append(parts, l.code)
	}
	return strings.Join(parts, "\n")
}

// forward returns the loopHorizon lines after index i.
func (s *scan) forward(i int) string {
	to := i + 1 + loopHorizon
	if to > len(s.lines) {
		to = len(s.lines)
	}
	var parts []string
	for _, l := range s.lines[i+1 : to] {
		parts = append(parts, l.code)
	}
	return strings.Join(parts, "\n")
}

type rule struct {
	name     string
	category Category
	severity Severity
	describe string
	fix      string
	// match reports whether the line is a candidate.
	match func(l line) bool
	// guarded reports whether the surrounding code already handles it.
	guarded func(s *scan, i int) bool
}

var rules = []rule{
	{
		name:     "unchecked-division",
		category: RuntimeError,
		severity: Critical,
		describe: "Division without zero check",
		fix:      "Check the divisor first: if denominator == 0: return a safe default (or raise ValueError)",
		match:    matchDivision,
		guarded:  evidence(`==\s*0\b`, `!=\s*0\b`, `>\s*0\b`, `\bif\s+not\b`, `\btry\b`, `ZeroDivisionError`),
	},
	{
		name:     "unchecked-index",
		category: RuntimeError,
		severity: High,
		describe: "Indexed access without bounds check",
		fix:      "Check the index first: if 0 <= index < len(seq): ...",
		match:    matchIndex,
		guarded: func(s *scan, i int) bool {
			ctx := s.context(i)
			return strings.Contains(ctx, "len(") ||
				membershipGuard.MatchString(ctx) ||
				tryGuard.MatchString(ctx) ||
				strings.Contains(ctx, "IndexError")
		},
	},
	{
		name:     "unchecked-key",
		category: RuntimeError,
		severity: High,
		describe: "Key access without existence check",
		fix:      "Use .get(key, default) or check: if key in mapping: ...",
		match:    matchKey,
		guarded: func(s *scan, i int) bool {
			ctx := s.context(i)
			return membershipGuard.MatchString(ctx) ||
				strings.Contains(ctx, ".get(") ||
				tryGuard.MatchString(ctx) ||
				strings.Contains(ctx, "KeyError")
		},
	},
	{
		name:     "empty-aggregation",
		category: RuntimeError,
		severity: High,
		describe: "Aggregation over a possibly empty collection",
		fix:      "Check the collection first: if not items: return a default value",
		match:    matchAggregation,
		guarded:  evidence(`\bif\s+not\b`, `\bif\s+len\b`, `\btry\b`, `default\s*=`, `ValueError`),
	},
	{
		name:     "mutable-default",
		category: DataStructure,
		severity: High,
		describe: "Mutable default argument",
		fix:      "Default to None and create the value inside: def f(arg=None): arg = [] if arg is None else arg",
		match:    matchMutableDefault,
		guarded:  func(*scan, int) bool { return false },
	},
	{
		name:     "infinite-loop",
		category: LogicError,
		severity: Critical,
		describe: "Potential infinite loop without exit",
		fix:      "Add a break condition or a return statement",
		match:    matchInfiniteLoop,
		guarded: func(s *scan, i int) bool {
			return loopExit.MatchString(s.forward(i))
		},
	},
}

var (
	tryGuard        = regexp.MustCompile(`\btry\b`)
	membershipGuard = regexp.MustCompile(`\bif\b.*\bin\b`)
	loopExit        = regexp.MustCompile(`\b(break|return|raise)\b|sys\.exit\(`)
	keywordArg      = regexp.MustCompile(`^\w+\s*=[^=]`)
)

func evidence(patterns ...string) func(s *scan, i int) bool {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return func(s *scan, i int) bool {
		ctx := s.context(i)
		for _, re := range res {
			if re.MatchString(ctx) {
				return true
			}
		}
		return false
	}
}

var (
	divisionRe     = regexp.MustCompile(`[\w)\]]\s*(//|/|%)\s*([\w.(\[]+)`)
	augDivisionRe  = regexp.MustCompile(`(//=|/=|%=)\s*([\w.(\[]+)`)
	nonZeroLiteral = regexp.MustCompile(`^(0*[1-9]\d*(\.\d*)?|0*\.\d*[1-9]\d*|\d+(\.\d*)?[eE][+-]?\d+)$`)
	indexRe        = regexp.MustCompile(`\b([A-Za-z_]\w*)\[\s*-?\w+\s*\]`)
	keyRe          = regexp.MustCompile(`\b([A-Za-z_]\w*)\[\s*['"]\w+['"]\s*\]`)
	aggregateRe    = regexp.MustCompile(`\b(sum|max|min|average|mean)\(`)
	defRe          = regexp.MustCompile(`^\s*(async\s+)?def\s+\w+\s*\(`)
	mutableRe      = regexp.MustCompile(`=\s*(\[|\{|(list|dict|set)\(\s*\))`)
	whileTrueRe    = regexp.MustCompile(`^\s*while\s+(True|1)\s*:`)
)

// typeNames are subscripted in annotations, not indexed at runtime.
var typeNames = map[string]bool{
	"list": true, "dict": true, "tuple": true, "set": true, "type": true,
	"List": true, "Dict": true, "Tuple": true, "Set": true, "Optional": true,
	"Union": true, "Callable": true, "Iterable": true, "Sequence": true,
	"Mapping": true, "frozenset": true,
}

func matchDivision(l line) bool {
	for _, m := range divisionRe.FindAllStringSubmatch(l.bare, -1) {
		if !nonZeroLiteral.MatchString(m[2]) {
			return true
		}
	}
	for _, m := range augDivisionRe.FindAllStringSubmatch(l.bare, -1) {
		if !nonZeroLiteral.MatchString(m[2]) {
			return true
		}
	}
	return false
}

func matchIndex(l line) bool {
	for _, m := range indexRe.FindAllStringSubmatch(l.bare, -1) {
		if !typeNames[m[1]] {
			return true
		}
	}
	return false
}

func matchKey(l line) bool {
	for _, m := range keyRe.FindAllStringSubmatch(l.code, -1) {
		if !typeNames[m[1]] && !strings.Contains(strings.ToLower(m[1]), "list") {
			return true
		}
	}
	return false
}

func matchAggregation(l line) bool {
	for _, loc := range aggregateRe.FindAllStringIndex(l.bare, -1) {
		args := callArgs(l.bare[loc[1]:])
		if !multiPositional(args) {
			return true
		}
	}
	return false
}

func matchMutableDefault(l line) bool {
	loc := defRe.FindStringIndex(l.bare)
	if loc == nil {
		return false
	}
	return mutableRe.MatchString(callArgs(l.bare[loc[1]:]))
}

func matchInfiniteLoop(l line) bool {
	return whileTrueRe.MatchString(l.bare)
}

// callArgs returns the text up to the parenthesis closing an already
// opened call, or the rest of the line if it does not close.
func callArgs(s string) string {
	depth := 1
	for i, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return s[:i]
			}
		}
	}
	return s
}

// multiPositional reports whether args holds two or more positional
// arguments, e.g. max(a, b), which cannot be empty.
func multiPositional(args string) bool {
	depth := 0
	positional := 0
	start := 0
	flush := func(part string) {
		part = strings.TrimSpace(part)
		if part != "" && !keywordArg.MatchString(part) {
			positional++
		}
	}
	for i, r := range args {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				flush(args[start:i])
				start = i + 1
			}
		}
	}
	flush(args[start:])
	return positional >= 2
}

// Detect scans src and returns line-ordered findings.
func Detect(src string) []Finding {
	s := prepare(src)
	var findings []Finding
	for i, l := range s.lines {
		if l.skip {
			continue
		}
		for _, r := range rules {
			if !r.match(l) || r.guarded(s, i) {
				continue
			}
			findings = append(findings, Finding{
				Line:         l.num,
				Rule:         r.name,
				Category:     r.category,
				Severity:     r.severity,
				Description:  fmt.Sprintf("%s: `%s`", r.describe, l.raw),
				SuggestedFix: r.fix,
			})
		}
	}
	sort.SliceStable(findings, func(a, b int) bool { return findings[a].Line < findings[b].Line })
	return findings
}

// prepare splits src into lines, strips comments, blanks string contents
// and marks docstring bodies.
func prepare(src string) *scan {
	raw := strings.Split(src, "\n")
	s := &scan{lines: make([]line, len(raw))}
	var inDoc string // active triple-quote delimiter
	for i, text := range raw {
		l := line{num: i + 1, raw: strings.TrimSpace(text)}
		switch {
		case inDoc != "":
			l.skip = true
			if strings.Contains(text, inDoc) {
				inDoc = ""
			}
		case l.raw == "" || strings.HasPrefix(l.raw, "#"):
			l.skip = true
		default:
			if d := openTriple(text); d != "" {
				inDoc = d
			}
			l.bare = blankStrings(text)
			if idx := strings.IndexByte(l.bare, '#'); idx >= 0 {
				l.bare = l.bare[:idx]
				l.code = text[:idx]
			} else {
				l.code = text
			}
		}
		s.lines[i] = l
	}
	return s
}

// openTriple returns the delimiter if text opens a triple-quoted string
// that it does not also close.
func openTriple(text string) string {
	for _, d := range []string{`"""`, `'''`} {
		if strings.Count(text, d)%2 == 1 {
			return d
		}
	}
	return ""
}

// blankStrings replaces string-literal contents with spaces, keeping the
// quotes and the line length.
func blankStrings(text string) string {
	b := []byte(text)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote != 0 && c == '\\' && i+1 < len(b):
			b[i], b[i+1] = ' ', ' '
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			b[i] = ' '
		}
	}
	return string(b)
}

// Summary renders counts per severity, e.g. "3 findings (1 CRITICAL, 2 HIGH)".
func Summary(findings []Finding) string {
	if len(findings) == 0 {
		return "no findings"
	}
	counts := map[Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	var parts []string
	for _, sev := range []Severity{Critical, High, Medium} {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	noun := "findings"
	if len(findings) == 1 {
		noun = "finding"
	}
	return fmt.Sprintf("%d %s (%s)", len(findings), noun, strings.Join(parts, ", "))
}

// Report groups findings by category, in order of first appearance.
func Report(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var order []Category
	groups := map[Category][]Finding{}
	for _, f := range findings {
		if _, ok := groups[f.Category]; !ok {
			order = append(order, f.Category)
		}
		groups[f.Category] = append(groups[f.Category], f)
	}
	var b strings.Builder
	b.WriteString("PATTERN DETECTION FINDINGS:\n")
	for _, c := range order {
		fmt.Fprintf(&b, "\n%s (%d):\n", c, len(groups[c]))
		for _, f := range groups[c] {
			fmt.Fprintf(&b, "  - [%s] line %d: %s\n    Fix: %s\n", f.Severity, f.Line, f.Description, f.SuggestedFix)
		}
	}
	return b.String()
}

// ToFeedback converts findings into pending feedback items.
func ToFeedback(findings []Finding) []feedback.Item {
	items := make([]feedback.Item, 0, len(findings))
	for _, f := range findings {
		items = append(items, feedback.Item{
			Severity:        string(f.Severity),
			Location:        fmt.Sprintf("line %d", f.Line),
			Description:     f.Description,
			SuggestedAction: f.SuggestedFix,
		})
	}
	return items
}
