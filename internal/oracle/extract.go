package oracle

import (
	"errors"
	"regexp"
	"strings"
)

// MinCodeLen is the shortest extraction accepted as real output.
const MinCodeLen = 50

// ErrImplausible means the reply did not contain usable code.
var ErrImplausible = errors.New("oracle reply too short to be code")

var fenceRe = regexp.MustCompile("(?s)```[ \t]*([A-Za-z0-9_+.-]*)[ \t]*\r?\n(.*?)```")

var codeStarts = []string{"import ", "from ", "def ", "async def ", "class ", "@", `"""`, "'''", "#"}

var proseStops = []string{"explanation:", "note:", "notes:", "changes made:", "key changes:", "summary of changes", "this code ", "the above "}

var proseLeads = []string{"here is", "here's", "the corrected", "the fixed", "below is", "sure", "certainly"}

// ExtractCode pulls source out of a free-text reply. The largest fenced
// block wins; otherwise the span from the first definition-like line to the
// last code-like line is used.
func ExtractCode(text string) (string, error) {
	code := largestFence(text)
	if code == "" {
		code = heuristic(text)
	}
	code = strings.TrimSpace(code)
	if len(code) < MinCodeLen {
		return "", ErrImplausible
	}
	return code + "\n", nil
}

func largestFence(text string) string {
	var best string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if len(m[2]) > len(best) {
			best = m[2]
		}
	}
	if best != "" {
		return best
	}
	// A reply cut off mid-block has an opening fence only.
	if idx := strings.Index(text, "```"); idx >= 0 && strings.Count(text, "```") == 1 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			return rest[nl+1:]
		}
	}
	return ""
}

func heuristic(text string) string {
	lines := strings.Split(text, "\n")
	start := -1
	for i, l := range lines {
		lower := strings.ToLower(strings.TrimSpace(l))
		if hasAnyPrefix(lower, proseLeads) {
			continue
		}
		if hasAnyPrefix(l, codeStarts) {
			start = i
			break
		}
	}
	if start < 0 {
		return text
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		lower := strings.ToLower(strings.TrimSpace(lines[i]))
		if hasAnyPrefix(lower, proseStops) || strings.HasPrefix(lower, "**") {
			end = i
			break
		}
	}
	for end > start+1 && !codeLike(lines[end-1]) {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// codeLike rejects blank lines and unindented sentences.
func codeLike(l string) bool {
	t := strings.TrimSpace(l)
	if t == "" {
		return false
	}
	if l != strings.TrimLeft(l, " \t") {
		return true
	}
	if hasAnyPrefix(t, codeStarts) || strings.ContainsAny(t, "=()[]{}:") {
		return true
	}
	return !strings.Contains(t, " ")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// unwrapFence strips a single enclosing fence tagged with one of langs.
func unwrapFence(text string, langs ...string) string {
	t := strings.TrimSpace(text)
	m := fenceRe.FindStringSubmatch(t)
	if m == nil || !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") {
		return text
	}
	for _, l := range langs {
		if strings.EqualFold(m[1], l) {
			return m[2]
		}
	}
	return text
}
