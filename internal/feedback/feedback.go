// Package feedback turns raw test output and findings into the bounded,
// structured feedback handed to the next repair attempt.
package feedback

import (
	"fmt"
	"strings"
)

// Item is one piece of pending feedback for the oracle.
type Item struct {
	Severity        string `json:"severity"`
	Location        string `json:"location"`
	Description     string `json:"description"`
	SuggestedAction string `json:"suggested_action"`
}

// Format renders items as a numbered list.
func Format(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. [%s]", i+1, it.Severity)
		if it.Location != "" {
			fmt.Fprintf(&b, " %s:", it.Location)
		}
		fmt.Fprintf(&b, " %s\n", it.Description)
		if it.SuggestedAction != "" {
			fmt.Fprintf(&b, "   Fix: %s\n", it.SuggestedAction)
		}
	}
	return b.String()
}

const (
	// MaxExcerpts is how many distinct excerpts Extract keeps.
	MaxExcerpts = 3
	// MaxBytes bounds the size of Extract's output.
	MaxBytes = 2048
	// FallbackChars is how much trailing output is kept when nothing matches.
	FallbackChars = 600

	separator = "\n\n---\n\n"
)

type strategy func(lines []string) []string

// Extract mines the most useful failure excerpts from raw test output.
// Strategies run in priority order and their results are deduplicated by
// exact text; the first MaxExcerpts survive.
func Extract(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	strategies := []strategy{collectionErrors, assertionBlocks, expectedActual, failedLines}

	seen := make(map[string]bool)
	var picked []string
	for _, s := range strategies {
		for _, ex := range s(lines) {
			if len(picked) == MaxExcerpts {
				break
			}
			if len(strings.TrimSpace(ex)) <= 10 || seen[ex] {
				continue
			}
			seen[ex] = true
			picked = append(picked, ex)
		}
	}

	var out string
	if len(picked) > 0 {
		out = strings.Join(picked, separator)
	} else {
		out = tail(raw, FallbackChars)
	}
	return bound(out, MaxBytes)
}

// Items wraps Extract's excerpts as feedback items.
func Items(raw string) []Item {
	text := Extract(raw)
	if text == "" {
		return nil
	}
	var items []Item
	for _, ex := range strings.Split(text, separator) {
		items = append(items, Item{
			Severity:        "HIGH",
			Location:        "tests",
			Description:     ex,
			SuggestedAction: "Make the code satisfy this test; do not change the test's expectations.",
		})
	}
	return items
}

func window(lines []string, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(lines) {
		to = len(lines)
	}
	return strings.Join(lines[from:to], "\n")
}

var collectionMarkers = []string{
	"ERROR collecting",
	"ImportError",
	"ModuleNotFoundError",
	"errors during collection",
	"Interrupted:",
}

func collectionErrors(lines []string) []string {
	var out []string
	for i, line := range lines {
		for _, m := range collectionMarkers {
			if strings.Contains(line, m) {
				out = append(out, window(lines, i, i+8))
				break
			}
		}
	}
	return out
}

func assertionBlocks(lines []string) []string {
	var out []string
	for i, line := range lines {
		if strings.Contains(line, "AssertionError") ||
			(strings.Contains(strings.ToLower(line), "assert") && strings.Contains(line, "==")) {
			ctx := window(lines, i-3, i+5)
			if len(strings.TrimSpace(ctx)) > 20 {
				out = append(out, ctx)
			}
		}
	}
	return out
}

func expectedActual(lines []string) []string {
	var out []string
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "expected") || strings.Contains(lower, "actual") || strings.Contains(line, "!=") {
			ctx := window(lines, i-1, i+3)
			if len(strings.TrimSpace(ctx)) > 20 {
				out = append(out, ctx)
			}
		}
	}
	return out
}

func failedLines(lines []string) []string {
	var out []string
	for i, line := range lines {
		if strings.Contains(line, "FAILED") {
			out = append(out, window(lines, i, i+8))
		}
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8Start(s[start]) {
		start++
	}
	return s[start:]
}

// bound truncates s to at most n bytes, keeping the start, which holds the
// highest-priority excerpt.
func bound(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const marker = "\n…(truncated)"
	cut := n - len(marker)
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
