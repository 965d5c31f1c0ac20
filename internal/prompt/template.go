package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Vars maps template variable names to values.
type Vars map[string]string

// tagRe matches {{#if name}}, {{#unless name}}, {{/if}}, {{/unless}},
// {{else}} and {{name}}.
var tagRe = regexp.MustCompile(`\{\{(?:(#if|#unless)\s+([a-zA-Z_][a-zA-Z0-9_]*)|(/if|/unless|else)|([a-zA-Z_][a-zA-Z0-9_]*))\s*\}\}`)

type node struct {
	text  string
	name  string // variable reference when block is nil
	block *block
}

type block struct {
	kind   string // "if" or "unless"
	cond   string
	then   []node
	orElse []node
	inElse bool
}

func (b *block) add(n node) {
	if b.inElse {
		b.orElse = append(b.orElse, n)
	} else {
		b.then = append(b.then, n)
	}
}

func (b *block) taken(vars Vars) bool {
	set := vars[b.cond] != ""
	if b.kind == "unless" {
		return !set
	}
	return set
}

// Render expands tmpl. {{name}} is replaced by its value and must be
// present in vars unless it sits in a branch that is not taken.
// {{#if name}} keeps its body when the value is non-empty, {{#unless name}}
// when it is empty; either may carry an {{else}}. Values are inserted
// verbatim and never expanded again.
func Render(tmpl string, vars Vars) (string, error) {
	nodes, err := parse(tmpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var missing []string
	seen := map[string]bool{}
	var walk func([]node)
	walk = func(ns []node) {
		for _, n := range ns {
			switch {
			case n.block != nil:
				if n.block.taken(vars) {
					walk(n.block.then)
				} else {
					walk(n.block.orElse)
				}
			case n.name != "":
				if v, ok := vars[n.name]; ok {
					b.WriteString(v)
				} else if !seen[n.name] {
					seen[n.name] = true
					missing = append(missing, n.name)
				}
			default:
				b.WriteString(n.text)
			}
		}
	}
	walk(nodes)
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return b.String(), nil
}

func parse(tmpl string) ([]node, error) {
	var root []node
	var stack []*block
	emit := func(n node) {
		if len(stack) == 0 {
			root = append(root, n)
			return
		}
		stack[len(stack)-1].add(n)
	}

	pos := 0
	for _, m := range tagRe.FindAllStringSubmatchIndex(tmpl, -1) {
		if m[0] > pos {
			emit(node{text: tmpl[pos:m[0]]})
		}
		pos = m[1]
		tag := tmpl[m[0]:m[1]]
		switch {
		case m[2] >= 0:
			stack = append(stack, &block{kind: tmpl[m[2]+1 : m[3]], cond: tmpl[m[4]:m[5]]})
		case m[6] >= 0:
			word := tmpl[m[6]:m[7]]
			if len(stack) == 0 {
				return nil, fmt.Errorf("dangling %s without an open conditional", tag)
			}
			top := stack[len(stack)-1]
			if word == "else" {
				if top.inElse {
					return nil, fmt.Errorf("second {{else}} in {{#%s %s}}", top.kind, top.cond)
				}
				top.inElse = true
				continue
			}
			if word[1:] != top.kind {
				return nil, fmt.Errorf("%s closes {{#%s %s}}", tag, top.kind, top.cond)
			}
			stack = stack[:len(stack)-1]
			emit(node{block: top})
		default:
			emit(node{name: tmpl[m[8]:m[9]]})
		}
	}
	if pos < len(tmpl) {
		emit(node{text: tmpl[pos:]})
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return nil, fmt.Errorf("unclosed conditional block: {{#%s %s}}", top.kind, top.cond)
	}
	return root, nil
}

// Load returns the named template. A file of the same name in overrideDir
// wins over the built-in copy; names may not escape overrideDir.
func Load(name string, overrideDir string) (string, error) {
	if overrideDir != "" {
		path := filepath.Join(overrideDir, name)
		absPath, err := filepath.Abs(path)
		if err == nil {
			absDir, err2 := filepath.Abs(overrideDir)
			if err2 == nil && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
				return "", fmt.Errorf("template path %q escapes %s", name, overrideDir)
			}
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	tmpl, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}
	return tmpl, nil
}

// Install writes the built-in templates into dir so they can be edited and
// used as overrides. Existing files are left alone.
func Install(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}

	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}

// Names lists the built-in template names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for n := range builtinTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
