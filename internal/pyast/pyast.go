// Package pyast wraps the tree-sitter Python grammar with the few
// operations the gate and harness validator need.
package pyast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// SyntaxError describes the first unparseable location in a module.
type SyntaxError struct {
	Line    int // 1-based
	Column  int // 1-based
	Message string
	Text    string // offending source line, trimmed
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Tree is a parsed module. Close releases the underlying C allocation.
type Tree struct {
	tree *sitter.Tree
	src  []byte
}

// Parse parses src as Python. A parse that succeeds but contains error or
// missing nodes returns a *SyntaxError.
func Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	t := &Tree{tree: tree, src: src}
	if serr := t.firstError(); serr != nil {
		t.Close()
		return nil, serr
	}
	return t, nil
}

// Check reports whether src parses. It returns nil on success.
func Check(ctx context.Context, src []byte) *SyntaxError {
	t, err := Parse(ctx, src)
	if err != nil {
		var serr *SyntaxError
		if errors.As(err, &serr) {
			return serr
		}
		return &SyntaxError{Line: 1, Column: 1, Message: err.Error()}
	}
	t.Close()
	return nil
}

// Close frees the tree.
func (t *Tree) Close() {
	if t != nil && t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// Root returns the module node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Text returns the source text covered by n.
func (t *Tree) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(t.src)
}

// Line returns the 1-based start line of n.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// Walk visits n and its descendants in source order. Returning false from
// fn skips the node's children.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

func (t *Tree) firstError() *SyntaxError {
	root := t.Root()
	if !root.HasError() {
		return nil
	}
	var found *sitter.Node
	Walk(root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.IsMissing() || n.IsError() {
			found = n
			return false
		}
		return n.HasError()
	})
	if found == nil {
		found = root
	}

	pt := found.StartPoint()
	serr := &SyntaxError{
		Line:   int(pt.Row) + 1,
		Column: int(pt.Column) + 1,
		Text:   t.lineText(int(pt.Row)),
	}
	switch {
	case found.IsMissing():
		serr.Message = fmt.Sprintf("missing %q", found.Type())
	case found.IsError():
		snippet := strings.TrimSpace(firstLine(t.Text(found)))
		if len(snippet) > 40 {
			snippet = snippet[:40]
		}
		if snippet == "" {
			serr.Message = "invalid syntax"
		} else {
			serr.Message = fmt.Sprintf("invalid syntax near %q", snippet)
		}
	default:
		serr.Message = "invalid syntax"
	}
	return serr
}

func (t *Tree) lineText(row int) string {
	lines := strings.Split(string(t.src), "\n")
	if row < 0 || row >= len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[row])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// TestSymbols returns the module-level test functions and Test classes,
// following pytest's default discovery names.
func (t *Tree) TestSymbols() []string {
	var names []string
	root := t.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		def := root.NamedChild(i)
		if def.Type() == "decorated_definition" {
			if inner := def.ChildByFieldName("definition"); inner != nil {
				def = inner
			}
		}
		name := t.Text(def.ChildByFieldName("name"))
		switch def.Type() {
		case "function_definition":
			if strings.HasPrefix(name, "test") {
				names = append(names, name)
			}
		case "class_definition":
			if strings.HasPrefix(name, "Test") {
				names = append(names, name)
			}
		}
	}
	return names
}
