// Package gate decides whether candidate source may be written or executed.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/lucasnoah/mender/internal/pyast"
)

// Kind distinguishes why a candidate was rejected.
type Kind string

const (
	KindOK       Kind = "ok"
	KindSyntax   Kind = "syntax"
	KindSecurity Kind = "security"
)

// Verdict is the outcome of a gate check.
type Verdict struct {
	Valid   bool   `json:"valid"`
	Kind    Kind   `json:"kind"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"` // offending line
}

func (v Verdict) String() string {
	switch v.Kind {
	case KindSyntax:
		s := fmt.Sprintf("SYNTAX ERROR at line %d: %s", v.Line, v.Message)
		if v.Text != "" {
			s += "\nProblematic line: " + v.Text
		}
		return s
	case KindSecurity:
		if v.Line > 0 {
			return fmt.Sprintf("SECURITY ERROR at line %d: %s", v.Line, v.Message)
		}
		return "SECURITY ERROR: " + v.Message
	default:
		return "OK"
	}
}

// Gate runs the parse check followed by the denylist check.
type Gate struct {
	deny Denylist
}

// New returns a Gate using deny.
func New(deny Denylist) *Gate {
	return &Gate{deny: deny}
}

// Check validates src. It has no side effects.
func (g *Gate) Check(ctx context.Context, src string) Verdict {
	tree, err := pyast.Parse(ctx, []byte(src))
	if err != nil {
		var serr *pyast.SyntaxError
		if errors.As(err, &serr) {
			return Verdict{Kind: KindSyntax, Line: serr.Line, Message: serr.Message, Text: serr.Text}
		}
		return Verdict{Kind: KindSyntax, Line: 1, Message: err.Error()}
	}
	defer tree.Close()

	if v, bad := g.safety(tree); bad {
		return v
	}
	return Verdict{Valid: true, Kind: KindOK}
}

// safety rejects imports and uses of denied names. Attribute chains are only
// matched when their leftmost identifier was bound by an import, so a local
// like my_list.remove(x) never matches os.remove.
func (g *Gate) safety(tree *pyast.Tree) (Verdict, bool) {
	bindings := make(map[string]string)
	var verdict Verdict
	var bad bool

	reject := func(n *sitter.Node, format string, args ...any) {
		if bad {
			return
		}
		bad = true
		verdict = Verdict{
			Kind:    KindSecurity,
			Line:    pyast.Line(n),
			Message: fmt.Sprintf(format, args...),
			Text:    strings.TrimSpace(firstLine(tree.Text(n))),
		}
	}

	// Imports first so that later uses resolve regardless of position.
	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if bad {
			return false
		}
		switch n.Type() {
		case "import_statement":
			g.importStatement(tree, n, bindings, reject)
			return false
		case "import_from_statement":
			g.importFrom(tree, n, bindings, reject)
			return false
		}
		return true
	})
	if bad {
		return verdict, true
	}

	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if bad {
			return false
		}
		switch n.Type() {
		case "attribute":
			parts, ok := dotted(tree, n)
			if !ok {
				return true
			}
			target, bound := bindings[parts[0]]
			if !bound {
				return true
			}
			full := append(strings.Split(target, "."), parts[1:]...)
			if mod, attr, denied := g.deniedPath(full); denied {
				reject(n, "use of dangerous operation %s.%s", mod, attr)
				return false
			}
		case "call":
			fn := n.ChildByFieldName("function")
			if fn != nil && fn.Type() == "identifier" {
				name := tree.Text(fn)
				if target, bound := bindings[name]; bound {
					if mod, attr, denied := g.deniedPath(strings.Split(target, ".")); denied {
						reject(n, "call of dangerous operation %s.%s", mod, attr)
						return false
					}
				} else if g.deny.builtin(name) {
					reject(n, "call of dangerous builtin %s()", name)
					return false
				}
			}
		}
		return true
	})
	return verdict, bad
}

func (g *Gate) importStatement(tree *pyast.Tree, n *sitter.Node, bindings map[string]string, reject func(*sitter.Node, string, ...any)) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		var module, alias string
		switch child.Type() {
		case "dotted_name":
			module = tree.Text(child)
			alias = strings.SplitN(module, ".", 2)[0]
			bindings[alias] = alias
		case "aliased_import":
			module = tree.Text(child.ChildByFieldName("name"))
			alias = tree.Text(child.ChildByFieldName("alias"))
			bindings[alias] = module
		default:
			continue
		}
		if g.wholePrefix(module) {
			reject(child, "import of dangerous module %s", module)
			return
		}
	}
}

func (g *Gate) importFrom(tree *pyast.Tree, n *sitter.Node, bindings map[string]string, reject func(*sitter.Node, string, ...any)) {
	modNode := n.ChildByFieldName("module_name")
	if modNode == nil || modNode.Type() == "relative_import" {
		return
	}
	module := tree.Text(modNode)
	if g.wholePrefix(module) {
		reject(n, "import from dangerous module %s", module)
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.StartByte() == modNode.StartByte() && child.EndByte() == modNode.EndByte() {
			continue
		}
		var name, alias string
		switch child.Type() {
		case "wildcard_import":
			if g.deny.Listed(module) {
				reject(n, "wildcard import from %s exposes dangerous operations", module)
				return
			}
			continue
		case "dotted_name":
			name = tree.Text(child)
			alias = name
		case "aliased_import":
			name = tree.Text(child.ChildByFieldName("name"))
			alias = tree.Text(child.ChildByFieldName("alias"))
		default:
			continue
		}
		if g.deny.Denied(module, name) {
			reject(n, "import of dangerous operation %s.%s", module, name)
			return
		}
		bindings[alias] = module + "." + name
	}
}

// wholePrefix reports whether module or any parent package is wholly denied.
func (g *Gate) wholePrefix(module string) bool {
	parts := strings.Split(module, ".")
	for i := 1; i <= len(parts); i++ {
		if g.deny.Whole(strings.Join(parts[:i], ".")) {
			return true
		}
	}
	return false
}

// deniedPath checks every module/attribute split of a resolved dotted path.
func (g *Gate) deniedPath(parts []string) (string, string, bool) {
	for k := len(parts) - 1; k >= 1; k-- {
		mod := strings.Join(parts[:k], ".")
		if g.deny.Denied(mod, parts[k]) {
			return mod, parts[k], true
		}
	}
	return "", "", false
}

// dotted flattens an attribute chain made only of identifiers.
func dotted(tree *pyast.Tree, n *sitter.Node) ([]string, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Type() {
	case "identifier":
		return []string{tree.Text(n)}, true
	case "attribute":
		obj, ok := dotted(tree, n.ChildByFieldName("object"))
		if !ok {
			return nil, false
		}
		return append(obj, tree.Text(n.ChildByFieldName("attribute"))), true
	}
	return nil, false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
