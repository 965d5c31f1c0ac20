package artifact

import (
	"fmt"
	"os"
	"regexp"
	"unicode"

	"github.com/google/uuid"

	"github.com/lucasnoah/mender/internal/sandbox"
)

// Workspace is one item's private directory under the sandbox root. Each
// item gets a fresh uuid-suffixed directory so concurrent items never share
// file names.
type Workspace struct {
	dir  *sandbox.Resolver
	base string
}

// NewWorkspace creates the scratch directory for input under root.
func NewWorkspace(root *sandbox.Resolver, input string) (*Workspace, error) {
	base := Base(input)
	dir, err := root.Sub(fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]))
	if err != nil {
		return nil, err
	}
	return &Workspace{dir: dir, base: base}, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string { return w.dir.Root() }

// ModuleName is the import name of the candidate inside the workspace.
func (w *Workspace) ModuleName() string { return Identifier(w.base) + "_temp" }

// SourceFile is the candidate's file name inside the workspace.
func (w *Workspace) SourceFile() string { return w.ModuleName() + ".py" }

// TestFile is the generated test module's file name inside the workspace.
func (w *Workspace) TestFile() string { return "test_" + w.ModuleName() + ".py" }

// WriteSource writes the candidate and returns its absolute path.
func (w *Workspace) WriteSource(src string) (string, error) {
	return w.dir.WriteFile(w.SourceFile(), []byte(src))
}

// WriteTests writes the generated tests, pointing imports of the original
// module name at the candidate, and returns the absolute path and the text
// actually written.
func (w *Workspace) WriteTests(src string) (string, string, error) {
	rewritten := RewriteImports(src, Identifier(w.base), w.ModuleName())
	path, err := w.dir.WriteFile(w.TestFile(), []byte(rewritten))
	return path, rewritten, err
}

// EndIteration removes the iteration's files unless keep is set.
func (w *Workspace) EndIteration(keep bool) error {
	if keep {
		return nil
	}
	if err := w.dir.Remove(w.SourceFile()); err != nil {
		return err
	}
	return w.dir.Remove(w.TestFile())
}

// Close deletes the workspace and everything in it.
func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.dir.Root()); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// Identifier turns a file base name into a valid Python module name.
// Characters outside [A-Za-z0-9_] become underscores and a leading digit
// gets an underscore prefix.
func Identifier(base string) string {
	out := []rune(base)
	for i, r := range out {
		if r > unicode.MaxASCII || !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			out[i] = '_'
		}
	}
	if len(out) == 0 || unicode.IsDigit(out[0]) {
		return "_" + string(out)
	}
	return string(out)
}

// RewriteImports points "from base import" and "import base" statements at
// target. Plain imports keep the original name as an alias.
func RewriteImports(src, base, target string) string {
	q := regexp.QuoteMeta(base)
	fromRe := regexp.MustCompile(`(?m)^(\s*from\s+)` + q + `(\s+import\b)`)
	importRe := regexp.MustCompile(`(?m)^(\s*import\s+)` + q + `(\s+as\s+\w+)?[ \t]*$`)

	src = fromRe.ReplaceAllString(src, "${1}"+target+"${2}")
	return importRe.ReplaceAllStringFunc(src, func(m string) string {
		sub := importRe.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[1] + target + sub[2]
		}
		return sub[1] + target + " as " + base
	})
}
