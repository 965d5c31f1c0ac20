// Package artifact persists repaired modules and manages the per-item
// scratch directories used while validating candidates.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lucasnoah/mender/internal/fsutil"
	"github.com/lucasnoah/mender/internal/gate"
)

// Documenter writes Markdown documentation for a repaired module.
type Documenter interface {
	Document(ctx context.Context, fileName, source, changes string) (string, error)
}

// ErrSameAsInput is returned when the derived artifact path would overwrite
// the input file.
var ErrSameAsInput = errors.New("artifact path equals input path")

// Options configures a Manager.
type Options struct {
	// OutputDir receives artifacts. Empty means next to each input.
	OutputDir string
	Gate      *gate.Gate
	Docs      Documenter
	Logger    *zap.Logger
}

// Manager writes final sources and runs documentation jobs in the
// background.
type Manager struct {
	outputDir string
	gate      *gate.Gate
	docs      Documenter
	log       *zap.Logger
	wg        sync.WaitGroup
}

// NewManager returns a Manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{outputDir: opts.OutputDir, gate: opts.Gate, docs: opts.Docs, log: opts.Logger}
}

// Artifact is one persisted repair result.
type Artifact struct {
	Path    string `json:"path"`
	DocPath string `json:"doc_path,omitempty"`

	done       chan struct{}
	docCreated bool
	docErr     error
}

// WaitDocs blocks until the documentation job finishes or ctx is done and
// reports whether the documentation file was written.
func (a *Artifact) WaitDocs(ctx context.Context) (bool, error) {
	if a.done == nil {
		return false, nil
	}
	select {
	case <-a.done:
		return a.docCreated, a.docErr
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Base returns the module name of input without directory or extension.
func Base(input string) string {
	return strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
}

func (m *Manager) dirFor(input string) string {
	if m.outputDir != "" {
		return m.outputDir
	}
	return filepath.Dir(input)
}

// FinalPath returns the path the repaired version of input is written to.
func (m *Manager) FinalPath(input string) (string, error) {
	path := filepath.Join(m.dirFor(input), Base(input)+"_fixed.py")
	in, err := filepath.Abs(input)
	if err != nil {
		return "", err
	}
	out, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if in == out {
		return "", fmt.Errorf("%s: %w", input, ErrSameAsInput)
	}
	return path, nil
}

// DocPath returns the documentation path for input.
func (m *Manager) DocPath(input string) string {
	return filepath.Join(m.dirFor(input), Base(input)+"_documentation.md")
}

// Persist writes src as the repaired version of input and starts the
// documentation job. The source is gated again before it is written.
// Documentation failures are logged and never fail Persist.
func (m *Manager) Persist(ctx context.Context, input, src, changes string) (*Artifact, error) {
	if m.gate != nil {
		if v := m.gate.Check(ctx, src); !v.Valid {
			return nil, fmt.Errorf("refusing to persist %s: %s", input, v)
		}
	}
	path, err := m.FinalPath(input)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteAtomic(path, []byte(src), 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	m.log.Info("artifact written", zap.String("item", input), zap.String("path", path))

	a := &Artifact{Path: path}
	if m.docs == nil {
		return a, nil
	}
	a.DocPath = m.DocPath(input)
	a.done = make(chan struct{})
	m.wg.Add(1)
	// The job outlives the item's context; the oracle bounds it with its
	// own timeout and Wait collects it.
	go m.document(context.WithoutCancel(ctx), a, input, src, changes)
	return a, nil
}

func (m *Manager) document(ctx context.Context, a *Artifact, input, src, changes string) {
	defer m.wg.Done()
	defer close(a.done)

	doc, err := m.docs.Document(ctx, filepath.Base(input), src, changes)
	if err == nil {
		err = fsutil.WriteAtomic(a.DocPath, []byte(doc+"\n"), 0o644)
	}
	if err != nil {
		a.docErr = err
		m.log.Warn("documentation failed", zap.String("item", input), zap.Error(err))
		return
	}
	a.docCreated = true
	m.log.Info("documentation written", zap.String("item", input), zap.String("path", a.DocPath))
}

// Wait blocks until every documentation job started by Persist finishes.
func (m *Manager) Wait() {
	m.wg.Wait()
}
