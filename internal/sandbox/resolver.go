// Package sandbox confines file access to a single root directory.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathEscapeError is returned when a name resolves outside the sandbox root.
type PathEscapeError struct {
	Root string
	Name string
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q resolves to %s, outside sandbox %s", e.Name, e.Path, e.Root)
}

// Resolver maps relative names to absolute paths strictly inside Root.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	root string
}

// New returns a Resolver for root, creating the directory if needed.
func New(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root %s: %w", abs, err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the normalized absolute root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the absolute path for name. Normalization happens before
// the containment check, so "a/../../x" is caught. The root itself is not
// considered inside.
func (r *Resolver) Resolve(name string) (string, error) {
	var target string
	if filepath.IsAbs(name) {
		target = filepath.Clean(name)
	} else {
		target = filepath.Clean(filepath.Join(r.root, name))
	}
	if !r.contains(target) {
		return "", &PathEscapeError{Root: r.root, Name: name, Path: target}
	}
	return target, nil
}

// contains compares against root plus separator so that a sibling such as
// /sandboxevil never matches /sandbox.
func (r *Resolver) contains(target string) bool {
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}

// Sub creates the child directory name and returns a Resolver confined to it.
func (r *Resolver) Sub(name string) (*Resolver, error) {
	dir, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir %s: %w", dir, err)
	}
	return &Resolver{root: dir}, nil
}

// ReadFile reads name from inside the sandbox.
func (r *Resolver) ReadFile(name string) ([]byte, error) {
	path, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes data to name inside the sandbox, creating parent dirs.
func (r *Resolver) WriteFile(name string, data []byte) (string, error) {
	path, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes name inside the sandbox. Missing files are not an error.
func (r *Resolver) Remove(name string) error {
	path, err := r.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
