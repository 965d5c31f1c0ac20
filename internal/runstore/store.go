// Package runstore archives each run on disk: the run header, one report
// per item and the candidate, tests and output of every iteration.
package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/mender/internal/fsutil"
)

// Store manages run archives on disk.
type Store struct {
	baseDir string // defaults to ~/.mender/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.mender/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".mender", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

var keyReplacer = strings.NewReplacer("/", "__", `\`, "__", ":", "_", " ", "_")

// ItemKey maps an item path to its directory name.
func ItemKey(item string) string {
	return keyReplacer.Replace(strings.TrimLeft(filepath.ToSlash(filepath.Clean(item)), "/"))
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) itemDir(runID, item string) string {
	return filepath.Join(s.runDir(runID), "items", ItemKey(item))
}

// IterationDir returns the directory holding one iteration's files.
func (s *Store) IterationDir(runID, item string, n int) string {
	return filepath.Join(s.itemDir(runID, item), "iterations", strconv.Itoa(n))
}

// CreateRun initialises a new run on disk.
func (s *Store) CreateRun(runID, targetDir string, maxIterations int) (*RunMeta, error) {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "items"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir items: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	meta := &RunMeta{
		RunID:         runID,
		TargetDir:     targetDir,
		MaxIterations: maxIterations,
		Status:        "running",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := fsutil.WriteJSON(s.runPath(runID), meta); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return meta, nil
}

// GetRun reads the header of a run.
func (s *Store) GetRun(runID string) (*RunMeta, error) {
	var meta RunMeta
	if err := fsutil.ReadJSON(s.runPath(runID), &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &meta, nil
}

// UpdateRun performs a read-modify-write of the run header.
func (s *Store) UpdateRun(runID string, fn func(*RunMeta)) error {
	meta, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	fn(meta)
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return fsutil.WriteJSON(s.runPath(runID), meta)
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]RunMeta, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunMeta
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.GetRun(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunID > runs[j].RunID
	})
	return runs, nil
}

// DeleteRun removes all data for a run.
func (s *Store) DeleteRun(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	return os.RemoveAll(dir)
}

// Items returns the item keys archived for a run.
func (s *Store) Items(runID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.runDir(runID), "items"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SaveReport writes the final report JSON for an item.
func (s *Store) SaveReport(runID, item string, report any) error {
	return fsutil.WriteJSON(filepath.Join(s.itemDir(runID, item), "report.json"), report)
}

// GetReport reads the report JSON for an item into v.
func (s *Store) GetReport(runID, item string, v any) error {
	return fsutil.ReadJSON(filepath.Join(s.itemDir(runID, item), "report.json"), v)
}

var iterationFiles = []struct {
	name string
	get  func(*Iteration) *string
}{
	{"candidate.py", func(it *Iteration) *string { return &it.Candidate }},
	{"test_candidate.py", func(it *Iteration) *string { return &it.Tests }},
	{"output.txt", func(it *Iteration) *string { return &it.Output }},
	{"diagnostic.txt", func(it *Iteration) *string { return &it.Diagnostic }},
}

// SaveIteration writes the files of one iteration. Empty fields are skipped.
func (s *Store) SaveIteration(runID, item string, it Iteration) error {
	dir := s.IterationDir(runID, item, it.N)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir iteration dir: %w", err)
	}
	for _, f := range iterationFiles {
		if v := *f.get(&it); v != "" {
			if err := fsutil.WriteAtomic(filepath.Join(dir, f.name), []byte(v), 0o644); err != nil {
				return err
			}
		}
	}
	return fsutil.WriteJSON(filepath.Join(dir, "iteration.json"), it)
}

// GetIteration reads back one iteration.
func (s *Store) GetIteration(runID, item string, n int) (*Iteration, error) {
	dir := s.IterationDir(runID, item, n)
	var it Iteration
	if err := fsutil.ReadJSON(filepath.Join(dir, "iteration.json"), &it); err != nil {
		return nil, err
	}
	for _, f := range iterationFiles {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		*f.get(&it) = string(data)
	}
	return &it, nil
}
