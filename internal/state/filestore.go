package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// FileStore implements core.Store with one JSON document per build output
// under fingerprints/ and one per run under runs/.
type FileStore struct {
	root   string
	logger *slog.Logger
	locks  *KeyedMutex
}

var _ core.Store = (*FileStore)(nil)

// NewFileStore creates a file store. A nil logger discards output.
func NewFileStore(logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileStore{logger: logger, locks: NewKeyedMutex()}
}

type fileRun struct {
	ID          string         `json:"id"`
	Mode        core.Mode      `json:"mode"`
	Status      core.RunStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Units       []fileUnitRun  `json:"units"`
}

type fileUnitRun struct {
	ID         string             `json:"id"`
	Unit       core.UnitKey       `json:"unit"`
	Status     core.UnitRunStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	DurationMS int64              `json:"duration_ms"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Open sets the store root directory.
func (s *FileStore) Open(path string) error {
	if path == "" {
		return fmt.Errorf("file store path is empty")
	}
	s.root = path
	return nil
}

// Close is a no-op; every write is complete when it returns.
func (s *FileStore) Close() error {
	return nil
}

// InitSchema creates the store directories.
func (s *FileStore) InitSchema() error {
	if s.root == "" {
		return fmt.Errorf("store not opened")
	}
	for _, dir := range []string{s.outputsDir(), s.runsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to initialize file store: %w", err)
		}
	}
	return nil
}

func (s *FileStore) outputsDir() string { return filepath.Join(s.root, "fingerprints") }
func (s *FileStore) runsDir() string    { return filepath.Join(s.root, "runs") }

func (s *FileStore) outputPath(key core.UnitKey) string {
	return filepath.Join(s.outputsDir(), key.FileStem()+".json")
}

func (s *FileStore) runPath(id string) string {
	return filepath.Join(s.runsDir(), id+".json")
}

// --- Build output operations ---

// GetOutput returns the record for key, or nil if the unit was never built.
func (s *FileStore) GetOutput(key core.UnitKey) (*core.BuildOutput, error) {
	if s.root == "" {
		return nil, fmt.Errorf("store not opened")
	}
	out := &core.BuildOutput{}
	err := readJSONStrict(s.outputPath(key), out)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read build output %s: %w", key, err)
	}
	return out, nil
}

// CommitOutput atomically creates or replaces the record for out.Key.
func (s *FileStore) CommitOutput(out *core.BuildOutput) error {
	if s.root == "" {
		return fmt.Errorf("store not opened")
	}
	unlock := s.locks.Lock(out.Key.String())
	defer unlock()

	if err := writeJSONAtomic(s.outputPath(out.Key), out); err != nil {
		return fmt.Errorf("failed to commit build output %s: %w", out.Key, err)
	}
	s.logger.Debug("committed build output", slog.String("unit", out.Key.String()))
	return nil
}

// DeleteOutput removes the record for key. Deleting a missing record is not an error.
func (s *FileStore) DeleteOutput(key core.UnitKey) error {
	if s.root == "" {
		return fmt.Errorf("store not opened")
	}
	unlock := s.locks.Lock(key.String())
	defer unlock()

	if err := os.Remove(s.outputPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete build output %s: %w", key, err)
	}
	return nil
}

// ListOutputs returns every record ordered by name, version and profile.
// Leftover temp files from interrupted writes are ignored.
func (s *FileStore) ListOutputs() ([]*core.BuildOutput, error) {
	if s.root == "" {
		return nil, fmt.Errorf("store not opened")
	}
	paths, err := listJSON(s.outputsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list build outputs: %w", err)
	}

	outputs := make([]*core.BuildOutput, 0, len(paths))
	for _, p := range paths {
		out := &core.BuildOutput{}
		if err := readJSONStrict(p, out); err != nil {
			return nil, fmt.Errorf("failed to read build output %s: %w", filepath.Base(p), err)
		}
		outputs = append(outputs, out)
	}
	sort.Slice(outputs, func(i, j int) bool {
		a, b := outputs[i].Key, outputs[j].Key
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Profile < b.Profile
	})
	return outputs, nil
}

// --- Run operations ---

// CreateRun records the start of a build run.
func (s *FileStore) CreateRun(mode core.Mode) (*core.Run, error) {
	if s.root == "" {
		return nil, fmt.Errorf("store not opened")
	}
	doc := &fileRun{
		ID:        generateID(),
		Mode:      mode,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Units:     []fileUnitRun{},
	}
	if err := writeJSONAtomic(s.runPath(doc.ID), doc); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return doc.run(), nil
}

// GetRun retrieves a run by ID.
func (s *FileStore) GetRun(id string) (*core.Run, error) {
	doc, err := s.readRun(id)
	if err != nil {
		return nil, err
	}
	return doc.run(), nil
}

// CompleteRun marks a run as finished with the given status.
func (s *FileStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	return s.updateRun(id, func(doc *fileRun) {
		now := time.Now().UTC()
		doc.Status = status
		doc.CompletedAt = &now
		doc.Error = errMsg
	})
}

// GetLatestRun retrieves the most recent run, or nil if there is none.
func (s *FileStore) GetLatestRun() (*core.Run, error) {
	if s.root == "" {
		return nil, fmt.Errorf("store not opened")
	}
	paths, err := listJSON(s.runsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var latest *fileRun
	for _, p := range paths {
		doc := &fileRun{}
		if err := readJSONStrict(p, doc); err != nil {
			return nil, fmt.Errorf("failed to read run %s: %w", filepath.Base(p), err)
		}
		if latest == nil || doc.StartedAt.After(latest.StartedAt) {
			latest = doc
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.run(), nil
}

// RecordUnitRun appends the outcome of one unit to its run.
func (s *FileStore) RecordUnitRun(ur *core.UnitRun) error {
	if ur.ID == "" {
		ur.ID = generateID()
	}
	if ur.CreatedAt.IsZero() {
		ur.CreatedAt = time.Now().UTC()
	}
	return s.updateRun(ur.RunID, func(doc *fileRun) {
		doc.Units = append(doc.Units, fileUnitRun{
			ID:         ur.ID,
			Unit:       ur.Unit,
			Status:     ur.Status,
			Error:      ur.Error,
			DurationMS: ur.DurationMS,
			CreatedAt:  ur.CreatedAt,
		})
	})
}

// GetUnitRunsForRun returns the unit outcomes of a run in the order they were recorded.
func (s *FileStore) GetUnitRunsForRun(runID string) ([]*core.UnitRun, error) {
	doc, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	out := make([]*core.UnitRun, 0, len(doc.Units))
	for _, u := range doc.Units {
		out = append(out, &core.UnitRun{
			ID:         u.ID,
			RunID:      doc.ID,
			Unit:       u.Unit,
			Status:     u.Status,
			Error:      u.Error,
			DurationMS: u.DurationMS,
			CreatedAt:  u.CreatedAt,
		})
	}
	return out, nil
}

func (s *FileStore) readRun(id string) (*fileRun, error) {
	if s.root == "" {
		return nil, fmt.Errorf("store not opened")
	}
	doc := &fileRun{}
	err := readJSONStrict(s.runPath(id), doc)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return doc, nil
}

func (s *FileStore) updateRun(id string, update func(*fileRun)) error {
	unlock := s.locks.Lock("run:" + id)
	defer unlock()

	doc, err := s.readRun(id)
	if err != nil {
		return err
	}
	update(doc)
	if err := writeJSONAtomic(s.runPath(id), doc); err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	return nil
}

func (r *fileRun) run() *core.Run {
	return &core.Run{
		ID:          r.ID,
		Mode:        r.Mode,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
	}
}

// listJSON returns the committed JSON documents in dir, skipping hidden temp files.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}
