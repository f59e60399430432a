package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapbuild/pkg/core"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// busyTimeout is how long a writer waits for another invocation's lock.
const busyTimeout = 10 * time.Second

// SQLiteStore implements core.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	locks  *KeyedMutex
}

var _ core.Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store. A nil logger discards output.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger, locks: NewKeyedMutex()}
}

// Open opens a connection to the SQLite database, creating parent directories.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate",
			path, busyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened state database", slog.String("path", path))
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema brings the schema up to date.
func (s *SQLiteStore) InitSchema() error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if err := MigrateWithDB(s.db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// generateID returns a fresh run ID.
func generateID() string {
	return uuid.New().String()
}

// --- Build output operations ---

// GetOutput returns the record for key, or nil if the unit was never built.
func (s *SQLiteStore) GetOutput(key core.UnitKey) (*core.BuildOutput, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRow(
		`SELECT source_path, artifact_path, completed_at, inputs, dependencies, script_inputs, run_id
		 FROM build_outputs WHERE name = ? AND version = ? AND profile = ?`,
		key.Name, key.Version, string(key.Profile),
	)

	out := &core.BuildOutput{Key: key}
	var completedAt int64
	var inputs, deps, scriptInputs string
	err := row.Scan(&out.SourcePath, &out.ArtifactPath, &completedAt, &inputs, &deps, &scriptInputs, &out.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build output %s: %w", key, err)
	}

	out.CompletedAt = time.Unix(0, completedAt).UTC()
	if err := decodeColumns(out, inputs, deps, scriptInputs); err != nil {
		return nil, fmt.Errorf("corrupt build output %s: %w", key, err)
	}
	return out, nil
}

// CommitOutput creates or replaces the record for out.Key in one transaction.
func (s *SQLiteStore) CommitOutput(out *core.BuildOutput) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	inputs, err := json.Marshal(nonNil(out.Inputs))
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	deps, err := json.Marshal(nonNil(out.Dependencies))
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}
	scriptInputs, err := json.Marshal(nonNil(out.ScriptInputs))
	if err != nil {
		return fmt.Errorf("failed to encode script inputs: %w", err)
	}

	unlock := s.locks.Lock(out.Key.String())
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO build_outputs
		   (name, version, profile, source_path, artifact_path, completed_at, inputs, dependencies, script_inputs, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, version, profile) DO UPDATE SET
		   source_path = excluded.source_path,
		   artifact_path = excluded.artifact_path,
		   completed_at = excluded.completed_at,
		   inputs = excluded.inputs,
		   dependencies = excluded.dependencies,
		   script_inputs = excluded.script_inputs,
		   run_id = excluded.run_id`,
		out.Key.Name, out.Key.Version, string(out.Key.Profile),
		out.SourcePath, out.ArtifactPath, out.CompletedAt.UnixNano(),
		string(inputs), string(deps), string(scriptInputs), out.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to commit build output %s: %w", out.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit build output %s: %w", out.Key, err)
	}

	s.logger.Debug("committed build output", slog.String("unit", out.Key.String()))
	return nil
}

// DeleteOutput removes the record for key. Deleting a missing record is not an error.
func (s *SQLiteStore) DeleteOutput(key core.UnitKey) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	_, err := s.db.Exec(
		`DELETE FROM build_outputs WHERE name = ? AND version = ? AND profile = ?`,
		key.Name, key.Version, string(key.Profile),
	)
	if err != nil {
		return fmt.Errorf("failed to delete build output %s: %w", key, err)
	}
	return nil
}

// ListOutputs returns every record ordered by name, version and profile.
func (s *SQLiteStore) ListOutputs() ([]*core.BuildOutput, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT name, version, profile, source_path, artifact_path, completed_at, inputs, dependencies, script_inputs, run_id
		 FROM build_outputs ORDER BY name, version, profile`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list build outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outputs []*core.BuildOutput
	for rows.Next() {
		out := &core.BuildOutput{}
		var profile string
		var completedAt int64
		var inputs, deps, scriptInputs string
		if err := rows.Scan(&out.Key.Name, &out.Key.Version, &profile, &out.SourcePath, &out.ArtifactPath,
			&completedAt, &inputs, &deps, &scriptInputs, &out.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan build output: %w", err)
		}
		out.Key.Profile = core.Profile(profile)
		out.CompletedAt = time.Unix(0, completedAt).UTC()
		if err := decodeColumns(out, inputs, deps, scriptInputs); err != nil {
			return nil, fmt.Errorf("corrupt build output %s: %w", out.Key, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

func decodeColumns(out *core.BuildOutput, inputs, deps, scriptInputs string) error {
	if err := json.Unmarshal([]byte(inputs), &out.Inputs); err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &out.Dependencies); err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(scriptInputs), &out.ScriptInputs); err != nil {
		return fmt.Errorf("script inputs: %w", err)
	}
	return nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
