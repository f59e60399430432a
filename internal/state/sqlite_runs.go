package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// CreateRun records the start of a build run.
func (s *SQLiteStore) CreateRun(mode core.Mode) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:        generateID(),
		Mode:      mode,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("mode", string(mode)))

	_, err := s.db.Exec(
		`INSERT INTO build_runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Mode), string(run.Status), run.StartedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun returns the run with id. A missing run is an error.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(
		`SELECT id, mode, status, started_at, completed_at, error FROM build_runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(
		`UPDATE build_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixNano(), errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetLatestRun retrieves the most recent run, or nil if there is none.
func (s *SQLiteStore) GetLatestRun() (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(
		`SELECT id, mode, status, started_at, completed_at, error
		 FROM build_runs ORDER BY started_at DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// RecordUnitRun stores the outcome of one unit within a run.
func (s *SQLiteStore) RecordUnitRun(ur *core.UnitRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if ur.ID == "" {
		ur.ID = generateID()
	}
	if ur.CreatedAt.IsZero() {
		ur.CreatedAt = time.Now().UTC()
	}
	var errorPtr *string
	if ur.Error != "" {
		errorPtr = &ur.Error
	}

	_, err := s.db.Exec(
		`INSERT INTO unit_runs (id, run_id, name, version, profile, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ur.ID, ur.RunID, ur.Unit.Name, ur.Unit.Version, string(ur.Unit.Profile),
		string(ur.Status), errorPtr, ur.DurationMS, ur.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record unit run: %w", err)
	}
	return nil
}

// GetUnitRunsForRun returns the unit outcomes of a run in the order they were recorded.
func (s *SQLiteStore) GetUnitRunsForRun(runID string) ([]*core.UnitRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, name, version, profile, status, error, duration_ms, created_at
		 FROM unit_runs WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get unit runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.UnitRun
	for rows.Next() {
		ur := &core.UnitRun{}
		var profile, status string
		var errMsg sql.NullString
		var createdAt int64
		if err := rows.Scan(&ur.ID, &ur.RunID, &ur.Unit.Name, &ur.Unit.Version, &profile,
			&status, &errMsg, &ur.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit run: %w", err)
		}
		ur.Unit.Profile = core.Profile(profile)
		ur.Status = core.UnitRunStatus(status)
		ur.Error = errMsg.String
		ur.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, ur)
	}
	return out, rows.Err()
}

func scanRun(row *sql.Row) (*core.Run, error) {
	run := &core.Run{}
	var mode, status string
	var startedAt int64
	var completedAt sql.NullInt64
	var errMsg sql.NullString

	if err := row.Scan(&run.ID, &mode, &status, &startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Mode = core.Mode(mode)
	run.Status = core.RunStatus(status)
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return run, nil
}
