package core

import "time"

// Store defines the interface for persistent build state.
// BuildOutput commits must be atomic: a reader never observes a partial record.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Build output operations
	GetOutput(key UnitKey) (*BuildOutput, error)
	CommitOutput(out *BuildOutput) error
	DeleteOutput(key UnitKey) error
	ListOutputs() ([]*BuildOutput, error)

	// Run operations
	CreateRun(mode Mode) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetLatestRun() (*Run, error)

	// Unit run operations
	RecordUnitRun(ur *UnitRun) error
	GetUnitRunsForRun(runID string) ([]*UnitRun, error)
}

// RunStatus represents the status of a build run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one invocation of the build operation.
type Run struct {
	ID          string
	Mode        Mode
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// UnitRunStatus represents what happened to a unit during a run.
type UnitRunStatus string

// Unit run status constants.
const (
	UnitRunCompiled UnitRunStatus = "compiled"
	UnitRunFresh    UnitRunStatus = "fresh"
	UnitRunFailed   UnitRunStatus = "failed"
	UnitRunSkipped  UnitRunStatus = "skipped"
)

// UnitRun records the outcome of one unit within a run.
type UnitRun struct {
	ID         string
	RunID      string
	Unit       UnitKey
	Status     UnitRunStatus
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}
