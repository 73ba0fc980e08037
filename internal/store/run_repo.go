package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("job run not found")

// RunStatus mirrors the job_runs.status column.
type RunStatus string

// Run statuses persisted in job_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// ParseRunStatus accepts the persisted values and a few aliases.
func ParseRunStatus(s string) (RunStatus, error) {
	switch s {
	case "running":
		return RunRunning, nil
	case "complete", "success":
		return RunComplete, nil
	case "failed", "error":
		return RunFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

// JobRun is one execution of an upstream operation.
type JobRun struct {
	RunID uuid.UUID
	// JobID is the hex job identifier. Sub-operations may leave it empty.
	JobID     string
	VideoID   string
	Operation string
	StartedAt time.Time
	// FinishedAt is nil until the upstream call returns.
	FinishedAt *time.Time
	Status     RunStatus
	// DisconnectedAt is set when the last waiting client went away before
	// the call finished.
	DisconnectedAt *time.Time
	ErrorMessage   *string
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	JobID  string
	Status *RunStatus
}

// RunRepository persists the job run audit trail.
type RunRepository interface {
	// StartRun inserts a running row; replays of the same run id are ignored.
	StartRun(ctx context.Context, run JobRun) error
	// FinishRun records the upstream outcome.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// MarkDisconnected stamps the client disconnect time without touching status.
	MarkDisconnected(ctx context.Context, runID uuid.UUID, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (JobRun, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]JobRun, error)
}
