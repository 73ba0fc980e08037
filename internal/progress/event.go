package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported job stages.
const (
	StageJobStart      Stage = "JOB_START"
	StageJobDone       Stage = "JOB_DONE"
	StageJobError      Stage = "JOB_ERROR"
	StageJobDisconnect Stage = "JOB_DISCONNECT"
)

// Operation names the upstream call a run performed.
type Operation string

// OperationOptimize is the full optimization call; sub-operations use their
// route names.
const OperationOptimize Operation = "optimize"

// Event records one milestone of a job run.
type Event struct {
	// RunID identifies a single execution. Repeated submissions of the same
	// job id get distinct run ids.
	RunID uuid.UUID
	// JobID is the hex job identifier the run works on. Empty for
	// sub-operations whose record key is only known after the call.
	JobID string
	// VideoID is the 11 character YouTube id when known.
	VideoID   string
	Operation Operation
	TS        time.Time
	Stage     Stage
	// Dur is the run's wall time on terminal stages.
	Dur time.Duration
	// Note carries the failure message for JOB_ERROR. It must not contain
	// credentials.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Operation == "" {
		return errors.New("operation is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobDisconnect:
	case StageJobError:
		if e.Note == "" {
			return errors.New("job error requires a note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends the upstream call.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}
