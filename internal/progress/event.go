package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the sync milestone represented by an Event.
type Stage string

// Supported sync stages.
const (
	StageSyncStart   Stage = "SYNC_START"
	StageSyncDone    Stage = "SYNC_DONE"
	StageSyncError   Stage = "SYNC_ERROR"
	StageFanoutError Stage = "FANOUT_ERROR"
)

// Terminal reports whether the stage closes a sync run.
func (s Stage) Terminal() bool {
	return s == StageSyncDone || s == StageSyncError
}

// Event records one milestone of a single sync run.
type Event struct {
	// RunID identifies one worker run; it is a UUIDv7 in binary form.
	RunID [16]byte
	// SourceID is the source being collected.
	SourceID string
	// SourceType is RSS, WEB or FILE.
	SourceType string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Trigger is "tick" or "manual".
	Trigger string
	// Documents counts newly persisted documents on SYNC_DONE.
	Documents int
	// Dur is the run's wall time on terminal stages.
	Dur time.Duration
	// Note carries error text for SYNC_ERROR and FANOUT_ERROR.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.SourceID == "" {
		return errors.New("source id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSyncStart, StageSyncDone:
	case StageSyncError, StageFanoutError:
		if e.Note == "" {
			return fmt.Errorf("%s requires a note", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Documents < 0 {
		return errors.New("documents must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID returns a fresh time-ordered run identifier.
func NewRunID() [16]byte {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return [16]byte(id)
}
