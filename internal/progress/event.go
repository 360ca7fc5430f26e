package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageRunInterrupted  Stage = "RUN_INTERRUPTED"
	StageEntityStart     Stage = "ENTITY_START"
	StageEntityDone      Stage = "ENTITY_DONE"
	StageFallback        Stage = "FALLBACK_START"
	StageWindowSkipped   Stage = "WINDOW_SKIPPED"
	StageWindowFetched   Stage = "WINDOW_FETCHED"
	StageWindowAbandoned Stage = "WINDOW_ABANDONED"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Entity scopes entity, fallback and window events.
	Entity string
	// Window is the "from-to" text of window events.
	Window string
	// Rows is the number of rows extracted (window) or accumulated (entity, run).
	Rows int
	// Attempts counts fetch attempts spent on a window.
	Attempts int
	// Dur captures fetch latency for windows and wall time for runs.
	Dur time.Duration
	// Note carries low-volume context such as the last error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunInterrupted:
	case StageEntityStart, StageEntityDone, StageFallback:
		if e.Entity == "" {
			return fmt.Errorf("%s requires entity", e.Stage)
		}
	case StageWindowSkipped, StageWindowFetched, StageWindowAbandoned:
		if e.Entity == "" || e.Window == "" {
			return fmt.Errorf("%s requires entity and window", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Rows < 0 || e.Attempts < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run ID into the Event form.
func ParseRunID(text string) ([16]byte, error) {
	id, err := uuid.Parse(text)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
