package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageItemDone     Stage = "ITEM_DONE"
	StageItemError    Stage = "ITEM_ERROR"
	StageCheckpoint   Stage = "CHECKPOINT"
	StageSessionStart Stage = "SESSION_START"
	StageSessionError Stage = "SESSION_ERROR"
)

// Event captures a single milestone of an extraction run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Operation names the run kind ("extract" or "finalize").
	Operation string
	// Worker is the 1-based worker number, zero for run-level events.
	Worker int
	// Index is the input position of the item for item events.
	Index int
	// URL is the item URL for item events.
	URL string
	// Count is the item total for RUN_START and the records written for
	// CHECKPOINT.
	Count int
	// Dur captures item latency or total run time.
	Dur time.Duration
	// Note carries low-volume context such as error text or a file path.
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
	case StageRunStart, StageRunDone, StageCheckpoint, StageSessionStart, StageSessionError:
	case StageItemDone, StageItemError:
		if e.URL == "" {
			return errors.New("item event requires url")
		}
		if e.Index < 0 {
			return errors.New("item index must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID parses a textual run ID into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}

// Reporter stamps events for one run and forwards them to an Emitter. A nil
// Reporter or one without an Emitter discards everything.
type Reporter struct {
	emitter   Emitter
	runID     [16]byte
	operation string
	now       func() time.Time
}

// NewReporter binds emitter to runID. now defaults to time.Now.
func NewReporter(emitter Emitter, runID [16]byte, operation string, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{emitter: emitter, runID: runID, operation: operation, now: now}
}

// Emit fills in the run fields and timestamp, then forwards evt.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Operation = r.operation
	if evt.TS.IsZero() {
		evt.TS = r.now().UTC()
	}
	r.emitter.Emit(evt)
}
