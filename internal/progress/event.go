package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageSessionStart Stage = "SESSION_START"
	StageSessionEnd   Stage = "SESSION_END"
	StageItemSaved    Stage = "ITEM_SAVED"
	StageItemSkipped  Stage = "ITEM_SKIPPED"
	StageItemFailed   Stage = "ITEM_FAILED"
)

// Event is one harvest milestone.
type Event struct {
	// RunID identifies the supervisor run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Session is the 1-based session number within the run.
	Session int
	// Index is the catalog position of item events.
	Index    int
	Slug     string
	Filename string
	// Bytes is the size of a saved artifact.
	Bytes int64
	// Dur is the fetch latency for item events and the wall time for session
	// and run ends.
	Dur time.Duration
	// Outcome carries the session outcome or the policy decision.
	Outcome string
	Note    string
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
	case StageRunStart, StageRunDone, StageSessionStart:
	case StageSessionEnd:
		if e.Outcome == "" {
			return errors.New("session end requires outcome")
		}
	case StageItemSaved, StageItemSkipped, StageItemFailed:
		if e.Index < 0 {
			return errors.New("item events require a catalog index")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
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
