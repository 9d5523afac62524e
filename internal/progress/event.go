// Package progress defines the event stream emitted by harvest workers and
// the hub that fans events out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported progress stages. Every event is scoped to one source.
const (
	// StageSourceStart marks a worker attempt beginning.
	StageSourceStart Stage = "SOURCE_START"
	// StageItem is emitted after each processed candidate and carries the
	// running counters.
	StageItem Stage = "ITEM"
	// StageHeartbeat proves liveness between items (long downloads, slow
	// upstream pagination).
	StageHeartbeat Stage = "HEARTBEAT"
	// StageSourceDone and StageSourceError are terminal for one attempt.
	StageSourceDone  Stage = "SOURCE_DONE"
	StageSourceError Stage = "SOURCE_ERROR"
)

// Event captures one step of harvest progress for a single source.
type Event struct {
	// RunID identifies the orchestration run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Source names the content source the event belongs to.
	Source string
	// Running counters at the time of the event.
	New       int64
	Duplicate int64
	Filtered  int64
	Errors    int64
	// Status is a short human-readable state line ("downloading 3/12").
	Status string
	// Note carries low-volume debug context, e.g. error text on
	// StageSourceError.
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
	if e.Source == "" {
		return errors.New("source is required")
	}
	switch e.Stage {
	case StageSourceStart, StageItem, StageHeartbeat, StageSourceDone, StageSourceError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.New < 0 || e.Duplicate < 0 || e.Filtered < 0 || e.Errors < 0 {
		return errors.New("counters must be >= 0")
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
