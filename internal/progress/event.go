// Package progress defines the event structures emitted by the follower.
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
	StageFollowStart     Stage = "FOLLOW_START"
	StageFollowStop      Stage = "FOLLOW_STOP"
	StageChangeProcessed Stage = "CHANGE_PROCESSED"
	StageChangeSkipped   Stage = "CHANGE_SKIPPED"
	StageChangeFailed    Stage = "CHANGE_FAILED"
)

// Event captures a single follower milestone.
type Event struct {
	// RunID identifies one follower process run.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Sequence is the change sequence the event refers to. For FOLLOW_START it
	// is the resume point.
	Sequence int64
	// Package is set for processed publish changes.
	Package string
	// Versions counts the dependency records written for the change.
	Versions int
	// Dur captures processing latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
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
	case StageFollowStart, StageFollowStop:
	case StageChangeSkipped, StageChangeFailed:
		if e.Sequence <= 0 {
			return errors.New("change events require a positive sequence")
		}
	case StageChangeProcessed:
		if e.Sequence <= 0 {
			return errors.New("change events require a positive sequence")
		}
		if e.Package == "" {
			return errors.New("processed change requires package")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Sequence < 0 {
		return errors.New("sequence must be >= 0")
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
