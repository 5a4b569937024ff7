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
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRecordStart   Stage = "RECORD_START"
	StageRecordDone    Stage = "RECORD_DONE"
	StageRecordError   Stage = "RECORD_ERROR"
	StageLinkDone      Stage = "LINK_DONE"
	StageWorkerRotated Stage = "WORKER_ROTATED"
)

// LinkOutcome is the final state of one story link.
type LinkOutcome string

// Link outcomes reported on LINK_DONE.
const (
	LinkFetched LinkOutcome = "fetched"
	LinkFailed  LinkOutcome = "failed"
	LinkInvalid LinkOutcome = "invalid"
)

// Event captures a single component of run progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which run, record, or link milestone occurred.
	Stage Stage
	// RecordKey scopes record and link events.
	RecordKey string
	// Bias is the story category of a link event.
	Bias string
	// Site is the host label of a link event.
	Site string
	// URL is the link; it should not contain credentials.
	URL string
	// Outcome is set on LINK_DONE.
	Outcome LinkOutcome
	// Attempts counts fetch calls spent on a link.
	Attempts int
	// Bytes is the length of the extracted text.
	Bytes int64
	// Dur captures latency for links, records and whole runs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
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
	case StageRunStart, StageRunDone:
	case StageRecordStart, StageRecordDone, StageRecordError, StageWorkerRotated:
		if e.RecordKey == "" {
			return fmt.Errorf("%s requires record key", e.Stage)
		}
	case StageLinkDone:
		if e.RecordKey == "" {
			return errors.New("link done requires record key")
		}
		if e.Outcome == "" {
			return errors.New("link done requires outcome")
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
