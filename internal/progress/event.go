package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageCategory Stage = "CATEGORY_UPDATE"
	StageRunDone  Stage = "RUN_DONE"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Category scopes category updates; empty for run-level events.
	Category       string
	State          crawler.State
	PagesCompleted int
	PagesFailed    int
	PagesTotal     int
	TotalKnown     bool
	Records        int
	// Dur carries the elapsed run time on RUN_DONE.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. failed categories).
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
	case StageCategory:
		if e.Category == "" {
			return errors.New("category update requires category")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.PagesCompleted < 0 || e.PagesFailed < 0 || e.PagesTotal < 0 || e.Records < 0 {
		return errors.New("counters must be >= 0")
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

// FromProgress converts a category snapshot into a CATEGORY_UPDATE event.
func FromProgress(runID [16]byte, ts time.Time, p crawler.Progress) Event {
	return Event{
		RunID:          runID,
		TS:             ts.UTC(),
		Stage:          StageCategory,
		Category:       p.Category,
		State:          p.State,
		PagesCompleted: p.PagesCompleted,
		PagesFailed:    p.PagesFailed,
		PagesTotal:     p.PagesTotal,
		TotalKnown:     p.TotalKnown,
		Records:        p.Records,
	}
}
