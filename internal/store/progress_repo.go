package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus is the lifecycle of the current run.
type RunStatus string

// Run statuses.
const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	// RunPartial marks a run that finished interrupted or with failed categories.
	RunPartial RunStatus = "partial"
)

// RunSnapshot describes the run as last reported.
type RunSnapshot struct {
	RunID     uuid.UUID
	StartedAt time.Time
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time
	Status     RunStatus
	// Records is the deduplicated total, known once the run completes.
	Records int
	Elapsed time.Duration
	Note    string
}

// CategorySnapshot is the latest progress of one category.
type CategorySnapshot struct {
	Category       string
	State          crawler.State
	PagesCompleted int
	PagesFailed    int
	PagesTotal     int
	TotalKnown     bool
	Records        int
	LastUpdate     time.Time
}

// ProgressRepository serves live progress for the running crawl.
type ProgressRepository interface {
	// GetRun returns the run snapshot or ErrNotFound before the run starts.
	GetRun(ctx context.Context) (RunSnapshot, error)
	// ListCategories returns categories ordered by name, optionally filtered by state.
	ListCategories(ctx context.Context, state *crawler.State, limit, offset int) ([]CategorySnapshot, error)
	// GetCategory loads one category or returns ErrNotFound.
	GetCategory(ctx context.Context, name string) (CategorySnapshot, error)
}
