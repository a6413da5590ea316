package crawler

import (
	"context"
	"time"
)

// Transport performs one network retrieval and returns the raw content.
// Implementations must honour ctx and the timeout; any non-success is an error.
type Transport interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// LeafExtractor turns one fetched leaf page into a record. It never panics on
// malformed input; it returns false when nothing usable was found.
type LeafExtractor interface {
	Extract(content []byte, sourceURL string) (Record, bool)
}

// ListingExtractor reads listing pages.
type ListingExtractor interface {
	LeafLinks(content []byte) []string
	PageCount(content []byte) (int, bool)
	PageURL(category Category, page int) string
}

// DeadPageDetector recognises the site's not-found page.
type DeadPageDetector interface {
	IsDeadPage(content []byte) bool
}

// Site bundles the extraction strategies for one catalog.
type Site interface {
	ListingExtractor
	LeafExtractor
	DeadPageDetector
}

// ProgressSink receives category snapshots, at least once per page completion.
type ProgressSink interface {
	Report(p Progress)
}

// OutputSink persists the final result set. It is called once per run.
type OutputSink interface {
	Write(ctx context.Context, result RunResult) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(p Progress)

// Report implements ProgressSink.
func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

type nopProgress struct{}

func (nopProgress) Report(Progress) {}

// NopProgress returns a sink that discards every update.
func NopProgress() ProgressSink {
	return nopProgress{}
}
