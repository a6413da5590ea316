// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// UnknownFileSize is the sentinel stored when no size could be resolved.
const UnknownFileSize = "Unknown"

// UploadDateLayout renders upload dates as ISO-8601 UTC with millisecond precision.
const UploadDateLayout = "2006-01-02T15:04:05.000Z"

// Record is one catalog entry extracted from a leaf page.
type Record struct {
	Title        string   `json:"title"`
	DownloadURIs []string `json:"uris"`
	FileSize     string   `json:"fileSize"`
	UploadDate   string   `json:"uploadDate"`
	SourceURL    string   `json:"repackLinkSource"`
}

// Valid reports whether the record carries at least one download link.
func (r Record) Valid() bool {
	return len(r.DownloadURIs) > 0
}

// Category is a named root listing URL.
type Category struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// PageTask identifies one listing page of a category.
type PageTask struct {
	Category Category
	Page     int
	URL      string
}

// Outcome is the result of fetching and extracting one leaf page: exactly
// one of Record or Failure is set.
type Outcome struct {
	Record  *Record
	Failure *Failure
}

// State is the lifecycle position of a category crawl.
type State string

// Category crawl states.
const (
	StateInit             State = "init"
	StateFirstPageFetched State = "first_page_fetched"
	StatePagesFanned      State = "pages_fanned"
	StateLeavesFanned     State = "leaves_fanned"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Progress is a read-only snapshot of one category's crawl handed to a ProgressSink.
type Progress struct {
	Category       string
	State          State
	PagesCompleted int
	PagesFailed    int
	PagesTotal     int
	TotalKnown     bool
	Records        int
}

// CategoryCounters tracks page and leaf accounting for one category.
type CategoryCounters struct {
	PagesAttempted  int `json:"pages_attempted"`
	PagesSucceeded  int `json:"pages_succeeded"`
	PagesFailed     int `json:"pages_failed"`
	LeavesAttempted int `json:"leaves_attempted"`
	LeavesExhausted int `json:"leaves_exhausted"`
	ExtractionMiss  int `json:"extraction_miss"`
}

// CategoryResult is what a category crawl hands back to the orchestrator.
type CategoryResult struct {
	Category Category
	State    State
	Records  []Record
	Counters CategoryCounters
	Err      error
}

// RunResult is the final, deduplicated output of one run.
type RunResult struct {
	Records     []Record
	Categories  []CategoryResult
	StartedAt   time.Time
	Elapsed     time.Duration
	Throughput  float64
	Interrupted bool
}

// FailedCategories lists the names of categories that ended in StateFailed.
func (r RunResult) FailedCategories() []string {
	var out []string
	for _, c := range r.Categories {
		if c.State == StateFailed {
			out = append(out, c.Category.Name)
		}
	}
	return out
}
