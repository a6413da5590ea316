package crawler

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a URL produced no record.
type FailureKind string

// Failure kinds, from the narrowest recovery scope to the widest.
const (
	FailureFetchExhausted FailureKind = "fetch_exhausted"
	FailureDeadPage       FailureKind = "dead_page"
	FailureExtractionMiss FailureKind = "extraction_miss"
	FailureCategory       FailureKind = "category_failure"
	FailureRunFault       FailureKind = "run_fault"
)

// Sentinel errors matched by *Failure through errors.Is.
var (
	ErrFetchExhausted = errors.New("fetch attempts exhausted")
	ErrDeadPage       = errors.New("page matches not-found signature")
	ErrExtractionMiss = errors.New("no usable record extracted")
	ErrCategoryFailed = errors.New("category first page unavailable")
	ErrRunFault       = errors.New("unexpected fault in category crawl")
)

// Failure carries the URL that failed and the failure kind.
type Failure struct {
	URL  string
	Kind FailureKind
	Err  error
}

// NewFailure builds a Failure, defaulting Err to the kind's sentinel.
func NewFailure(kind FailureKind, url string, err error) *Failure {
	if err == nil {
		err = sentinelFor(kind)
	}
	return &Failure{URL: url, Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	if f.URL == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Kind, f.URL, f.Err)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches the sentinel for the failure kind as well as the wrapped cause.
func (f *Failure) Is(target error) bool {
	return target == sentinelFor(f.Kind)
}

func sentinelFor(kind FailureKind) error {
	switch kind {
	case FailureFetchExhausted:
		return ErrFetchExhausted
	case FailureDeadPage:
		return ErrDeadPage
	case FailureExtractionMiss:
		return ErrExtractionMiss
	case FailureCategory:
		return ErrCategoryFailed
	case FailureRunFault:
		return ErrRunFault
	default:
		return nil
	}
}
