package crawler

import "sync"

// visitTracker provides thread-safe visited URL tracking so a leaf linked
// from several listing pages is fetched once per category.
type visitTracker interface {
	MarkIfNew(url string) bool
}

type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}
