// Package system provides the clocks used to timestamp runs and resolve
// relative upload dates.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pinned reports a fixed instant. Crawls run with a pinned clock resolve
// "N days ago" dates reproducibly.
type Pinned struct {
	at time.Time
}

// NewPinned returns a clock frozen at t.
func NewPinned(t time.Time) *Pinned {
	return &Pinned{at: t.UTC()}
}

// Now returns the pinned instant.
func (p *Pinned) Now() time.Time {
	return p.at
}
