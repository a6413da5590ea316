package headless

import (
	"context"
	"fmt"
	"time"
)

// Noop stands in for the rendered transport when rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrRendererDisabled.
func (Noop) Fetch(_ context.Context, url string, _ time.Duration) ([]byte, error) {
	return nil, fmt.Errorf("render %s: %w", url, ErrRendererDisabled)
}
