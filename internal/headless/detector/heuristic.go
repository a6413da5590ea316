// Package detector decides when a plainly fetched page must be re-fetched
// through the rendered transport.
package detector

import (
	"bytes"
	"strings"
)

const defaultThreshold = 2048

// scriptCoveragePercent is the share of a small page occupied by script
// tags above which the page is assumed to be built client-side.
const scriptCoveragePercent = 25

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	markers             [][]byte
}

// NewHeuristic creates a detector. Extra markers are matched in addition to
// the built-in framework markers.
func NewHeuristic(threshold int, extraMarkers ...string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	markers := append([][]byte(nil), frameworkMarkers...)
	for _, m := range extraMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, []byte(m))
		}
	}
	return &Heuristic{BodyLengthThreshold: threshold, markers: markers}
}

// frameworkMarkers identify pages whose catalog content is rendered by
// client-side frameworks (React, Next, Vue, Livewire, Alpine).
var frameworkMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("wire:id="),
	[]byte("wire:snapshot"),
	[]byte("x-data="),
}

// NeedsRendering reports whether body looks script-rendered.
func (h *Heuristic) NeedsRendering(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range h.markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the rest of the document is script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= scriptCoveragePercent
}
