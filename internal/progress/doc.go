// Package progress provides the event primitives and the non-blocking hub
// that turn category snapshots into batched progress updates. Events are
// batched on a background goroutine and fanned out to pluggable sinks such
// as structured logs or Prometheus gauges.
package progress
