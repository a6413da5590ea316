// Package sinks implements concrete progress consumers: structured logging,
// Prometheus gauges and an in-memory snapshot read by the progress API. Each
// sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
