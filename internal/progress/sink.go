package progress

import "context"

// Sink receives batches from the Hub's batching goroutine. Consume is called
// with a per-sink deadline; Close is called once after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
