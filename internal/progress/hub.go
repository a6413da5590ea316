package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - Coalesce: deliver only the newest CATEGORY_UPDATE per category in a batch.
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
//   - RunID: stamped on events created by Report.
//   - Clock: timestamps events created by Report (defaults to wall time).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Coalesce       bool
	BaseContext    context.Context
	Logger         *zap.Logger
	RunID          uuid.UUID
	Clock          crawler.Clock
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub collects category snapshots and run milestones from the crawl and fans
// them out to sinks in batches. Emit and Report never block the crawl; when
// the buffer is full the event is dropped. Hub implements crawler.ProgressSink.
type Hub struct {
	cfg         Config
	runID       [16]byte
	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine over sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		runID:       UUIDToBytes(cfg.RunID),
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.drop()
	}
}

func (h *Hub) drop() {
	metrics.ObserveProgressDropped()
	h.dropped.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
	}
}

// Report converts a category snapshot into an event and enqueues it.
func (h *Hub) Report(p crawler.Progress) {
	if h == nil {
		return
	}
	h.Emit(FromProgress(h.runID, h.now(), p))
}

// RunID returns the binary run ID stamped on reported events.
func (h *Hub) RunID() [16]byte {
	return h.runID
}

func (h *Hub) now() time.Time {
	if h.cfg.Clock != nil {
		return h.cfg.Clock.Now()
	}
	return time.Now()
}

// Close drains remaining events, flushes and closes the sinks, and waits for
// the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := newBatcher(h)
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer.C:
			b.armed = false
			b.flush()
		case <-h.stopCh:
			b.drain(h.events)
			b.disarm()
			b.flush()
			h.closeSinks()
			return
		}
	}
}

// batcher owns the pending batch; it is only touched by the run goroutine.
type batcher struct {
	h       *Hub
	pending []Event
	timer   *time.Timer
	armed   bool
}

func newBatcher(h *Hub) *batcher {
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	return &batcher{
		h:       h,
		pending: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:   timer,
	}
}

func (b *batcher) add(evt Event) {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.h.cfg.MaxBatchEvents {
		b.disarm()
		b.flush()
		return
	}
	if !b.armed {
		b.timer.Reset(b.h.cfg.MaxBatchWait)
		b.armed = true
	}
}

func (b *batcher) drain(events <-chan Event) {
	for {
		select {
		case evt := <-events:
			b.add(evt)
		default:
			return
		}
	}
}

func (b *batcher) disarm() {
	if b.armed {
		b.timer.Stop()
		b.armed = false
	}
}

func (b *batcher) flush() {
	if len(b.pending) == 0 {
		return
	}
	batch := append([]Event(nil), b.pending...)
	b.pending = b.pending[:0]
	if b.h.cfg.Coalesce {
		batch = coalesce(batch)
	}
	b.h.deliver(batch)
}

func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// coalesce keeps run events and the newest update of each category, at the
// position of that newest update.
func coalesce(batch []Event) []Event {
	newest := make(map[string]int, len(batch))
	for i, evt := range batch {
		if evt.Stage == StageCategory {
			newest[evt.Category] = i
		}
	}
	out := batch[:0]
	for i, evt := range batch {
		if evt.Stage == StageCategory && newest[evt.Category] != i {
			continue
		}
		out = append(out, evt)
	}
	return out
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
