package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

// TestHubReportStampsRunAndClock verifies category snapshots become events.
func TestHubReportStampsRunAndClock(t *testing.T) {
	t.Parallel()

	runID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	at := time.Date(2025, 3, 31, 8, 30, 0, 0, time.UTC)
	sink := newStubSink()
	hub := NewHub(Config{
		MaxBatchEvents: 1,
		RunID:          runID,
		Clock:          fixedClock(at),
	}, sink)

	var ps crawler.ProgressSink = hub
	ps.Report(crawler.Progress{
		Category:       "RPG",
		State:          crawler.StateFirstPageFetched,
		PagesCompleted: 1,
		PagesTotal:     4,
		TotalKnown:     true,
		Records:        3,
	})
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	evt := batches[0][0]
	require.Equal(t, runID, evt.RunUUID())
	require.Equal(t, at, evt.TS)
	require.Equal(t, StageCategory, evt.Stage)
	require.Equal(t, "RPG", evt.Category)
	require.Equal(t, 4, evt.PagesTotal)
	require.Equal(t, 3, evt.Records)
}

// TestHubDropsInvalidEvents verifies invalid events never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Report(crawler.Progress{Category: "RPG"})
	hub.Emit(Event{RunID: UUIDToBytes(uuid.New()), TS: time.Now(), Stage: StageCategory})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())

	hub.Emit(sampleEvent(StageRunStart))
	require.Empty(t, sink.Batches(), "closed hub ignores events")
}

// TestHubCoalescesCategoryUpdates verifies only the newest update per category is delivered.
func TestHubCoalescesCategoryUpdates(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Hour,
		Coalesce:       true,
		RunID:          uuid.New(),
	}, sink)

	hub.Emit(Event{RunID: hub.RunID(), TS: time.Now(), Stage: StageRunStart})
	for i := 1; i <= 5; i++ {
		hub.Report(crawler.Progress{Category: "RPG", State: crawler.StatePagesFanned, PagesCompleted: i, Records: i * 10})
	}
	hub.Report(crawler.Progress{Category: "Action", State: crawler.StateDone, PagesCompleted: 2})
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 3)
	require.Equal(t, StageRunStart, batches[0][0].Stage)
	require.Equal(t, "RPG", batches[0][1].Category)
	require.Equal(t, 5, batches[0][1].PagesCompleted)
	require.Equal(t, 50, batches[0][1].Records)
	require.Equal(t, "Action", batches[0][2].Category)
}

func TestCoalesceKeepsNewestPosition(t *testing.T) {
	t.Parallel()

	mk := func(stage Stage, category string, pages int) Event {
		return Event{Stage: stage, Category: category, PagesCompleted: pages}
	}
	got := coalesce([]Event{
		mk(StageCategory, "A", 1),
		mk(StageCategory, "B", 1),
		mk(StageCategory, "A", 2),
		mk(StageRunDone, "", 0),
	})
	require.Equal(t, []Event{
		mk(StageCategory, "B", 1),
		mk(StageCategory, "A", 2),
		mk(StageRunDone, "", 0),
	}, got)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageCategory)
	require.NoError(t, valid.Validate())

	tests := map[string]func(e *Event){
		"missing run":      func(e *Event) { e.RunID = [16]byte{} },
		"missing ts":       func(e *Event) { e.TS = time.Time{} },
		"unknown stage":    func(e *Event) { e.Stage = "NOPE" },
		"missing category": func(e *Event) { e.Category = "" },
		"negative pages":   func(e *Event) { e.PagesFailed = -1 },
		"negative dur":     func(e *Event) { e.Dur = -time.Second },
	}
	for name, mutate := range tests {
		evt := valid
		mutate(&evt)
		require.Error(t, evt.Validate(), name)
	}
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: stage,
	}
	if stage == StageCategory {
		evt.Category = "Action"
	}
	return evt
}
