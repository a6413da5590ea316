package sinks

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// SnapshotSink keeps the latest event per category in memory and serves it
// as a store.ProgressRepository.
type SnapshotSink struct {
	mu         sync.RWMutex
	run        *store.RunSnapshot
	categories map[string]store.CategorySnapshot
}

// NewSnapshotSink creates an empty SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{categories: make(map[string]store.CategorySnapshot)}
}

// Consume applies a batch of events in order.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.run = &store.RunSnapshot{
			RunID:     evt.RunUUID(),
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		}
	case progress.StageCategory:
		s.categories[evt.Category] = store.CategorySnapshot{
			Category:       evt.Category,
			State:          evt.State,
			PagesCompleted: evt.PagesCompleted,
			PagesFailed:    evt.PagesFailed,
			PagesTotal:     evt.PagesTotal,
			TotalKnown:     evt.TotalKnown,
			Records:        evt.Records,
			LastUpdate:     evt.TS,
		}
	case progress.StageRunDone:
		if s.run == nil {
			s.run = &store.RunSnapshot{RunID: evt.RunUUID(), StartedAt: evt.TS.Add(-evt.Dur)}
		}
		finished := evt.TS
		s.run.FinishedAt = &finished
		s.run.Records = evt.Records
		s.run.Elapsed = evt.Dur
		s.run.Note = evt.Note
		s.run.Status = store.RunComplete
		if evt.Note != "" {
			s.run.Status = store.RunPartial
		}
	}
}

// Close implements the Sink interface; snapshots stay readable afterwards.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}

// GetRun implements store.ProgressRepository.
func (s *SnapshotSink) GetRun(context.Context) (store.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return store.RunSnapshot{}, store.ErrNotFound
	}
	return *s.run, nil
}

// ListCategories implements store.ProgressRepository.
func (s *SnapshotSink) ListCategories(
	_ context.Context,
	state *crawler.State,
	limit, offset int,
) ([]store.CategorySnapshot, error) {
	s.mu.RLock()
	out := make([]store.CategorySnapshot, 0, len(s.categories))
	for _, c := range s.categories {
		if state != nil && c.State != *state {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	if offset >= len(out) {
		return []store.CategorySnapshot{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetCategory implements store.ProgressRepository.
func (s *SnapshotSink) GetCategory(_ context.Context, name string) (store.CategorySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[name]
	if !ok {
		return store.CategorySnapshot{}, store.ErrNotFound
	}
	return c, nil
}
