package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

func TestSnapshotSinkTracksRunAndCategories(t *testing.T) {
	t.Parallel()

	sink := NewSnapshotSink()
	ctx := context.Background()

	_, err := sink.GetRun(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	start := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: runID, TS: start, Stage: progress.StageRunStart},
		{RunID: runID, TS: start.Add(time.Second), Stage: progress.StageCategory, Category: "RPG", State: crawler.StateFirstPageFetched, PagesCompleted: 1, PagesTotal: 4, TotalKnown: true, Records: 2},
		{RunID: runID, TS: start.Add(2 * time.Second), Stage: progress.StageCategory, Category: "Action", State: crawler.StateDone, PagesCompleted: 2, PagesTotal: 2, TotalKnown: true, Records: 7},
		{RunID: runID, TS: start.Add(3 * time.Second), Stage: progress.StageCategory, Category: "RPG", State: crawler.StatePagesFanned, PagesCompleted: 4, PagesTotal: 4, TotalKnown: true, Records: 11},
	}))

	run, err := sink.GetRun(ctx)
	require.NoError(t, err)
	require.Equal(t, id, run.RunID)
	require.Equal(t, store.RunRunning, run.Status)
	require.Nil(t, run.FinishedAt)

	rpg, err := sink.GetCategory(ctx, "RPG")
	require.NoError(t, err)
	require.Equal(t, crawler.StatePagesFanned, rpg.State)
	require.Equal(t, 11, rpg.Records)
	require.Equal(t, start.Add(3*time.Second), rpg.LastUpdate)

	_, err = sink.GetCategory(ctx, "Horror")
	require.ErrorIs(t, err, store.ErrNotFound)

	all, err := sink.ListCategories(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Action", all[0].Category)
	require.Equal(t, "RPG", all[1].Category)

	done := crawler.StateDone
	filtered, err := sink.ListCategories(ctx, &done, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "Action", filtered[0].Category)

	page, err := sink.ListCategories(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "RPG", page[0].Category)

	past, err := sink.ListCategories(ctx, nil, 5, 9)
	require.NoError(t, err)
	require.Empty(t, past)

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: runID, TS: start.Add(time.Minute), Stage: progress.StageRunDone, Records: 15, Dur: time.Minute, Note: "failed: Horror"},
	}))
	run, err = sink.GetRun(ctx)
	require.NoError(t, err)
	require.Equal(t, store.RunPartial, run.Status)
	require.Equal(t, 15, run.Records)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, start.Add(time.Minute), *run.FinishedAt)
	require.NoError(t, sink.Close(ctx))
}

func TestSnapshotSinkRunDoneWithoutStart(t *testing.T) {
	t.Parallel()

	sink := NewSnapshotSink()
	runID := progress.UUIDToBytes(uuid.New())
	end := time.Date(2025, 3, 31, 12, 1, 0, 0, time.UTC)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: end, Stage: progress.StageRunDone, Records: 3, Dur: time.Minute},
	}))

	run, err := sink.GetRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, store.RunComplete, run.Status)
	require.Equal(t, end.Add(-time.Minute), run.StartedAt)
}
