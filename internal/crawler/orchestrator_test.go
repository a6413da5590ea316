package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOutputSink is a mock implementation of the OutputSink interface.
type MockOutputSink struct {
	mock.Mock
}

func (m *MockOutputSink) Write(ctx context.Context, result RunResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func newTestOrchestrator(tr Transport, cfg Config, limiter *Limiter) *Orchestrator {
	crawler := NewCategoryCrawler(newTestFetcher(tr, limiter), fakeSite{}, cfg, nil, nil)
	clock := &fixedClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), inc: 2 * time.Second}
	return NewOrchestrator(crawler, cfg, clock, nil)
}

// seedCategory registers pages listing pages, each with leavesPerPage unique leaves.
func seedCategory(tr *fakeTransport, cat Category, pages, leavesPerPage int) {
	for page := 1; page <= pages; page++ {
		links := make([]string, 0, leavesPerPage)
		for i := 1; i <= leavesPerPage; i++ {
			link := fmt.Sprintf("%s/game/%d-%d", cat.URL, page, i)
			links = append(links, link)
			tr.set(link, leaf(fmt.Sprintf("%s %d-%d", cat.Name, page, i), "magnet:"+link))
		}
		tr.set(fmt.Sprintf("%s/page/%d", cat.URL, page), listing(pages, links...))
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	cats := []Category{
		{Name: "A", URL: "https://site.test/a"},
		{Name: "B", URL: "https://site.test/b"},
	}
	for _, cat := range cats {
		seedCategory(tr, cat, 2, 2)
	}

	res := newTestOrchestrator(tr, DefaultConfig(), NewLimiter(3)).Run(context.Background(), cats)

	require.Len(t, res.Records, 8)
	seen := map[string]bool{}
	for _, rec := range res.Records {
		require.NotEmpty(t, rec.DownloadURIs)
		require.False(t, seen[rec.SourceURL], "duplicate %s", rec.SourceURL)
		seen[rec.SourceURL] = true
	}
	require.Empty(t, res.FailedCategories())
	require.False(t, res.Interrupted)
	require.Equal(t, 2*time.Second, res.Elapsed)
	require.InDelta(t, 4.0, res.Throughput, 0.001)
}

func TestOrchestratorIsolatesFailedCategory(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	a := Category{Name: "A", URL: "https://site.test/a"}
	b := Category{Name: "B", URL: "https://site.test/b"}
	seedCategory(tr, a, 2, 3)
	tr.fail(b.URL + "/page/1")

	res := newTestOrchestrator(tr, DefaultConfig(), NewLimiter(4)).Run(context.Background(), []Category{a, b})

	require.Len(t, res.Records, 6)
	for _, rec := range res.Records {
		require.Contains(t, rec.SourceURL, a.URL)
	}
	require.Equal(t, []string{"B"}, res.FailedCategories())
	require.ErrorIs(t, res.Categories[1].Err, ErrCategoryFailed)
}

func TestOrchestratorBoundsConcurrencyUnderLoad(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.delay = 2 * time.Millisecond
	cats := make([]Category, 0, 4)
	for i := range 4 {
		cat := Category{Name: fmt.Sprintf("c%d", i), URL: fmt.Sprintf("https://site.test/c%d", i)}
		seedCategory(tr, cat, 3, 10)
		cats = append(cats, cat)
	}
	limiter := NewLimiter(5)

	res := newTestOrchestrator(tr, DefaultConfig(), limiter).Run(context.Background(), cats)

	require.Len(t, res.Records, 4*3*10)
	require.LessOrEqual(t, limiter.Peak(), 5)
	require.LessOrEqual(t, tr.peak.Load(), int64(5))
	require.Zero(t, limiter.InFlight())
}

func TestOrchestratorDedupesAcrossCategories(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	a := Category{Name: "A", URL: "https://site.test/a"}
	b := Category{Name: "B", URL: "https://site.test/b"}
	shared := "https://site.test/shared"
	tr.set(shared, leaf("Shared", "magnet:shared"))
	tr.set(a.URL+"/page/1", listing(1, shared, "https://site.test/only-a"))
	tr.set(b.URL+"/page/1", listing(1, shared))
	tr.set("https://site.test/only-a", leaf("Only A", "magnet:a"))

	res := newTestOrchestrator(tr, DefaultConfig(), NewLimiter(4)).Run(context.Background(), []Category{a, b})

	require.Len(t, res.Records, 2)
}

func TestOrchestratorLimitsCategories(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	a := Category{Name: "A", URL: "https://site.test/a"}
	b := Category{Name: "B", URL: "https://site.test/b"}
	seedCategory(tr, a, 1, 1)
	seedCategory(tr, b, 1, 1)
	cfg := DefaultConfig()
	cfg.MaxCategories = 1

	res := newTestOrchestrator(tr, cfg, NewLimiter(4)).Run(context.Background(), []Category{a, b})

	require.Len(t, res.Categories, 1)
	require.Zero(t, tr.callCount(b.URL+"/page/1"))
}

type panickingRunner struct {
	inner   CategoryRunner
	explode string
}

func (p panickingRunner) NewRun(cat Category) *CategoryRun { return p.inner.NewRun(cat) }

func (p panickingRunner) Crawl(ctx context.Context, run *CategoryRun) CategoryResult {
	if run.Category().Name == p.explode {
		panic("nil map write")
	}
	return p.inner.Crawl(ctx, run)
}

func TestOrchestratorContainsCategoryPanic(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	a := Category{Name: "A", URL: "https://site.test/a"}
	b := Category{Name: "B", URL: "https://site.test/b"}
	seedCategory(tr, a, 1, 2)
	seedCategory(tr, b, 1, 2)
	inner := NewCategoryCrawler(newTestFetcher(tr, NewLimiter(4)), fakeSite{}, DefaultConfig(), nil, nil)
	orch := NewOrchestrator(panickingRunner{inner: inner, explode: "B"}, DefaultConfig(), nil, nil)

	var res RunResult
	require.NotPanics(t, func() {
		res = orch.Run(context.Background(), []Category{a, b})
	})

	require.Len(t, res.Records, 2)
	require.Equal(t, []string{"B"}, res.FailedCategories())
	require.ErrorIs(t, res.Categories[1].Err, ErrRunFault)
}

// pagerPanicSite panics while reading the page count, after the first
// page's leaves were already spawned.
type pagerPanicSite struct{ fakeSite }

func (pagerPanicSite) PageCount([]byte) (int, bool) {
	panic("page count exploded")
}

func TestOrchestratorKeepsLeavesSpawnedBeforeCrawlerPanic(t *testing.T) {
	t.Parallel()

	cat := Category{Name: "late", URL: "https://site.test/late"}
	tr := newFakeTransport()
	tr.delay = 50 * time.Millisecond
	tr.set(cat.URL+"/page/1", listing(0, "https://site.test/late/leaf"))
	tr.set("https://site.test/late/leaf", leaf("Late", "magnet:late"))

	cfg := DefaultConfig()
	crawler := NewCategoryCrawler(newTestFetcher(tr, NewLimiter(4)), pagerPanicSite{}, cfg, nil, nil)
	orch := NewOrchestrator(crawler, cfg, nil, nil)

	var res RunResult
	require.NotPanics(t, func() {
		res = orch.Run(context.Background(), []Category{cat})
	})

	require.Equal(t, StateFailed, res.Categories[0].State)
	require.ErrorIs(t, res.Categories[0].Err, ErrRunFault)
	require.Len(t, res.Records, 1, "leaf fetched after the panic is kept")
}

func TestOrchestratorSalvagesOnCancel(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	a := Category{Name: "A", URL: "https://site.test/a"}
	seedCategory(tr, a, 1, 2)
	slow := Category{Name: "slow", URL: "https://site.test/slow"}
	tr.set(slow.URL+"/page/1", listing(1, "https://site.test/slow/leaf"))
	tr.set("https://site.test/slow/leaf", leaf("Slow", "magnet:slow"))

	blocker := &gateTransport{
		inner:   tr,
		gated:   "https://site.test/slow/leaf",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	defer close(blocker.release)

	cfg := DefaultConfig()
	cfg.ShutdownGrace = 20 * time.Millisecond
	fetcher := NewFetcher(blocker, NewLimiter(4), NewFixedRetryPolicy(1, 0, 0), time.Minute, nil)
	orch := NewOrchestrator(NewCategoryCrawler(fetcher, fakeSite{}, cfg, nil, nil), cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-blocker.entered
		for tr.callCount(a.URL+"/game/1-1") == 0 || tr.callCount(a.URL+"/game/1-2") == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := orch.Run(ctx, []Category{a, slow})

	require.True(t, res.Interrupted)
	require.Len(t, res.Records, 2, "finished category is salvaged")
}

// gateTransport blocks one URL until released, ignoring cancellation, to
// model an in-flight fetch that outlives the shutdown grace.
type gateTransport struct {
	inner   Transport
	gated   string
	entered chan struct{}
	release chan struct{}
}

func (g *gateTransport) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if url == g.gated {
		close(g.entered)
		<-g.release
		return nil, errors.New("released")
	}
	return g.inner.Fetch(ctx, url, timeout)
}

func TestRunAndWriteDetachesSinkFromCancellation(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	a := Category{Name: "A", URL: "https://site.test/a"}
	seedCategory(tr, a, 1, 1)
	orch := newTestOrchestrator(tr, DefaultConfig(), NewLimiter(2))

	sink := &MockOutputSink{}
	sink.On("Write", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
		Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := orch.RunAndWrite(ctx, []Category{a}, sink)

	require.NoError(t, err)
	require.True(t, res.Interrupted)
	sink.AssertExpectations(t)
}

func TestRunAndWriteWrapsSinkError(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	orch := newTestOrchestrator(tr, DefaultConfig(), NewLimiter(2))
	sink := &MockOutputSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	_, err := orch.RunAndWrite(context.Background(), nil, sink)
	require.ErrorContains(t, err, "write crawl output")
}
