package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const leafKindRecord = "record"

// LeafBudget caps the number of leaf fetches across a whole run. A nil
// budget is unlimited.
type LeafBudget struct {
	limit int64
	used  atomic.Int64
}

// NewLeafBudget returns nil when limit is not positive.
func NewLeafBudget(limit int) *LeafBudget {
	if limit <= 0 {
		return nil
	}
	return &LeafBudget{limit: int64(limit)}
}

// Take claims one leaf; false once the budget is spent.
func (b *LeafBudget) Take() bool {
	if b == nil {
		return true
	}
	return b.used.Add(1) <= b.limit
}

// CategoryRun is the mutex-guarded accumulator for one category crawl. Only
// tasks of that category write to it; readers get copies via Snapshot.
type CategoryRun struct {
	category Category
	visited  visitTracker
	pages    sync.WaitGroup
	leaves   sync.WaitGroup

	mu       sync.Mutex
	state    State
	records  []Record
	counters CategoryCounters
	total    int
	known    bool
	err      error
	faulted  bool
}

func newCategoryRun(category Category) *CategoryRun {
	return &CategoryRun{
		category: category,
		visited:  newConcurrentVisitTracker(),
		state:    StateInit,
	}
}

// Category returns the category being crawled.
func (r *CategoryRun) Category() Category {
	return r.category
}

// Snapshot returns a copy of everything accumulated so far.
func (r *CategoryRun) Snapshot() CategoryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CategoryResult{
		Category: r.category,
		State:    r.state,
		Records:  append([]Record(nil), r.records...),
		Counters: r.counters,
		Err:      r.err,
	}
}

// Progress returns the read-only view handed to progress sinks.
func (r *CategoryRun) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Progress{
		Category:       r.category.Name,
		State:          r.state,
		PagesCompleted: r.counters.PagesSucceeded,
		PagesFailed:    r.counters.PagesFailed,
		PagesTotal:     r.total,
		TotalKnown:     r.known,
		Records:        len(r.records),
	}
}

// wait blocks until every page and leaf task spawned for the category has
// returned. It must not be called while Crawl can still spawn pages.
func (r *CategoryRun) wait() {
	r.pages.Wait()
	r.leaves.Wait()
}

func (r *CategoryRun) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateFailed {
		r.state = s
	}
}

func (r *CategoryRun) setTotal(total int, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	r.known = known
}

func (r *CategoryRun) pageAttempted() {
	r.mu.Lock()
	r.counters.PagesAttempted++
	r.mu.Unlock()
}

func (r *CategoryRun) pageSettled(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.counters.PagesSucceeded++
	} else {
		r.counters.PagesFailed++
	}
}

func (r *CategoryRun) addOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.LeavesAttempted++
	switch {
	case o.Record != nil:
		r.records = append(r.records, *o.Record)
	case o.Failure != nil && o.Failure.Kind == FailureFetchExhausted:
		r.counters.LeavesExhausted++
	default:
		r.counters.ExtractionMiss++
	}
}

func (r *CategoryRun) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateFailed
	if r.err == nil {
		r.err = err
	}
}

func (r *CategoryRun) recordFault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faulted = true
	if r.err == nil {
		r.err = err
	}
}

func (r *CategoryRun) finish() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faulted {
		r.state = StateFailed
	} else if r.state != StateFailed {
		r.state = StateDone
	}
	return r.state
}

// CategoryCrawler drives one category from its first listing page to the
// last leaf. A single instance is shared by every category of a run.
type CategoryCrawler struct {
	fetcher      PageFetcher
	site         Site
	progress     ProgressSink
	logger       *zap.Logger
	probeCeiling int
	probeMisses  int
	budget       *LeafBudget
}

// NewCategoryCrawler wires a crawler. A nil progress sink is replaced by a no-op.
func NewCategoryCrawler(
	fetcher PageFetcher,
	site Site,
	cfg Config,
	logger *zap.Logger,
	progress ProgressSink,
) *CategoryCrawler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if progress == nil {
		progress = NopProgress()
	}
	return &CategoryCrawler{
		fetcher:      fetcher,
		site:         site,
		progress:     progress,
		logger:       logger,
		probeCeiling: cfg.ProbeCeiling,
		probeMisses:  cfg.ProbeMisses,
		budget:       NewLeafBudget(cfg.MaxLeaves),
	}
}

// NewRun creates the accumulator for a category.
func (c *CategoryCrawler) NewRun(category Category) *CategoryRun {
	return newCategoryRun(category)
}

type pageResult int

const (
	pageOK pageResult = iota
	pageDead
	pageExhausted
)

// Crawl runs the category to completion and returns its result. Leaves of
// every listing page are fanned out as soon as that page resolves.
func (c *CategoryCrawler) Crawl(ctx context.Context, run *CategoryRun) CategoryResult {
	cat := run.Category()
	logger := c.logger.With(zap.String("category", cat.Name))

	firstURL := c.site.PageURL(cat, 1)
	run.pageAttempted()
	content, ok := c.fetcher.Fetch(ctx, firstURL)
	if !ok || c.site.IsDeadPage(content) {
		cause := ErrFetchExhausted
		if ok {
			cause = ErrDeadPage
		}
		run.pageSettled(false)
		run.fail(NewFailure(FailureCategory, firstURL, cause))
		c.report(run)
		metrics.ObserveCategory(string(StateFailed))
		logger.Warn("category first page unavailable", zap.String("url", firstURL), zap.Error(cause))
		return run.Snapshot()
	}
	run.pageSettled(true)
	run.setState(StateFirstPageFetched)

	pages, leaves := &run.pages, &run.leaves
	c.fanLeaves(ctx, run, leaves, content)

	disc := DiscoverPages(content, c.site, c.probeCeiling)
	run.setTotal(disc.Total, disc.Known)
	c.report(run)
	logger.Debug("pagination discovered", zap.Int("total", disc.Total), zap.Bool("known", disc.Known))

	if disc.Known {
		for page := 2; page <= disc.Total; page++ {
			if ctx.Err() != nil {
				break
			}
			c.spawn(run, pages, func() {
				c.crawlPage(ctx, run, leaves, page)
			})
		}
	} else {
		c.spawn(run, pages, func() {
			c.probe(ctx, run, leaves, disc.Total)
		})
	}

	pages.Wait()
	run.setState(StatePagesFanned)
	leaves.Wait()
	run.setState(StateLeavesFanned)

	state := run.finish()
	c.report(run)
	metrics.ObserveCategory(string(state))

	res := run.Snapshot()
	logger.Info("category crawl finished",
		zap.String("state", string(res.State)),
		zap.Int("records", len(res.Records)),
		zap.Int("pages_attempted", res.Counters.PagesAttempted),
		zap.Int("pages_succeeded", res.Counters.PagesSucceeded),
		zap.Int("pages_failed", res.Counters.PagesFailed),
		zap.Int("leaves_exhausted", res.Counters.LeavesExhausted),
		zap.Int("extraction_miss", res.Counters.ExtractionMiss),
	)
	return res
}

// probe walks pages 2..ceiling one at a time. It stops at the first dead
// page or after probeMisses consecutive pages that never resolve; a single
// unresolvable page is skipped.
func (c *CategoryCrawler) probe(ctx context.Context, run *CategoryRun, leaves *sync.WaitGroup, ceiling int) {
	last := 1
	defer func() {
		run.setTotal(last, true)
		c.report(run)
	}()
	misses := 0
	for page := 2; page <= ceiling; page++ {
		if ctx.Err() != nil {
			return
		}
		last = page
		switch c.crawlPage(ctx, run, leaves, page) {
		case pageDead:
			return
		case pageExhausted:
			misses++
			if misses >= c.probeMisses {
				c.logger.Warn("probing abandoned after unresolvable pages",
					zap.String("category", run.Category().Name),
					zap.Int("page", page),
					zap.Int("misses", misses),
				)
				return
			}
		case pageOK:
			misses = 0
		}
	}
}

func (c *CategoryCrawler) crawlPage(ctx context.Context, run *CategoryRun, leaves *sync.WaitGroup, page int) pageResult {
	pageURL := c.site.PageURL(run.Category(), page)
	run.pageAttempted()
	content, ok := c.fetcher.Fetch(ctx, pageURL)
	if !ok {
		run.pageSettled(false)
		c.report(run)
		c.logger.Debug("listing page unavailable",
			zap.String("category", run.Category().Name),
			zap.String("url", pageURL),
		)
		return pageExhausted
	}
	run.pageSettled(true)
	if c.site.IsDeadPage(content) {
		c.report(run)
		return pageDead
	}
	c.fanLeaves(ctx, run, leaves, content)
	c.report(run)
	return pageOK
}

func (c *CategoryCrawler) fanLeaves(ctx context.Context, run *CategoryRun, leaves *sync.WaitGroup, content []byte) {
	for _, link := range c.site.LeafLinks(content) {
		if ctx.Err() != nil {
			return
		}
		if !run.visited.MarkIfNew(link) {
			continue
		}
		if !c.budget.Take() {
			return
		}
		c.spawn(run, leaves, func() {
			outcome := FetchLeaf(ctx, c.fetcher, c.site, link)
			kind := leafKindRecord
			if outcome.Failure != nil {
				kind = string(outcome.Failure.Kind)
			}
			metrics.ObserveLeaf(run.Category().Name, kind)
			run.addOutcome(outcome)
		})
	}
}

// spawn runs fn on its own goroutine tracked by wg. A panic is recorded as a
// run fault on the category instead of crashing the process.
func (c *CategoryCrawler) spawn(run *CategoryRun, wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err := NewFailure(FailureRunFault, run.Category().URL, fmt.Errorf("panic: %v", r))
				run.recordFault(err)
				c.logger.Error("category task panicked",
					zap.String("category", run.Category().Name),
					zap.Any("panic", r),
				)
			}
		}()
		fn()
	}()
}

func (c *CategoryCrawler) report(run *CategoryRun) {
	c.progress.Report(run.Progress())
}

// FetchLeaf fetches one leaf page and extracts its record. Records without
// download links are reported as extraction misses.
func FetchLeaf(ctx context.Context, fetcher PageFetcher, extractor LeafExtractor, leafURL string) Outcome {
	content, ok := fetcher.Fetch(ctx, leafURL)
	if !ok {
		return Outcome{Failure: NewFailure(FailureFetchExhausted, leafURL, nil)}
	}
	rec, ok := extractor.Extract(content, leafURL)
	if !ok {
		return Outcome{Failure: NewFailure(FailureExtractionMiss, leafURL, nil)}
	}
	rec = normalizeRecord(rec, leafURL)
	if !rec.Valid() {
		return Outcome{Failure: NewFailure(FailureExtractionMiss, leafURL, errors.New("record has no download links"))}
	}
	return Outcome{Record: &rec}
}

func normalizeRecord(rec Record, sourceURL string) Record {
	rec.Title = strings.TrimSpace(rec.Title)
	if rec.SourceURL == "" {
		rec.SourceURL = sourceURL
	}
	if strings.TrimSpace(rec.FileSize) == "" {
		rec.FileSize = UnknownFileSize
	}
	seen := make(map[string]struct{}, len(rec.DownloadURIs))
	uris := make([]string, 0, len(rec.DownloadURIs))
	for _, u := range rec.DownloadURIs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		uris = append(uris, u)
	}
	rec.DownloadURIs = uris
	return rec
}
