package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// CategoryRunner is what the orchestrator needs from a category crawler.
type CategoryRunner interface {
	NewRun(category Category) *CategoryRun
	Crawl(ctx context.Context, run *CategoryRun) CategoryResult
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Orchestrator runs every category concurrently, isolates their failures and
// merges their records into one deduplicated result.
type Orchestrator struct {
	runner        CategoryRunner
	clock         Clock
	logger        *zap.Logger
	grace         time.Duration
	maxCategories int
}

// NewOrchestrator wires an orchestrator. A nil clock uses wall time.
func NewOrchestrator(runner CategoryRunner, cfg Config, clock Clock, logger *zap.Logger) *Orchestrator {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	grace := cfg.ShutdownGrace
	if grace < 0 {
		grace = 0
	}
	return &Orchestrator{
		runner:        runner,
		clock:         clock,
		logger:        logger,
		grace:         grace,
		maxCategories: cfg.MaxCategories,
	}
}

// Run crawls the categories and returns the merged result. It always
// returns; when ctx is cancelled it waits at most the shutdown grace and
// salvages whatever each category accumulated.
func (o *Orchestrator) Run(ctx context.Context, categories []Category) RunResult {
	start := o.clock.Now()
	if o.maxCategories > 0 && len(categories) > o.maxCategories {
		categories = categories[:o.maxCategories]
	}
	o.logger.Info("crawl run starting", zap.Int("categories", len(categories)))

	runs := make([]*CategoryRun, len(categories))
	settled := make([]*CategoryResult, len(categories))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, cat := range categories {
		runs[i] = o.runner.NewRun(cat)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := o.crawlCategory(ctx, runs[i])
			mu.Lock()
			settled[i] = &res
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	o.wait(ctx, done)

	results := make([]CategoryResult, len(categories))
	var all []Record
	mu.Lock()
	for i := range categories {
		if settled[i] != nil {
			results[i] = *settled[i]
		} else {
			results[i] = runs[i].Snapshot()
		}
		all = append(all, results[i].Records...)
	}
	mu.Unlock()

	records := Dedupe(all)
	elapsed := o.clock.Now().Sub(start)
	result := RunResult{
		Records:     records,
		Categories:  results,
		StartedAt:   start,
		Elapsed:     elapsed,
		Throughput:  throughput(len(records), elapsed),
		Interrupted: ctx.Err() != nil,
	}

	o.logger.Info("crawl run finished",
		zap.Int("records", len(records)),
		zap.Int("duplicates_dropped", len(all)-len(records)),
		zap.Strings("failed_categories", result.FailedCategories()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("records_per_second", result.Throughput),
		zap.Bool("interrupted", result.Interrupted),
	)
	return result
}

// RunAndWrite runs the crawl and hands the result to the output sink. The
// sink call is detached from ctx so an interrupted run still persists.
func (o *Orchestrator) RunAndWrite(ctx context.Context, categories []Category, sink OutputSink) (RunResult, error) {
	result := o.Run(ctx, categories)
	if sink == nil {
		return result, nil
	}
	if err := sink.Write(context.WithoutCancel(ctx), result); err != nil {
		return result, fmt.Errorf("write crawl output: %w", err)
	}
	return result, nil
}

// crawlCategory converts a panic escaping the category crawler into a
// RunFault while keeping what the category had already gathered. Tasks the
// crawler spawned before panicking are awaited so their records are kept;
// Run's shutdown grace still bounds the overall wait.
func (o *Orchestrator) crawlCategory(ctx context.Context, run *CategoryRun) (res CategoryResult) {
	defer func() {
		if r := recover(); r != nil {
			cat := run.Category()
			run.fail(NewFailure(FailureRunFault, cat.URL, fmt.Errorf("panic: %v", r)))
			metrics.ObserveCategory(string(StateFailed))
			o.logger.Error("category crawl faulted",
				zap.String("category", cat.Name),
				zap.Any("panic", r),
			)
			run.wait()
			res = run.Snapshot()
		}
	}()
	return o.runner.Crawl(ctx, run)
}

func (o *Orchestrator) wait(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	o.logger.Warn("crawl interrupted, waiting for in-flight work", zap.Duration("grace", o.grace))
	timer := time.NewTimer(o.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		o.logger.Warn("shutdown grace elapsed, salvaging partial results")
	}
}

func throughput(records int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(records) / elapsed.Seconds()
}
