package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the run
// counters and the per-category page and record gauges.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	categoriesRunning prometheus.Gauge
	pagesCompleted    *prometheus.GaugeVec
	pagesFailed       *prometheus.GaugeVec
	pagesTotal        *prometheus.GaugeVec
	records           *prometheus.GaugeVec

	tracker *categoryTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		categoriesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_categories_running",
			Help: "Categories currently being crawled.",
		}),
		pagesCompleted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_category_pages_completed",
			Help: "Listing pages completed per category.",
		}, []string{"category"}),
		pagesFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_category_pages_failed",
			Help: "Listing pages that exhausted their retries per category.",
		}, []string{"category"}),
		pagesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_category_pages_total",
			Help: "Known or probed page total per category.",
		}, []string{"category"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_category_records",
			Help: "Records accumulated per category.",
		}, []string{"category"}),
		tracker: newCategoryTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.categoriesRunning,
		s.pagesCompleted,
		s.pagesFailed,
		s.pagesTotal,
		s.records,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		result := "complete"
		if evt.Note != "" {
			result = "partial"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageCategory:
		s.handleCategoryEvent(evt)
	}
}

func (s *PrometheusSink) handleCategoryEvent(evt progress.Event) {
	name := evt.Category
	s.pagesCompleted.WithLabelValues(name).Set(float64(evt.PagesCompleted))
	s.pagesFailed.WithLabelValues(name).Set(float64(evt.PagesFailed))
	s.pagesTotal.WithLabelValues(name).Set(float64(evt.PagesTotal))
	s.records.WithLabelValues(name).Set(float64(evt.Records))

	terminal := evt.State == crawler.StateDone || evt.State == crawler.StateFailed
	if !terminal && s.tracker.start(name) {
		s.categoriesRunning.Inc()
	}
	if terminal && s.tracker.complete(name) {
		s.categoriesRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type categoryTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCategoryTracker() *categoryTracker {
	return &categoryTracker{running: make(map[string]struct{})}
}

func (t *categoryTracker) start(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[name]; ok {
		return false
	}
	t.running[name] = struct{}{}
	return true
}

func (t *categoryTracker) complete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[name]; !ok {
		return false
	}
	delete(t.running, name)
	return true
}
