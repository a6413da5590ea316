package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract/sites"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/output"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
)

const hubCloseTimeout = 5 * time.Second

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls a catalog preset and writes the result document",
		Long: `Crawls every selected category of a catalog preset with bounded
concurrency, then writes the deduplicated records as one JSON document.
An interrupted crawl writes what it gathered under a partial_ name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("site", "", "catalog preset (see 'catalog-crawler sites')")
	flags.StringSlice("categories", nil, "category names to crawl (default all)")
	flags.String("transport", "", "transport mode: http, headless or auto (default per preset)")
	flags.String("user-agent", "", "User-Agent header for the plain transport")
	flags.Int("concurrency", 0, "maximum simultaneous fetches")
	flags.Int("limit-categories", 0, "crawl at most N categories (0 = all)")
	flags.Int("limit-leaves", 0, "fetch at most N leaf pages per run (0 = all)")
	flags.Float64("rate-limit", 0, "per-host requests per second (0 = unlimited)")
	flags.String("as-of", "", "pin the clock for relative dates (RFC 3339 or YYYY-MM-DD)")
	flags.String("output-backend", "", "output backend: file, gcs or memory")
	flags.String("output-dir", "", "directory for the file backend")
	flags.String("output-object", "", "output document name (default per preset)")
	flags.String("metrics-addr", "", "serve /metrics and /healthz on this address during the run")

	return cmd
}

// runCrawl wires every collaborator from cfg and runs one crawl.
func runCrawl(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	undo := zap.ReplaceGlobals(logger)
	defer undo()
	defer func() {
		_ = logger.Sync()
	}()

	preset, err := sites.Lookup(cfg.Site.Preset)
	if err != nil {
		return err
	}
	categories, err := preset.SelectCategories(cfg.Site.Categories)
	if err != nil {
		return err
	}

	runID, err := uuid.New().NewRunID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID.String()), zap.String("site", preset.Name))

	siteClock, err := buildSiteClock(cfg)
	if err != nil {
		return err
	}
	wall := system.New()

	transport, closeTransport, err := buildTransport(cfg, preset, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	engine := cfg.Engine()
	var opts []crawler.FetcherOption
	if pacer := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	}); pacer.Enabled() {
		opts = append(opts, crawler.WithPacer(pacer))
	}
	fetcher := crawler.NewFetcher(
		transport,
		crawler.NewLimiter(engine.Concurrency),
		crawler.NewFixedRetryPolicy(engine.RetryAttempts, engine.RetryBackoff, engine.RetryJitter),
		attemptTimeout(cfg, preset),
		logger,
		opts...,
	)

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	snapshot := sinks.NewSnapshotSink()
	hub := progress.NewHub(progress.Config{Logger: logger, RunID: runID, Clock: wall, Coalesce: true},
		sinks.NewLogSink(logger),
		promSink,
		snapshot,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	object := cfg.Output.Object
	if object == "" {
		object = preset.Object
	}
	writer, err := output.New(store, output.Config{
		Name:    preset.DisplayName,
		Object:  object,
		Backend: cfg.Output.Backend,
		RunID:   runID.String(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		serveCtx, stopServe := context.WithCancel(context.WithoutCancel(ctx))
		done, err := metrics.NewServer(cfg.Metrics.Addr, logger,
			api.NewProgressHandler(snapshot, logger).Routes,
		).Start(serveCtx)
		if err != nil {
			stopServe()
			return err
		}
		defer func() {
			stopServe()
			<-done
		}()
	}

	categoryCrawler := crawler.NewCategoryCrawler(fetcher, preset.New(siteClock), engine, logger, hub)
	orchestrator := crawler.NewOrchestrator(categoryCrawler, engine, wall, logger)

	hub.Emit(progress.Event{RunID: hub.RunID(), TS: wall.Now(), Stage: progress.StageRunStart})
	result, runErr := orchestrator.RunAndWrite(ctx, categories, writer)
	hub.Emit(progress.Event{
		RunID:   hub.RunID(),
		TS:      wall.Now(),
		Stage:   progress.StageRunDone,
		Records: len(result.Records),
		Dur:     result.Elapsed,
		Note:    runNote(result),
	})

	written, _ := writer.Last()
	printSummary(out, result, written)
	return runErr
}

func buildSiteClock(cfg config.Config) (crawler.Clock, error) {
	asOf, pinned, err := cfg.AsOf()
	if err != nil {
		return nil, err
	}
	if pinned {
		return system.NewPinned(asOf), nil
	}
	return system.New(), nil
}

// runNote summarises an incomplete run; it is empty for a clean one.
func runNote(result crawler.RunResult) string {
	var parts []string
	if result.Interrupted {
		parts = append(parts, "interrupted")
	}
	if failed := result.FailedCategories(); len(failed) > 0 {
		parts = append(parts, "failed: "+strings.Join(failed, ", "))
	}
	return strings.Join(parts, "; ")
}

func printSummary(out io.Writer, result crawler.RunResult, written output.Written) {
	fmt.Fprintf(out, "records:     %d\n", len(result.Records))
	fmt.Fprintf(out, "elapsed:     %s\n", result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "records/sec: %.2f\n", result.Throughput)
	if failed := result.FailedCategories(); len(failed) > 0 {
		fmt.Fprintf(out, "failed:      %s\n", strings.Join(failed, ", "))
	}
	if result.Interrupted {
		fmt.Fprintln(out, "interrupted: true")
	}
	if written.URI != "" {
		fmt.Fprintf(out, "output:      %s\n", written.URI)
	}
}
