package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract/sites"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/promote"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/output"
	"github.com/JakeFAU/catalog-crawler/internal/policy/simple"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

// transportMode resolves the configured mode, falling back to the preset's.
func transportMode(cfg config.Config, preset sites.Preset) string {
	if cfg.Transport.Mode != "" {
		return cfg.Transport.Mode
	}
	if preset.Transport != "" {
		return preset.Transport
	}
	return sites.TransportHTTP
}

// attemptTimeout is the per-attempt budget handed to the fetcher. Rendered
// modes get at least the navigation timeout so a page's optional steps fit.
// The plain transport keeps its own client timeout in auto mode.
func attemptTimeout(cfg config.Config, preset sites.Preset) time.Duration {
	switch transportMode(cfg, preset) {
	case sites.TransportHeadless, sites.TransportAuto:
		if !cfg.Transport.Headless.Disabled {
			return max(cfg.Crawler.FetchTimeout, cfg.Transport.Headless.NavigationTimeout)
		}
	}
	return cfg.Crawler.FetchTimeout
}

// buildTransport assembles the transport for the resolved mode. The returned
// func releases the browser when one was started.
func buildTransport(cfg config.Config, preset sites.Preset, logger *zap.Logger) (crawler.Transport, func(), error) {
	plain := func() *collyfetcher.Fetcher {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:           cfg.Transport.UserAgent,
			RespectRobots:       cfg.Transport.RespectRobots,
			Timeout:             cfg.Crawler.FetchTimeout,
			MaxIdleConnsPerHost: cfg.Crawler.Concurrency,
		})
	}
	rendered := func() (*headless.Fetcher, error) {
		if cfg.Transport.Headless.Disabled {
			return nil, fmt.Errorf("headless transport: rendering is disabled")
		}
		h := cfg.Transport.Headless
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       h.MaxParallel,
			UserAgent:         cfg.Transport.UserAgent,
			NavigationTimeout: h.NavigationTimeout,
			Settle:            h.Settle,
			ViewportWidth:     h.ViewportWidth,
			ViewportHeight:    h.ViewportHeight,
			Rules:             preset.Rules,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("headless transport: %w", err)
		}
		return f, nil
	}

	mode := transportMode(cfg, preset)
	logger.Info("transport selected", zap.String("mode", mode))

	switch mode {
	case sites.TransportHTTP:
		return plain(), func() {}, nil
	case sites.TransportHeadless:
		f, err := rendered()
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	case sites.TransportAuto:
		var (
			render  crawler.Transport = headless.NewNoop()
			release                   = func() {}
		)
		if !cfg.Transport.Headless.Disabled {
			f, err := rendered()
			if err != nil {
				return nil, nil, err
			}
			render, release = f, f.Close
		}
		t, err := promote.New(
			plain(),
			render,
			detector.NewHeuristic(cfg.Transport.Headless.PromotionThreshold),
			simple.New(cfg.Transport.Headless.AllowedHosts...),
			logger,
		)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("auto transport: %w", err)
		}
		return t, release, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}

// buildStore opens the configured output backend.
func buildStore(ctx context.Context, cfg config.Config) (output.BlobStore, func(), error) {
	switch cfg.Output.Backend {
	case config.BackendFile:
		store, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("file output: %w", err)
		}
		return store, func() {}, nil
	case config.BackendGCS:
		store, closeFn, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Output.Bucket, Prefix: cfg.Output.Prefix})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs output: %w", err)
		}
		return store, func() { _ = closeFn() }, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown output backend %q", cfg.Output.Backend)
	}
}
