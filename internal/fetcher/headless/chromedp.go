// Package headless contains the rendered transport: pages are loaded in a
// headless Chrome via chromedp, optional interaction steps run, and the
// resulting DOM is returned.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Default viewport, wide enough for lg: breakpoint elements to render.
const (
	DefaultViewportWidth  = 1366
	DefaultViewportHeight = 900

	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is the pause after the body is ready and before steps run.
	Settle         time.Duration
	ViewportWidth  int
	ViewportHeight int
	Rules          []Rule
	Logger         *zap.Logger
}

// Fetcher implements crawler.Transport using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily on the first fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	for i, rule := range cfg.Rules {
		if rule.Pattern == nil {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = DefaultViewportWidth, DefaultViewportHeight
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders url, runs the steps of the first matching rule and returns
// the outer HTML. The render is bounded by the larger of timeout and the
// navigation timeout, and by ctx. A document status of 400 or above is an
// error.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	timeout = max(timeout, f.cfg.NavigationTimeout)
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, err := f.render(taskCtx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("render %s: %w", url, ctxErr)
		}
		return nil, err
	}
	if status := meta.statusOr(http.StatusOK); status >= http.StatusBadRequest {
		return nil, fmt.Errorf("render %s: status %d", url, status)
	}
	return []byte(html), nil
}

func (f *Fetcher) render(ctx context.Context, url string) (string, error) {
	load := []chromedp.Action{
		f.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
	}
	if err := chromedp.Run(ctx, load...); err != nil {
		return "", fmt.Errorf("chromedp navigate: %w", err)
	}

	if rule, ok := matchRule(f.cfg.Rules, url); ok {
		if err := runSteps(ctx, rule.Steps, f.logger.With(zap.String("url", url))); err != nil {
			return "", err
		}
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}

func (f *Fetcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(f.cfg.ViewportWidth), int64(f.cfg.ViewportHeight), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	if m.status == 0 {
		m.status = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) statusOr(fallback int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 0 {
		return fallback
	}
	return m.status
}
