// Package promote combines the plain and rendered transports: pages are
// probed over plain HTTP and re-fetched through the renderer when they look
// script-built.
package promote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Detector decides whether a probed body needs rendering.
type Detector interface {
	NeedsRendering(body []byte) bool
}

// Policy decides whether a URL may be rendered at all.
type Policy interface {
	AllowHeadless(rawURL string) bool
}

// Transport implements crawler.Transport with per-host promotion. Once a host
// has been promoted, later fetches for it skip the probe.
type Transport struct {
	probe    crawler.Transport
	render   crawler.Transport
	detector Detector
	policy   Policy
	logger   *zap.Logger
	promoted sync.Map
}

// New builds a promoting Transport. A nil policy allows every host.
func New(probe, render crawler.Transport, detector Detector, policy Policy, logger *zap.Logger) (*Transport, error) {
	if probe == nil || render == nil {
		return nil, fmt.Errorf("probe and render transports are required")
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		probe:    probe,
		render:   render,
		detector: detector,
		policy:   policy,
		logger:   logger,
	}, nil
}

// Fetch implements crawler.Transport.
func (t *Transport) Fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	host := hostOf(rawURL)
	if _, ok := t.promoted.Load(host); ok {
		return t.render.Fetch(ctx, rawURL, timeout)
	}

	body, err := t.probe.Fetch(ctx, rawURL, timeout)
	if err != nil {
		return nil, err
	}
	if !t.detector.NeedsRendering(body) || !t.allowed(rawURL) {
		return body, nil
	}

	rendered, err := t.render.Fetch(ctx, rawURL, timeout)
	if err != nil {
		t.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return body, nil
	}
	if _, loaded := t.promoted.LoadOrStore(host, struct{}{}); !loaded {
		t.logger.Info("host promoted to rendered transport", zap.String("host", host))
		metrics.ObservePromotion(rawURL)
	}
	return rendered, nil
}

// Promoted reports whether rawURL's host has been promoted.
func (t *Transport) Promoted(rawURL string) bool {
	_, ok := t.promoted.Load(hostOf(rawURL))
	return ok
}

func (t *Transport) allowed(rawURL string) bool {
	return t.policy == nil || t.policy.AllowHeadless(rawURL)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
