// Package collyfetcher implements the plain HTTP transport using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const defaultTimeout = 15 * time.Second

// DefaultHeaders are sent with every request unless overridden.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.5"},
	}
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
	// MaxIdleConnsPerHost sizes the keep-alive pool; it should track the
	// crawl's concurrency ceiling.
	MaxIdleConnsPerHost int
}

// Fetcher implements crawler.Transport using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult is filled by the collector callbacks of one visit.
type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(newHTTPTransport(cfg.MaxIdleConnsPerHost))
	// Clones share the client; the timeout is only ever set here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET bounded by ctx and timeout. Non-2xx
// responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result fetchResult
	collector := f.buildCollector(reqCtx, &result)

	if err := f.runCollector(reqCtx, collector, url, &result); err != nil {
		return nil, err
	}
	if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("colly fetch %s: unexpected status %d", url, result.status)
	}
	return result.body, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.Context = ctx
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		return nil
	}
}

func newHTTPTransport(idlePerHost int) *http.Transport {
	if idlePerHost <= 0 {
		idlePerHost = 60
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          220,
		MaxIdleConnsPerHost:   idlePerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
