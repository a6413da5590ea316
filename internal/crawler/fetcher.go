package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// PageFetcher retrieves content for a URL; false means every attempt failed.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, bool)
}

// Pacer delays a request for politeness (per-host rate limits).
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher wraps a Transport with the concurrency limiter, a per-attempt
// timeout and bounded retry. It performs no parsing.
type Fetcher struct {
	transport Transport
	limiter   *Limiter
	policy    RetryPolicy
	timeout   time.Duration
	pacer     Pacer
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithPacer installs a politeness pacer consulted before every attempt.
func WithPacer(p Pacer) FetcherOption {
	return func(f *Fetcher) {
		f.pacer = p
	}
}

// NewFetcher constructs a Fetcher. A nil limiter means no ceiling.
func NewFetcher(
	transport Transport,
	limiter *Limiter,
	policy RetryPolicy,
	timeout time.Duration,
	logger *zap.Logger,
	opts ...FetcherOption,
) *Fetcher {
	if policy == nil {
		policy = NewFixedRetryPolicy(DefaultRetryAttempts, DefaultRetryBackoff, DefaultRetryJitter)
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		transport: transport,
		limiter:   limiter,
		policy:    policy,
		timeout:   timeout,
		logger:    logger,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves url, holding one limiter slot for the whole retry sequence.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, bool) {
	if f.limiter != nil {
		release, err := f.limiter.Acquire(ctx)
		if err != nil {
			f.logger.Debug("fetch abandoned before slot acquired", zap.String("url", url), zap.Error(err))
			return nil, false
		}
		defer release()
	}

	body, err := f.fetchWithRetry(ctx, url)
	if err != nil {
		metrics.ObserveFetchExhausted(url)
		f.logger.Debug("fetch exhausted", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	return body, true
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts(); attempt++ {
		if err := f.sleep(ctx, f.policy.Delay(attempt)); err != nil {
			return nil, fmt.Errorf("wait before attempt %d: %w", attempt, err)
		}
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, url); err != nil {
				return nil, fmt.Errorf("pace attempt %d: %w", attempt, err)
			}
		}

		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		f.logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil || !f.policy.ShouldRetry(err, attempt) {
			break
		}
	}
	return nil, NewFailure(FailureFetchExhausted, url, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	body, err := f.transport.Fetch(attemptCtx, url, f.timeout)
	if err != nil {
		metrics.ObserveFetchAttempt(url, metrics.OutcomeError, time.Since(start), 0)
		return nil, fmt.Errorf("transport fetch: %w", err)
	}
	metrics.ObserveFetchAttempt(url, metrics.OutcomeOK, time.Since(start), len(body))
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
