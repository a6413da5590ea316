package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// RetryPolicy decides how many attempts a fetch gets and how long to wait
// before each one.
type RetryPolicy interface {
	MaxAttempts() int
	// Delay is the wait before the given 1-based attempt.
	Delay(attempt int) time.Duration
	ShouldRetry(err error, attempt int) bool
}

// FixedRetryPolicy waits a small jitter before every attempt and a fixed
// backoff before every attempt after the first.
type FixedRetryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	jitter      time.Duration
}

// NewFixedRetryPolicy builds a policy; non-positive attempts fall back to the default.
func NewFixedRetryPolicy(attempts int, backoff, jitter time.Duration) *FixedRetryPolicy {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &FixedRetryPolicy{
		maxAttempts: attempts,
		backoff:     backoff,
		jitter:      jitter,
	}
}

// MaxAttempts returns the attempt bound.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the wait before the given attempt.
func (p *FixedRetryPolicy) Delay(attempt int) time.Duration {
	delay := p.randomJitter()
	if attempt > 1 {
		delay += p.backoff
	}
	return delay
}

// ShouldRetry decides whether the error is retryable. Per-attempt deadlines
// are transient; caller cancellation is not.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (p *FixedRetryPolicy) randomJitter() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	half := p.jitter / 2
	if half <= 0 {
		return p.jitter
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(half)))
	if err != nil {
		return p.jitter
	}
	return half + time.Duration(n.Int64())
}
