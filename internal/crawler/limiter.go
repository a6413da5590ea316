package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Limiter is the process-wide gate on simultaneously in-flight fetches.
// Admission is FIFO; callers block until a slot frees or their context ends.
type Limiter struct {
	sem      *semaphore.Weighted
	ceiling  int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewLimiter builds a Limiter with the given ceiling.
func NewLimiter(ceiling int) *Limiter {
	if ceiling <= 0 {
		ceiling = DefaultConcurrency
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(ceiling)),
		ceiling: int64(ceiling),
	}
}

// Acquire takes one slot. The returned release func is idempotent and must
// be called on every path.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fetch slot: %w", err)
	}
	metrics.ObserveLimiterWait(time.Since(start))
	l.track(l.inFlight.Add(1))

	var once sync.Once
	return func() {
		once.Do(func() {
			metrics.SetInFlight(l.inFlight.Add(-1))
			l.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding a slot.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context)) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	fn(ctx)
	return nil
}

// Ceiling returns the configured slot count.
func (l *Limiter) Ceiling() int {
	return int(l.ceiling)
}

// InFlight returns the number of slots currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak returns the highest in-flight count observed.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}

func (l *Limiter) track(n int64) {
	metrics.SetInFlight(n)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			return
		}
	}
}
