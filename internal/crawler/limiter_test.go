package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterNeverExceedsCeilingUnderLoad(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(8)
	var wg sync.WaitGroup
	var mu sync.Mutex
	maxSeen := 0
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Do(context.Background(), func(context.Context) {
				mu.Lock()
				if n := limiter.InFlight(); n > maxSeen {
					maxSeen = n
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, maxSeen, 8)
	require.LessOrEqual(t, limiter.Peak(), 8)
	require.Positive(t, limiter.Peak())
	require.Zero(t, limiter.InFlight())
}

func TestLimiterReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(1)
	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()
	require.Zero(t, limiter.InFlight())

	release, err = limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()
	require.Equal(t, 1, limiter.InFlight())
}

func TestLimiterAcquireAbandonsOnCancel(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(1)
	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, limiter.InFlight())
}

func TestNewLimiterDefaultsCeiling(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultConcurrency, NewLimiter(0).Ceiling())
}
