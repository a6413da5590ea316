package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDelaysSecondRequestToSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	require.True(t, l.Enabled())
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/category/action/"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/category/action/page/2/"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.com/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.com/2"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com/"))
	}
}
