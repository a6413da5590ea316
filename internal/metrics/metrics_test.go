package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveFetchAttempt(t *testing.T) {
	site := "attempts.test"
	ok := fetchAttemptsTotal.WithLabelValues(site, OutcomeOK)
	before := testutil.ToFloat64(ok)
	bytesBefore := testutil.ToFloat64(fetchBytesTotal.WithLabelValues(site))

	ObserveFetchAttempt("https://attempts.test/page/2/", OutcomeOK, 30*time.Millisecond, 512)
	ObserveFetchAttempt("https://attempts.test/page/3/", OutcomeError, time.Millisecond, 0)
	ObserveFetchExhausted("https://attempts.test/page/3/")

	require.InDelta(t, before+1, testutil.ToFloat64(ok), 1e-9)
	require.InDelta(t, bytesBefore+512, testutil.ToFloat64(fetchBytesTotal.WithLabelValues(site)), 1e-9)
	require.GreaterOrEqual(t, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues(site, OutcomeExhausted)), 1.0)
}

func TestCrawlCounters(t *testing.T) {
	leaf := leafOutcomesTotal.WithLabelValues("Action", "record")
	before := testutil.ToFloat64(leaf)
	ObserveLeaf("Action", "record")
	ObserveLeaf("Action", "record")
	require.InDelta(t, before+2, testutil.ToFloat64(leaf), 1e-9)

	done := categoriesTotal.WithLabelValues("DONE")
	before = testutil.ToFloat64(done)
	ObserveCategory("DONE")
	require.InDelta(t, before+1, testutil.ToFloat64(done), 1e-9)

	SetInFlight(3)
	require.InDelta(t, 3, testutil.ToFloat64(limiterInFlight), 1e-9)
	SetInFlight(0)

	promoted := promotionsTotal.WithLabelValues("promoted.test")
	before = testutil.ToFloat64(promoted)
	ObservePromotion("https://promoted.test/game/x")
	require.InDelta(t, before+1, testutil.ToFloat64(promoted), 1e-9)

	writes := outputWritesTotal.WithLabelValues("memory", OutcomeOK)
	before = testutil.ToFloat64(writes)
	ObserveOutputWrite("memory", OutcomeOK)
	require.InDelta(t, before+1, testutil.ToFloat64(writes), 1e-9)

	ObserveLimiterWait(time.Millisecond)
	ObserveRateLimitDelay("rate.test", time.Second)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
