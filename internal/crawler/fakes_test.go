package crawler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSite reads a line-oriented fixture format:
//
//	pages=N        page-count marker
//	leaf:URL       leaf link
//	DEAD           not-found page
//	title=T        leaf title
//	uri=U          download link
//	PANIC          extractor panics
type fakeSite struct{}

func (fakeSite) PageURL(cat Category, page int) string {
	return fmt.Sprintf("%s/page/%d", cat.URL, page)
}

func (fakeSite) LeafLinks(content []byte) []string {
	var out []string
	for _, line := range lines(content) {
		if link, ok := strings.CutPrefix(line, "leaf:"); ok {
			out = append(out, link)
		}
	}
	return out
}

func (fakeSite) PageCount(content []byte) (int, bool) {
	for _, line := range lines(content) {
		if v, ok := strings.CutPrefix(line, "pages="); ok {
			n, err := strconv.Atoi(v)
			return n, err == nil
		}
	}
	return 0, false
}

func (fakeSite) IsDeadPage(content []byte) bool {
	return len(content) == 0 || bytes.Contains(content, []byte("DEAD"))
}

func (fakeSite) Extract(content []byte, sourceURL string) (Record, bool) {
	rec := Record{SourceURL: sourceURL}
	for _, line := range lines(content) {
		switch {
		case line == "PANIC":
			panic("extractor exploded")
		case strings.HasPrefix(line, "title="):
			rec.Title = strings.TrimPrefix(line, "title=")
		case strings.HasPrefix(line, "uri="):
			rec.DownloadURIs = append(rec.DownloadURIs, strings.TrimPrefix(line, "uri="))
		}
	}
	if rec.Title == "" {
		return Record{}, false
	}
	return rec, true
}

func lines(content []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		out = append(out, strings.TrimSpace(sc.Text()))
	}
	return out
}

var errUnreachable = errors.New("unreachable")

// fakeTransport serves canned content, fails listed URLs on every attempt
// and tracks call counts and peak concurrency.
type fakeTransport struct {
	mu       sync.Mutex
	pages    map[string]string
	failing  map[string]bool
	calls    map[string]int
	delay    time.Duration
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pages:   make(map[string]string),
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (f *fakeTransport) set(url, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = content
}

func (f *fakeTransport) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[url] = true
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeTransport) Fetch(ctx context.Context, url string, _ time.Duration) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[url]++
	content, ok := f.pages[url]
	failing := f.failing[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if failing || !ok {
		return nil, errUnreachable
	}
	return []byte(content), nil
}

// newTestFetcher builds a Fetcher with no retry delays.
func newTestFetcher(tr Transport, limiter *Limiter) *Fetcher {
	return NewFetcher(tr, limiter, NewFixedRetryPolicy(3, 0, 0), time.Second, nil)
}

// listing renders a listing page fixture. It is never empty, so it is never
// mistaken for a dead page.
func listing(pages int, leaves ...string) string {
	var b strings.Builder
	b.WriteString("listing\n")
	if pages > 0 {
		fmt.Fprintf(&b, "pages=%d\n", pages)
	}
	for _, l := range leaves {
		fmt.Fprintf(&b, "leaf:%s\n", l)
	}
	return b.String()
}

// leaf renders a leaf page fixture.
func leaf(title string, uris ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title=%s\n", title)
	for _, u := range uris {
		fmt.Fprintf(&b, "uri=%s\n", u)
	}
	return b.String()
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
	inc time.Duration
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.inc)
	return t
}

type progressRecorder struct {
	mu      sync.Mutex
	updates []Progress
}

func (p *progressRecorder) Report(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, pr)
}

func (p *progressRecorder) last() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

func (p *progressRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}
