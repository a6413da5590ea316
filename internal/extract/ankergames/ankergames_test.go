package ankergames

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

var runTime = fixedClock(time.Date(2025, 3, 31, 8, 30, 0, 0, time.UTC))

const gamesList = `<html><head><title>Games List</title></head><body>
<div class="grid">
  <a href="/game/hollow-knight">Hollow Knight</a>
  <a href="https://ankergames.net/game/celeste">Celeste</a>
  <a href="/game/hollow-knight">Hollow Knight again</a>
  <a href="https://mirror.test/game/elsewhere">Elsewhere</a>
</div>
<a href="/game/outside-grid">Outside</a>
</body></html>`

const gamePage = `<html><body>
<h1>Hollow Knight</h1>
<span class="animate-glow"> V  1.5.78 </span>
<div class="meta">
  <span>Complete</span><span>Edition</span>
</div>
<div><span class="text-xs">Size</span><span>8.9 GB</span></div>
<p>Last Updated - 2 months ago</p>
<p>Published on, 10 months ago</p>
<a class="download-button" href="
   https://files.test/hk
   .zip">Download Now</a>
</body></html>`

const sparsePage = `<html><body>
<h1>Tiny Game</h1>
<span>v1.0.13</span>
<p>Published On 1 month ago</p>
<script>var size = "512 MB";</script>
</body></html>`

func TestLeafLinks(t *testing.T) {
	t.Parallel()

	links := New(runTime).LeafLinks([]byte(gamesList))
	require.Equal(t, []string{
		"https://ankergames.net/game/hollow-knight",
		"https://ankergames.net/game/celeste",
	}, links)
}

func TestPagination(t *testing.T) {
	t.Parallel()

	site := New(runTime)
	n, ok := site.PageCount([]byte(gamesList))
	require.True(t, ok)
	require.Equal(t, 1, n)
	cat := Categories()[0]
	require.Equal(t, GamesListURL, site.PageURL(cat, 1))
	require.False(t, site.IsDeadPage([]byte(gamesList)))
	require.True(t, site.IsDeadPage([]byte(`<html><head><title>404 | Not Found</title></head></html>`)))
	require.True(t, site.IsDeadPage(nil))
}

func TestExtractGamePage(t *testing.T) {
	t.Parallel()

	rec, ok := New(runTime).Extract([]byte(gamePage), "https://ankergames.net/game/hollow-knight")

	require.True(t, ok)
	require.Equal(t, "Hollow Knight V 1.5.78 Complete Edition", rec.Title)
	require.Equal(t, "8.9 GB", rec.FileSize)
	require.Equal(t, "2025-01-31T08:30:00.000Z", rec.UploadDate)
	require.Equal(t, []string{"https://files.test/hk.zip"}, rec.DownloadURIs)
}

func TestExtractSparsePage(t *testing.T) {
	t.Parallel()

	rec, ok := New(runTime).Extract([]byte(sparsePage), "https://ankergames.net/game/tiny")

	require.True(t, ok)
	require.Equal(t, "Tiny Game v1.0.13", rec.Title)
	require.Equal(t, "512 MB", rec.FileSize)
	require.Equal(t, "2025-02-28T08:30:00.000Z", rec.UploadDate, "day clamps to the shorter month")
	require.False(t, rec.Valid(), "no download link before the reveal steps ran")
}

func TestExtractIgnoresAbsoluteDates(t *testing.T) {
	t.Parallel()

	page := `<html><body><h1>X</h1><p>Last updated March 3, 2024 at 5:04 PM</p></body></html>`
	rec, ok := New(runTime).Extract([]byte(page), "https://ankergames.net/game/x")

	require.True(t, ok)
	require.Empty(t, rec.UploadDate, "only month-relative dates are recognised")
	require.Equal(t, crawler.UnknownFileSize, rec.FileSize)
}
