// Package ankergames extracts catalog records from ankergames.net. Its
// listing and download links only exist after client-side interaction, so
// it is paired with the rendered transport and the step rules in Steps.
package ankergames

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// BaseURL is the site root.
const BaseURL = "https://ankergames.net"

// DisplayName is the catalog name written to the output document.
const DisplayName = "AnkerGames"

// GamesListURL is the single listing page.
const GamesListURL = BaseURL + "/games-list"

// maxSpanScan bounds the fallback version-badge scan.
const maxSpanScan = 200

// maxCandidates bounds how many elements each size selector inspects.
const maxCandidates = 10

// Categories returns the single built-in listing.
func Categories() []crawler.Category {
	return []crawler.Category{{Name: "All Games", URL: GamesListURL}}
}

var (
	versionPattern = regexp.MustCompile(`(?i)^v\s*\d+(?:[._]\d+)*`)
	sizePattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(GB|MB)`)

	relativeMonthPatterns = []*regexp.Regexp{
		regexp.MustCompile(`last\s*updated[^\d]*(\d+)\s+month`),
		regexp.MustCompile(`published\s*on[^\d]*(\d+)\s+month`),
	}

	// sizeSelectors are tried in order before falling back to the whole page.
	sizeSelectors = []string{
		"div:has(.text-xs)",
		"div",
		"span",
	}
)

// Site implements crawler.Site for ankergames.net.
type Site struct {
	clock crawler.Clock
}

// New builds the extractor. The clock anchors relative upload dates.
func New(clock crawler.Clock) *Site {
	return &Site{clock: clock}
}

// PageURL returns the listing URL; the listing is not paginated.
func (s *Site) PageURL(category crawler.Category, page int) string {
	if page <= 1 {
		return category.URL
	}
	return fmt.Sprintf("%s?page=%d", category.URL, page)
}

// PageCount always reports a single page once all games are loaded.
func (s *Site) PageCount([]byte) (int, bool) {
	return 1, true
}

// IsDeadPage treats empty documents and 404 titles as missing.
func (s *Site) IsDeadPage(content []byte) bool {
	if len(bytes.TrimSpace(content)) == 0 {
		return true
	}
	doc, err := extract.Parse(content)
	if err != nil {
		return false
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	return strings.Contains(title, "404") || strings.Contains(title, "not found")
}

// LeafLinks returns the game links in the listing grid.
func (s *Site) LeafLinks(content []byte) []string {
	doc, err := extract.Parse(content)
	if err != nil {
		return nil
	}
	var links []string
	doc.Find(`div.grid a[href*="/game/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := extract.Resolve(BaseURL+"/", href)
		if strings.HasPrefix(link, BaseURL+"/game/") {
			links = extract.AppendUnique(links, link)
		}
	})
	return links
}

// Extract parses a rendered game page.
func (s *Site) Extract(content []byte, sourceURL string) (crawler.Record, bool) {
	doc, err := extract.Parse(content)
	if err != nil {
		return crawler.Record{}, false
	}
	rec := crawler.Record{
		Title:      title(doc, edition(content, doc)),
		FileSize:   fileSize(doc, content),
		UploadDate: s.uploadDate(content),
		SourceURL:  sourceURL,
	}
	if link := downloadLink(doc); link != "" {
		rec.DownloadURIs = []string{link}
	}
	return rec, true
}

func title(doc *goquery.Document, edition string) string {
	var parts []string
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		parts = append(parts, h1)
	}
	if v := version(doc); v != "" {
		parts = append(parts, v)
	}
	if edition != "" {
		parts = append(parts, edition, "Edition")
	}
	return strings.Join(parts, " ")
}

func isVersion(text string) bool {
	return versionPattern.MatchString(text) || strings.HasPrefix(strings.ToUpper(text), "V ")
}

func version(doc *goquery.Document) string {
	if badge := extract.CollapseSpace(doc.Find("span.animate-glow").First().Text()); badge != "" && isVersion(badge) {
		return badge
	}
	found := ""
	doc.Find("span").EachWithBreak(func(i int, span *goquery.Selection) bool {
		if i >= maxSpanScan {
			return false
		}
		text := strings.TrimSpace(span.Text())
		if text != "" && isVersion(text) {
			found = text
			return false
		}
		return true
	})
	return found
}

// edition reads the value span that precedes the "Edition" label, falling
// back to a span mentioning "Complete".
func edition(content []byte, doc *goquery.Document) string {
	if root, err := htmlquery.Parse(bytes.NewReader(content)); err == nil {
		node, err := htmlquery.Query(root, `//span[contains(., "Edition")]/preceding-sibling::span[1]`)
		if err == nil && node != nil {
			if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
				return text
			}
		}
	}
	return strings.TrimSpace(doc.Find(`span:contains("Complete")`).First().Text())
}

func fileSize(doc *goquery.Document, content []byte) string {
	for _, selector := range sizeSelectors {
		size := ""
		checked := 0
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := sel.Text()
			if !strings.Contains(text, "GB") && !strings.Contains(text, "MB") {
				return true
			}
			checked++
			if m := sizePattern.FindStringSubmatch(text); len(m) == 3 {
				size = m[1] + " " + m[2]
				return false
			}
			return checked < maxCandidates
		})
		if size != "" {
			return size
		}
	}
	if m := sizePattern.FindSubmatch(content); len(m) == 3 {
		return string(m[1]) + " " + string(m[2])
	}
	return crawler.UnknownFileSize
}

func (s *Site) uploadDate(content []byte) string {
	lowered := strings.ToLower(string(content))
	if raw, ok := extract.FirstSubmatch(relativeMonthPatterns, lowered); ok {
		if months, err := strconv.Atoi(raw); err == nil {
			return extract.FormatDate(extract.SubtractMonths(s.now(), months))
		}
	}
	return ""
}

func (s *Site) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

func downloadLink(doc *goquery.Document) string {
	href, ok := doc.Find(`a:contains("Download Now")`).First().Attr("href")
	if !ok {
		return ""
	}
	return extract.StripSpace(href)
}
