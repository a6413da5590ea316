// Package repackgames extracts catalog records from repack-games.com, a
// WordPress site with static, numbered category listings.
package repackgames

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// BaseURL is the site root every leaf link must start with.
const BaseURL = "https://repack-games.com/"

// DisplayName is the catalog name written to the output document.
const DisplayName = "Repack-Games"

// Categories returns the built-in category list.
func Categories() []crawler.Category {
	return []crawler.Category{
		{Name: "Action", URL: BaseURL + "category/action-games/"},
		{Name: "Anime", URL: BaseURL + "category/anime-games/"},
		{Name: "Adventure", URL: BaseURL + "category/adventure-games/"},
		{Name: "Building", URL: BaseURL + "category/building-games/"},
		{Name: "3D COMICS", URL: BaseURL + "category/3d-comics/"},
		{Name: "EXPLORATION", URL: BaseURL + "category/exploration/"},
		{Name: "EMULATOR GAMES", URL: BaseURL + "category/emulator-games/"},
		{Name: "MULTIPLAYER", URL: BaseURL + "category/multiplayer-games/"},
		{Name: "OPEN WORLD", URL: BaseURL + "category/open-world-game/"},
		{Name: "VR-GAMES", URL: BaseURL + "category/vr-games/"},
		{Name: "FIGHTING", URL: BaseURL + "category/fighting-games/"},
		{Name: "NUDITY", URL: BaseURL + "category/nudity/"},
		{Name: "HORROR", URL: BaseURL + "category/horror-games/"},
		{Name: "RACING", URL: BaseURL + "category/racing-game/"},
		{Name: "SHOOTER", URL: BaseURL + "category/shooting-games/"},
		{Name: "RPG", URL: BaseURL + "category/rpg-pc-games/"},
		{Name: "PUZZLE", URL: BaseURL + "category/puzzle/"},
		{Name: "SPORT", URL: BaseURL + "category/sport-game/"},
		{Name: "SURVIVAL", URL: BaseURL + "category/survival-games/"},
		{Name: "SIMULATION", URL: BaseURL + "category/simulation-game/"},
		{Name: "STRATEGY", URL: BaseURL + "category/strategy-games/"},
		{Name: "SCI-FI", URL: BaseURL + "category/sci-fi-games/"},
	}
}

var (
	pageCountPattern = regexp.MustCompile(`Page \d+ of (\d+)`)

	sizePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Game size:\s*([0-9.]+\s*[KMGT]B\+?)`),
		regexp.MustCompile(`(?i)Size:\s*([0-9.]+\s*[KMGT]B\+?)`),
		regexp.MustCompile(`(?i)([0-9.]+\s*[KMGT]B\+?)`),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:UPDATED|PUBLISHED)\s+O[nm]\s*-\s*(\d{1,2}[-/]\d{1,2}[-/]\d{4})`),
		regexp.MustCompile(`(?i)(?:UPDATED|PUBLISHED)\s*:\s*(\d{1,2}[-/]\d{1,2}[-/]\d{4})`),
		regexp.MustCompile(`(?i)(?:UPDATED|PUBLISHED)\s+(\d{1,2}[-/]\d{1,2}[-/]\d{4})`),
		regexp.MustCompile(`(\d{1,2}[-/]\d{1,2}[-/]\d{4})`),
	}

	dateLayouts = []string{"2-1-2006", "2/1/2006", "1/2/2006", "2-1-06", "2/1/06"}
)

// contextDepth is how many blocks (the button's parent plus preceding
// siblings) are inspected for a TORRENT label.
const contextDepth = 5

// Site implements crawler.Site for repack-games.com.
type Site struct {
	clock crawler.Clock
}

// New builds the extractor. The clock anchors relative upload dates.
func New(clock crawler.Clock) *Site {
	return &Site{clock: clock}
}

// PageURL returns the category URL for page 1 and <category>page/<n>/ after.
func (s *Site) PageURL(category crawler.Category, page int) string {
	if page <= 1 {
		return category.URL
	}
	base := category.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%spage/%d/", base, page)
}

// PageCount reads the wp-pagenavi "Page X of N" marker.
func (s *Site) PageCount(content []byte) (int, bool) {
	doc, err := extract.Parse(content)
	if err != nil {
		return 0, false
	}
	text := doc.Find("div.wp-pagenavi span.pages").First().Text()
	m := pageCountPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsDeadPage recognises the theme's "Error 404" article button.
func (s *Site) IsDeadPage(content []byte) bool {
	if len(strings.TrimSpace(string(content))) == 0 {
		return true
	}
	doc, err := extract.Parse(content)
	if err != nil {
		return false
	}
	dead := false
	doc.Find("div.wrap-content div.article-btn").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		dead = strings.Contains(sel.Text(), "Error 404")
		return !dead
	})
	return dead
}

type linkStrategy func(wrap *goquery.Selection) []string

// linkStrategies are tried in order; the first that yields links wins.
var linkStrategies = []linkStrategy{
	articleTitleLinks,
	modernArticleLinks,
	firstArticleLinks,
}

// LeafLinks extracts game page links from a listing page.
func (s *Site) LeafLinks(content []byte) []string {
	doc, err := extract.Parse(content)
	if err != nil {
		return nil
	}
	wrap := doc.Find("div.wrap-content").First()
	if wrap.Length() == 0 {
		return nil
	}
	for _, strategy := range linkStrategies {
		if links := strategy(wrap); len(links) > 0 {
			return links
		}
	}
	return nil
}

func articleTitleLinks(wrap *goquery.Selection) []string {
	var links []string
	wrap.Find("div.articles-content").First().
		Find("article.article h2.article-title").Each(func(_ int, h2 *goquery.Selection) {
		if href, ok := h2.Find("a[href]").First().Attr("href"); ok && isGameLink(href) {
			links = append(links, href)
		}
	})
	return links
}

func modernArticleLinks(wrap *goquery.Selection) []string {
	var links []string
	wrap.Find("ul.modern-articles").First().Find("li").Each(func(_ int, li *goquery.Selection) {
		if href, ok := li.Find("a[href]").First().Attr("href"); ok && isGameLink(href) {
			links = append(links, href)
		}
	})
	return links
}

func firstArticleLinks(wrap *goquery.Selection) []string {
	var links []string
	wrap.Find("article").Each(func(_ int, article *goquery.Selection) {
		article.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if isGameLink(href) && !strings.Contains(href, "/?p=") {
				links = append(links, href)
				return false
			}
			return true
		})
	})
	return links
}

func isGameLink(href string) bool {
	return strings.HasPrefix(href, BaseURL) &&
		!strings.Contains(href, "/category/") &&
		!strings.Contains(href, "/author/")
}

// Extract parses a game page. It reports false only when the document
// cannot be parsed; a page without download links yields an invalid record.
func (s *Site) Extract(content []byte, sourceURL string) (crawler.Record, bool) {
	doc, err := extract.Parse(content)
	if err != nil {
		return crawler.Record{}, false
	}

	title := strings.TrimSpace(doc.Find("h1.article-title.entry-title").First().Text())
	info := doc.Find("div.game-info").First()

	return crawler.Record{
		Title:        title,
		DownloadURIs: downloadLinks(doc),
		FileSize:     fileSize(info),
		UploadDate:   s.uploadDate(doc, info),
		SourceURL:    sourceURL,
	}, true
}

func fileSize(info *goquery.Selection) string {
	if info.Length() == 0 {
		return crawler.UnknownFileSize
	}
	text := info.Text()
	for _, re := range sizePatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if size := extract.CleanSize(m[1]); size != "" {
			return size
		}
	}
	return crawler.UnknownFileSize
}

func (s *Site) uploadDate(doc *goquery.Document, info *goquery.Selection) string {
	if info.Length() > 0 {
		text := info.Text()
		for _, re := range datePatterns {
			m := re.FindStringSubmatch(text)
			if len(m) < 2 {
				continue
			}
			if t, ok := extract.ParseDate(m[1], dateLayouts); ok {
				return extract.FormatDate(t)
			}
		}
	}

	updated := doc.Find("div.time-article.updated").First()
	if updated.Length() == 0 {
		return ""
	}
	if t, ok := extract.ParseRelative(strings.TrimSpace(updated.Text()), s.now()); ok {
		return extract.FormatDate(t)
	}
	return ""
}

func (s *Site) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// downloadLinks collects gp-download-buttons then enjoy-css anchors. The
// first link under each TORRENT label is a torrent-client promo and skipped.
func downloadLinks(doc *goquery.Document) []string {
	var buttons []*goquery.Selection
	collect := func(_ int, sel *goquery.Selection) {
		buttons = append(buttons, sel)
	}
	doc.Find("a.gp-download-buttons").Each(collect)
	doc.Find("a.enjoy-css").Each(collect)

	var links []string
	inTorrent := false
	for _, button := range buttons {
		if strings.Contains(buttonContext(button), "TORRENT") {
			if !inTorrent {
				inTorrent = true
				continue
			}
			inTorrent = false
		} else {
			inTorrent = false
		}
		href, _ := button.Attr("href")
		links = extract.AppendUnique(links, href)
	}
	return links
}

func buttonContext(button *goquery.Selection) string {
	parts := make([]string, 0, contextDepth)
	current := button.Parent()
	for range contextDepth {
		if current.Length() == 0 {
			break
		}
		parts = append(parts, strings.ToUpper(extract.StripSpace(current.Text())))
		current = current.Prev()
	}
	return strings.Join(parts, " ")
}
