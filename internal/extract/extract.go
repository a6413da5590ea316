// Package extract holds the helpers shared by the site-specific listing and
// leaf extractors: HTML parsing, ordered pattern tables for sizes and dates,
// relative-date arithmetic and URL resolution.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Parse builds a goquery document from raw page content.
func Parse(content []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// FirstSubmatch returns the first capture group of the first pattern that
// matches text. Patterns are tried in table order.
func FirstSubmatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return m[1], true
		}
	}
	return "", false
}

// CollapseSpace trims text and folds internal whitespace runs to one space.
func CollapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// StripSpace removes every whitespace character.
func StripSpace(text string) string {
	return strings.Join(strings.Fields(text), "")
}

var sizeJunk = regexp.MustCompile(`[^0-9.KMGTB+ ]`)

// CleanSize upper-cases a size token and removes anything that is not part
// of a number, a unit or a trailing plus.
func CleanSize(raw string) string {
	return strings.TrimSpace(sizeJunk.ReplaceAllString(strings.ToUpper(raw), ""))
}

// FormatDate renders t in the record upload date layout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(crawler.UploadDateLayout)
}

// ParseDate tries each layout in order. Two-digit years are mapped into the
// 1950–2049 window.
func ParseDate(raw string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if y := t.Year(); y < 100 {
			if y < 50 {
				y += 2000
			} else {
				y += 1900
			}
			t = time.Date(y, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		}
		return t, true
	}
	return time.Time{}, false
}

// RelativeUnit maps one "N <unit> ago" phrase to a subtraction from now.
type RelativeUnit struct {
	Pattern *regexp.Regexp
	Back    func(now time.Time, n int) time.Time
}

// RelativeUnits is the ordered table of "N units ago" phrases. Months are 30
// days and years 365 days.
var RelativeUnits = []RelativeUnit{
	{regexp.MustCompile(`(?i)(\d+)\s+years?\s+ago`), func(now time.Time, n int) time.Time { return now.AddDate(0, 0, -365*n) }},
	{regexp.MustCompile(`(?i)(\d+)\s+months?\s+ago`), func(now time.Time, n int) time.Time { return now.AddDate(0, 0, -30*n) }},
	{regexp.MustCompile(`(?i)(\d+)\s+weeks?\s+ago`), func(now time.Time, n int) time.Time { return now.AddDate(0, 0, -7*n) }},
	{regexp.MustCompile(`(?i)(\d+)\s+days?\s+ago`), func(now time.Time, n int) time.Time { return now.AddDate(0, 0, -n) }},
	{regexp.MustCompile(`(?i)(\d+)\s+hours?\s+ago`), func(now time.Time, n int) time.Time { return now.Add(-time.Duration(n) * time.Hour) }},
	{regexp.MustCompile(`(?i)(\d+)\s+minutes?\s+ago`), func(now time.Time, n int) time.Time { return now.Add(-time.Duration(n) * time.Minute) }},
	{regexp.MustCompile(`(?i)(\d+)\s+seconds?\s+ago`), func(now time.Time, n int) time.Time { return now.Add(-time.Duration(n) * time.Second) }},
}

// ParseRelative resolves the first matching "N units ago" phrase against now.
func ParseRelative(text string, now time.Time) (time.Time, bool) {
	for _, unit := range RelativeUnits {
		m := unit.Pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return unit.Back(now, n), true
	}
	return time.Time{}, false
}

// SubtractMonths moves t back by whole calendar months, clamping the day to
// the length of the target month.
func SubtractMonths(t time.Time, months int) time.Time {
	index := t.Year()*12 + int(t.Month()) - 1 - months
	year, month := index/12, time.Month(index%12+1)
	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Resolve turns href into an absolute URL relative to base. It returns ""
// when either side cannot be parsed.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// AppendUnique appends v when it is non-empty and not already present.
func AppendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
