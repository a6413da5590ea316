// Package sites registers the catalog presets the CLI can crawl.
package sites

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract/ankergames"
	"github.com/JakeFAU/catalog-crawler/internal/extract/repackgames"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
)

// Transport modes.
const (
	TransportHTTP     = "http"
	TransportHeadless = "headless"
	TransportAuto     = "auto"
)

// Preset describes one crawlable catalog.
type Preset struct {
	Name        string
	DisplayName string
	BaseURL     string
	// Transport is the mode used when configuration does not override it.
	Transport string
	// Object is the default output document name.
	Object     string
	Categories func() []crawler.Category
	// Rules are the interaction steps the rendered transport runs.
	Rules []headless.Rule
	New   func(clock crawler.Clock) crawler.Site
}

var presets = map[string]Preset{
	"repack-games": {
		Name:        "repack-games",
		DisplayName: repackgames.DisplayName,
		BaseURL:     repackgames.BaseURL,
		Transport:   TransportHTTP,
		Object:      "repackgames.json",
		Categories:  repackgames.Categories,
		New: func(clock crawler.Clock) crawler.Site {
			return repackgames.New(clock)
		},
	},
	"ankergames": {
		Name:        "ankergames",
		DisplayName: ankergames.DisplayName,
		BaseURL:     ankergames.BaseURL,
		Transport:   TransportHeadless,
		Object:      "ankergames.json",
		Categories:  ankergames.Categories,
		Rules:       ankerRules(),
		New: func(clock crawler.Clock) crawler.Site {
			return ankergames.New(clock)
		},
	},
}

func ankerRules() []headless.Rule {
	return []headless.Rule{
		{
			Pattern: regexp.MustCompile(`/games-list/?$`),
			Steps: []headless.Step{
				{Kind: headless.StepClick, Selector: `//button[contains(., "Load All Games")]`, Optional: true},
				{Kind: headless.StepSleep, Duration: 2 * time.Second},
			},
		},
		{
			Pattern: regexp.MustCompile(`/game/`),
			Steps: []headless.Step{
				{Kind: headless.StepClick, Selector: `//button[contains(., "Download")]`, Optional: true},
				{Kind: headless.StepSleep, Duration: 500 * time.Millisecond},
				{Kind: headless.StepClick, Selector: `//a[contains(@class, "download-button") and contains(., "Download")]`, Optional: true},
				{Kind: headless.StepSleep, Duration: 1500 * time.Millisecond},
				{Kind: headless.StepWaitVisible, Selector: `//a[contains(., "Download Now")]`, Duration: 15 * time.Second, Optional: true},
			},
		},
	}
}

// Lookup returns the preset registered under name.
func Lookup(name string) (Preset, error) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("unknown site %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the registered presets in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectCategories returns the preset categories, restricted to the given
// names when any are listed. Unknown names are an error.
func (p Preset) SelectCategories(names []string) ([]crawler.Category, error) {
	all := p.Categories()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]crawler.Category, len(all))
	for _, c := range all {
		byName[strings.ToLower(c.Name)] = c
	}
	selected := make([]crawler.Category, 0, len(names))
	for _, name := range names {
		c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("site %s has no category %q", p.Name, name)
		}
		selected = append(selected, c)
	}
	return selected, nil
}
