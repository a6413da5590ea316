package sites

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestLookup(t *testing.T) {
	t.Parallel()

	p, err := Lookup(" Repack-Games ")
	require.NoError(t, err)
	require.Equal(t, "Repack-Games", p.DisplayName)
	require.Equal(t, TransportHTTP, p.Transport)
	require.Len(t, p.Categories(), 22)
	require.NotNil(t, p.New(fixedClock{}))

	p, err = Lookup("ankergames")
	require.NoError(t, err)
	require.Equal(t, TransportHeadless, p.Transport)
	require.Len(t, p.Rules, 2)

	_, err = Lookup("nope")
	require.ErrorContains(t, err, "ankergames, repack-games")
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"ankergames", "repack-games"}, Names())
}

func TestAnkerRulesMatchPages(t *testing.T) {
	t.Parallel()

	p, err := Lookup("ankergames")
	require.NoError(t, err)

	listing, game := p.Rules[0], p.Rules[1]
	require.True(t, listing.Pattern.MatchString("https://ankergames.net/games-list"))
	require.False(t, listing.Pattern.MatchString("https://ankergames.net/game/elden-ring"))
	require.True(t, game.Pattern.MatchString("https://ankergames.net/game/elden-ring"))
	for _, rule := range p.Rules {
		for _, step := range rule.Steps {
			if step.Selector != "" {
				require.True(t, step.Optional, "interaction %s must be optional", step.Selector)
			}
		}
	}
}

func TestSelectCategories(t *testing.T) {
	t.Parallel()

	p, err := Lookup("repack-games")
	require.NoError(t, err)

	all, err := p.SelectCategories(nil)
	require.NoError(t, err)
	require.Len(t, all, 22)

	picked, err := p.SelectCategories([]string{"rpg", "Action"})
	require.NoError(t, err)
	require.Equal(t, "RPG", picked[0].Name)
	require.Equal(t, "Action", picked[1].Name)

	_, err = p.SelectCategories([]string{"Cooking"})
	require.ErrorContains(t, err, `no category "Cooking"`)
}
