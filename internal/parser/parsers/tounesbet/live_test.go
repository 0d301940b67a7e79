package tounesbet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const liveFixture = `
<nav id="main_nav">
  <a class="sport_item selected" data-sportid="1181" href="#"><span class="menu-sport-name">Football</span></a>
</nav>
<table id="live_matches_table">
<tr class="live_match_list_header"><td><div class="category-tournament-title">Premier League</div></td></tr>
<tr class="trMatch live_match_data" data-matchid="555">
  <td><div class="competitor1-name">Arsenal</div><div class="competitor2-name">Chelsea</div></td>
  <td class="betColumn main-market-no_1">
    <span class="match-odd" data-oddvaluedecimal="2.10" data-matchoddvaluetype="1">2.10</span>
    <span class="match-odd" data-isactive="false" data-oddvaluedecimal="3.30" data-matchoddvaluetype="X">3.30</span>
    <span class="match-odd" data-oddvaluedecimal="3.50" data-matchoddvaluetype="2">3.50</span>
  </td>
  <td class="betColumn main-market-no_2">
    <span class="match-odd" data-oddvaluedecimal="1.90" data-matchoddvalueratio="2,5" data-matchoddvaluetype="U">1.90</span>
    <span class="match-odd" data-oddvaluedecimal="1.85" data-matchoddvalueratio="2,5" data-matchoddvaluetype="O">1.85</span>
  </td>
</tr>
<tr class="trMatch live_match_data" data-matchid="556">
  <td><div class="competitor1-name">No Away</div></td>
</tr>
</table>`

func TestParseLive(t *testing.T) {
	sports := ParseLive(liveFixture, testNow)
	require.Len(t, sports, 1)
	require.Equal(t, "football", sports[0].Key)

	require.Len(t, sports[0].Leagues, 1)
	league := sports[0].Leagues[0]
	require.Equal(t, "Premier League", league.Name)
	require.Equal(t, "live_1181_premier-league", league.ExternalID)

	require.Len(t, league.Games, 1)
	g := league.Games[0]
	require.Equal(t, "555", g.ExternalID)
	require.True(t, g.Live)
	require.Equal(t, testNow, g.StartTime)
	require.Len(t, g.Markets, 2)

	oneX2 := g.Markets[0]
	require.Equal(t, "1x2", oneX2.Key)
	require.Equal(t, "555_1x2", oneX2.ExternalID)
	require.Len(t, oneX2.Outcomes, 2, "inactive X is skipped")
	require.Equal(t, "1", oneX2.Outcomes[0].Label)
	require.Equal(t, "live_555_1", oneX2.Outcomes[0].ExternalID)
	require.Equal(t, "2", oneX2.Outcomes[1].Label)

	totals := g.Markets[1]
	require.Equal(t, "totals", totals.Key)
	require.Len(t, totals.Outcomes, 2)
	require.Equal(t, "Under", totals.Outcomes[0].Label)
	require.NotNil(t, totals.Outcomes[0].Handicap)
	require.InDelta(t, 2.5, *totals.Outcomes[0].Handicap, 1e-9)
	require.Equal(t, "Over", totals.Outcomes[1].Label)
}

func TestParseLive_NoTable(t *testing.T) {
	require.Nil(t, ParseLive(`<html><body>nothing live</body></html>`, testNow))
}

func TestNavSports(t *testing.T) {
	html := `
<nav id="main_nav">
  <a class="sport_item selected" data-sportid="1181"><span class="menu-sport-name">Football</span></a>
  <a class="sport_item" data-sportid="1200"><span class="menu-sport-name">Tennis de Table</span></a>
  <a class="sport_item" data-sportid="1181"><span class="menu-sport-name">Football</span></a>
</nav>`
	id, ok := SelectedSportID(html)
	require.True(t, ok)
	require.Equal(t, "1181", id)

	sports := ParseNavSports(html)
	require.Len(t, sports, 2)
	require.Equal(t, "football", sports[0].Key)
	require.Equal(t, "1181", sports[0].ExternalID)
	require.Equal(t, "tennis-de-table", sports[1].Key)
	require.Equal(t, "Tennis de Table", sports[1].Name)

	_, ok = SelectedSportID(`<nav id="main_nav"></nav>`)
	require.False(t, ok)
}

func TestSportKeyName(t *testing.T) {
	key, name := SportKeyName("1181")
	require.Equal(t, "football", key)
	require.Equal(t, "Football", name)

	key, name = SportKeyName("99")
	require.Equal(t, "sport-99", key)
	require.Equal(t, "Sport 99", name)
}
