package tounesbet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

const ligue1MatchList = `
<table><tbody class="matchesTableBody">
<tr class="header_tournament_row" data-tournamentid="77"><td><div class="category-tournament-title">Ligue 1</div></td></tr>
<tr class="date_row"><td>15/08/2025</td></tr>
<tr class="trMatch" data-matchid="12345">
  <td class="match_time">21:00</td>
  <td><div class="competitor1-name">PSG</div><div class="competitor2-name">OM</div></td>
  <td class="betColumn main-market-no_1">
    <div class="match-odd" data-matchoddid="9001" data-oddvaluedecimal="1.80">1.80</div>
    <div class="match-odd" data-matchoddid="9002" data-oddvaluedecimal="3,40">3,40</div>
    <div class="match-odd" data-matchoddid="9003" data-oddvaluedecimal="4.20">4.20</div>
  </td>
</tr>
</tbody></table>`

func TestParseSportMatchList_Ligue1(t *testing.T) {
	sports := ParseSportMatchList(ligue1MatchList, FootballSportID, testNow)
	require.Len(t, sports, 1)
	require.Equal(t, "football", sports[0].Key)
	require.Equal(t, "1181", sports[0].ExternalID)

	require.Len(t, sports[0].Leagues, 1)
	league := sports[0].Leagues[0]
	require.Equal(t, "Ligue 1", league.Name)
	require.Equal(t, "prematch_1181_77", league.ExternalID)

	require.Len(t, league.Games, 1)
	g := league.Games[0]
	require.Equal(t, "12345", g.ExternalID)
	require.Equal(t, "PSG", g.HomeTeam)
	require.Equal(t, "OM", g.AwayTeam)
	require.False(t, g.Live)
	require.Equal(t, time.Date(2025, 8, 15, 20, 0, 0, 0, time.UTC), g.StartTime)

	require.Len(t, g.Markets, 1)
	m := g.Markets[0]
	require.Equal(t, "1x2", m.Key)
	require.Equal(t, "12345_1x2", m.ExternalID)
	require.Len(t, m.Outcomes, 3)

	want := []struct {
		label string
		price float64
		ext   string
	}{
		{"1", 1.80, "12345_9001"},
		{"X", 3.40, "12345_9002"},
		{"2", 4.20, "12345_9003"},
	}
	for i, w := range want {
		require.Equal(t, w.label, m.Outcomes[i].Label)
		require.InDelta(t, w.price, m.Outcomes[i].Price, 1e-9)
		require.Equal(t, w.ext, m.Outcomes[i].ExternalID)
		require.Nil(t, m.Outcomes[i].Handicap)
	}
}

func TestParseSportMatchList_Incomplete1x2(t *testing.T) {
	html := `
<tr class="header_tournament_row"><td><div class="category-tournament-title">Coupe de Tunisie</div></td></tr>
<tr class="trMatch" data-matchid="42">
  <td><div class="competitor1-name">CA</div><div class="competitor2-name">EST</div></td>
  <td class="betColumn main-market-no_1">
    <div class="match-odd" data-matchoddid="1" data-oddvaluedecimal="1.50"></div>
    <div class="match-odd" data-matchoddid="2" data-oddvaluedecimal="0"></div>
    <div class="match-odd" data-matchoddid="3" data-oddvaluedecimal="5.00"></div>
  </td>
</tr>`
	sports := ParseSportMatchList(html, FootballSportID, testNow)
	require.Len(t, sports, 1)
	league := sports[0].Leagues[0]
	require.Equal(t, "prematch_1181_coupe-de-tunisie", league.ExternalID)

	g := league.Games[0]
	require.Empty(t, g.Markets)
	require.Equal(t, testNow, g.StartTime, "no date falls back to now")
}

func TestParseSportMatchList_Empty(t *testing.T) {
	require.Nil(t, ParseSportMatchList(`<div>Actuellement, il n'y a pas de correspondances actives.</div>`, "1181", testNow))
	require.Nil(t, ParseSportMatchList("", "1181", testNow))
}

func TestParseNextMatches(t *testing.T) {
	html := `
<table>
<tr class="header_tournament_row"><td class="tournament_name_section">Tunisie - Ligue 1</td></tr>
<tr class="trMatch live_match_data" data-matchid="888">
  <td>20/09/2025</td><td>16:00</td>
  <td><div class="competitor1-name">Stade Tunisien</div><div class="competitor2-name">US Monastir</div></td>
</tr>
<tr class="trMatch live_match_data" data-matchid="889">
  <td><div class="competitor1-name">Only Home</div></td>
</tr>
<tr class="header_tournament_row"><td class="tournament_name_section"></td></tr>
<tr class="trMatch live_match_data" data-matchid="900">
  <td><span class="team1">A</span><span class="team2">B</span></td>
</tr>
</table>`
	sports := ParseNextMatches(html, FootballSportID, testNow)
	require.Len(t, sports, 1)
	leagues := sports[0].Leagues
	require.Len(t, leagues, 2)

	require.Equal(t, "Tunisie - Ligue 1", leagues[0].Name)
	require.Equal(t, "prematch_1181_tunisie-ligue-1", leagues[0].ExternalID)
	require.Len(t, leagues[0].Games, 1)
	g := leagues[0].Games[0]
	require.Equal(t, "888", g.ExternalID)
	require.Equal(t, "Stade Tunisien", g.HomeTeam)
	require.Equal(t, "US Monastir", g.AwayTeam)
	require.Equal(t, time.Date(2025, 9, 20, 15, 0, 0, 0, time.UTC), g.StartTime)
	require.Empty(t, g.Markets)

	require.Equal(t, "Tournament", leagues[1].Name)
	require.Equal(t, "prematch_1181_tournament", leagues[1].ExternalID)
}

func TestRowTeams(t *testing.T) {
	tests := []struct {
		name      string
		row       string
		home      string
		away      string
		wantFound bool
	}{
		{"class names", `<tr><div class="competitor1-name">A &amp; B</div><div class="competitor2-name">C</div></tr>`, "A & B", "C", true},
		{"text fallback", `<tr><td>Esperance - Etoile du Sahel</td></tr>`, "Esperance", "Etoile du Sahel", true},
		{"nothing", `<tr><td>no teams here</td></tr>`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home, away, ok := rowTeams(tt.row)
			require.Equal(t, tt.wantFound, ok)
			require.Equal(t, tt.home, home)
			require.Equal(t, tt.away, away)
		})
	}
}

func TestParsePopularMatches(t *testing.T) {
	html := `
<div class="popular_matches_slider">
  <div class="popular-slider-item">
    <div style="text-transform: uppercase">Esperance</div>
    <div style="text-transform: uppercase">Club Africain</div>
    <span>20/09/2025</span><span>18:30:00</span>
    <div class="match-odd quoteValue" data-matchoddid="303" data-oddvaluedecimal='2.00'><span>1</span></div>
    <div class="match-odd quoteValue" data-matchoddid="301" data-oddvaluedecimal='3.00'><span>X</span></div>
    <div class="match-odd quoteValue" data-matchoddid="302" data-oddvaluedecimal='4.00'><span>2</span></div>
  </div>
  <div class="popular-slider-item">
    <div style="text-transform: uppercase">Lonely</div>
  </div>
</div>`
	league, ok := ParsePopularMatches(html, FootballSportID, testNow)
	require.True(t, ok)
	require.Equal(t, "Popular Matches", league.Name)
	require.Equal(t, "popular_1181", league.ExternalID)
	require.Len(t, league.Games, 1)

	g := league.Games[0]
	require.Equal(t, "pop_301-302-303", g.ExternalID)
	require.Equal(t, "Esperance", g.HomeTeam)
	require.Equal(t, "Club Africain", g.AwayTeam)
	require.Equal(t, time.Date(2025, 9, 20, 17, 30, 0, 0, time.UTC), g.StartTime)

	require.Len(t, g.Markets, 1)
	m := g.Markets[0]
	require.Equal(t, "1x2", m.Key)
	require.Equal(t, "1x2_pop_301-302-303", m.ExternalID)
	require.Len(t, m.Outcomes, 3)
	require.Equal(t, "1", m.Outcomes[0].Label)
	require.InDelta(t, 2.00, m.Outcomes[0].Price, 1e-9)
	require.Equal(t, "303", m.Outcomes[0].ExternalID)

	_, ok = ParsePopularMatches(`<div class="popular_matches_slider"></div>`, FootballSportID, testNow)
	require.False(t, ok)
}
