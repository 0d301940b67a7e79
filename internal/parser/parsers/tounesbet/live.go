package tounesbet

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/htmlblock"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/normalize"
)

var (
	liveTableRe = regexp.MustCompile(`(?is)<table[^>]*id=["']live_matches_table["'][^>]*>.*?</table>`)
	// Tournament header rows of the live table.
	liveHeaderRe = regexp.MustCompile(`(?is)<tr[^>]*class=["'][^"']*live_match_list_header[^"']*["'][^>]*>.*?<div[^>]*class=["']category-tournament-title["'][^>]*>(.*?)</div>.*?</tr>`)
	// Match rows shared by the live table and the next-matches table.
	matchRowRe   = regexp.MustCompile(`(?is)<tr[^>]*class=["'][^"']*trMatch[^"']*live_match_data[^"']*["'][^>]*data-matchid=["'](\d+)["'].*?</tr>`)
	matchIDRe    = regexp.MustCompile(`(?i)data-matchid=["'](\d+)["']`)
	betColumnRe  = regexp.MustCompile(`(?is)<td[^>]*class=["'][^"']*betColumn[^"']*main-market-no_\d+[^"']*["'][^>]*>.*?</td>`)
	matchOddSpan = regexp.MustCompile(`(?is)<span[^>]*class=["'][^"']*match-odd[^"']*["'][^>]*>.*?</span>`)
)

// liveColumn describes one odds column of a live row.
type liveColumn struct {
	key    string
	name   string
	labels []string
	extTag string // fallback outcome id segment
	ratio  bool   // column carries a handicap line
}

var liveColumns = []liveColumn{
	{key: normalize.Market1x2, name: "1X2", labels: []string{"1", "X", "2"}},
	{key: normalize.MarketTotals, name: "Under/Over", labels: []string{"Under", "Over"}, extTag: "ou_", ratio: true},
	{key: normalize.MarketDoubleChance, name: "Double Chance", labels: []string{"1X", "12", "X2"}, extTag: "dc_"},
	{key: normalize.MarketBTTS, name: "Both Teams To Score", labels: []string{"Yes", "No"}, extTag: "btts_"},
}

// ParseLive parses the live scoreboard. Games are live and start at now.
func ParseLive(html string, now time.Time) []models.ParsedSport {
	sportID, ok := SelectedSportID(html)
	if !ok {
		sportID = FootballSportID
	}
	key, name := SportKeyName(sportID)

	scope := htmlblock.Region(html, liveTableRe)
	if scope == "" {
		scope = html
	}

	var leagues []models.ParsedLeague
	for _, section := range splitSections(scope, liveHeaderRe) {
		var games []models.ParsedGame
		for _, row := range matchRowRe.FindAllString(section.block, -1) {
			if g, ok := parseLiveRow(row, now); ok {
				games = append(games, g)
			}
		}
		if len(games) == 0 {
			continue
		}
		leagueName := section.name
		if leagueName == "" {
			leagueName = "Live"
		}
		slug := normalize.Slugify(leagueName)
		if slug == "" {
			slug = "live"
		}
		leagues = append(leagues, models.ParsedLeague{
			Name:       leagueName,
			ExternalID: fmt.Sprintf("live_%s_%s", sportID, slug),
			Games:      games,
		})
	}

	if len(leagues) == 0 {
		return nil
	}
	return []models.ParsedSport{{Key: key, Name: name, ExternalID: sportID, Leagues: leagues}}
}

func parseLiveRow(row string, now time.Time) (models.ParsedGame, bool) {
	m := matchIDRe.FindStringSubmatch(row)
	if m == nil {
		return models.ParsedGame{}, false
	}
	matchID := m[1]

	home := htmlblock.TextByClass(row, "div", "competitor1-name")
	away := htmlblock.TextByClass(row, "div", "competitor2-name")
	if home == "" || away == "" {
		return models.ParsedGame{}, false
	}

	g, err := models.NewParsedGame(matchID, home, away, now, true)
	if err != nil {
		return models.ParsedGame{}, false
	}

	cols := betColumnRe.FindAllString(row, -1)
	for i, col := range liveColumns {
		if i >= len(cols) {
			break
		}
		if market, ok := parseLiveColumn(cols[i], col, matchID); ok {
			g.Markets = append(g.Markets, market)
		}
	}
	return g, true
}

func parseLiveColumn(td string, col liveColumn, matchID string) (models.ParsedMarket, bool) {
	spans := matchOddSpan.FindAllString(td, -1)
	market := models.ParsedMarket{
		Key:        col.key,
		Name:       col.name,
		ExternalID: matchID + "_" + col.key,
	}
	for i, span := range spans {
		if i >= len(col.labels) {
			break
		}
		tag := htmlblock.OpeningTag(span)
		if active, ok := htmlblock.Attr(tag, "data-isactive"); ok && equalFold(active, "false") {
			continue
		}
		raw, ok := htmlblock.Attr(tag, "data-oddvaluedecimal")
		if !ok || raw == "" {
			continue
		}
		price, err := normalize.ParseDecimal(raw)
		if err != nil {
			continue
		}

		var handicap *float64
		if col.ratio {
			if r, ok := htmlblock.Attr(tag, "data-matchoddvalueratio"); ok && r != "" {
				if v, err := normalize.ParseDecimal(r); err == nil {
					handicap = models.Handicap(v)
				}
			}
		}

		ext, ok := htmlblock.Attr(tag, "data-matchoddvaluetype")
		if !ok {
			ext = fmt.Sprintf("%s_%s%d", matchID, col.extTag, i)
		}
		o, err := models.NewParsedOutcome(col.labels[i], price, handicap, "live_"+matchID+"_"+ext)
		if err != nil {
			continue
		}
		market.Outcomes = append(market.Outcomes, o)
	}
	return market, len(market.Outcomes) > 0
}
