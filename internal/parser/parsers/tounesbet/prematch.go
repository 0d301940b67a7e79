package tounesbet

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/htmlblock"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/normalize"
)

var (
	tournamentHeaderRe = regexp.MustCompile(`(?is)<tr[^>]*class=["'][^"']*header_tournament_row[^"']*["'][^>]*>.*?</tr>`)
	tournamentNameTdRe = regexp.MustCompile(`(?is)<td[^>]*class=["']tournament_name_section["'][^>]*>(.*?)</td>`)
	tournamentTitleRe  = regexp.MustCompile(`(?is)<div[^>]*class=["']category-tournament-title["'][^>]*>(.*?)</div>`)
	tournamentIDRe     = regexp.MustCompile(`(?i)data-tournamentid=["'](\d+)["']`)
	anyRowRe           = regexp.MustCompile(`(?is)<tr[^>]*>.*?</tr>`)
	cellDateRe         = regexp.MustCompile(`>(\d{2}/\d{2}/\d{4})<`)
	cellTimeSecRe      = regexp.MustCompile(`>(\d{2}:\d{2}:\d{2})<`)
	cellTimeRe         = regexp.MustCompile(`>(\d{2}:\d{2})<`)
	looseDateRe        = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)
	looseTimeRe        = regexp.MustCompile(`>\s*(\d{2}:\d{2})(?::\d{2})?\s*<`)
	homeNameRe         = regexp.MustCompile(`(?is)<(div|span)[^>]*class=["'][^"']*(?:competitor1-name|team1|home)[^"']*["'][^>]*>(.*?)</(?:div|span)>`)
	awayNameRe         = regexp.MustCompile(`(?is)<(div|span)[^>]*class=["'][^"']*(?:competitor2-name|team2|away)[^"']*["'][^>]*>(.*?)</(?:div|span)>`)
	teamsTextRe        = regexp.MustCompile(`^(.+?)\s+-\s+(.+?)(?:\s{2,}|$)`)
	main1x2CellRe      = regexp.MustCompile(`(?is)<td[^>]*class=["'][^"']*betColumn[^"']*main-market-no_1[^"']*["'][^>]*>(.*?)</td>`)
	oddTagRe           = regexp.MustCompile(`(?i)<(?:div|span)[^>]*data-matchoddid=["'](\d+)["'][^>]*>`)
	oddClassRe         = regexp.MustCompile(`(?i)class=["'][^"']*(?:match-odd|match_odd)[^"']*["']`)
	popularSliderRe    = regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*popular_matches_slider[^"']*["'][^>]*>(.*)`)
	popularItemRe      = regexp.MustCompile(`(?i)class=["'][^"']*popular-slider-item[^"']*["'][^>]*>`)
	popularTeamRe      = regexp.MustCompile(`(?i)<(?:div|span)[^>]*style=["'][^"']*text-transform:\s*uppercase[^"']*["'][^>]*>([^<]+)</(?:div|span)>`)
	popularOutcomeRe   = regexp.MustCompile(`(?is)class=["']match-odd\s+quoteValue["'][^>]*data-matchoddid=["'](\d+)["'][^>]*data-oddvaluedecimal='([^']+)'.*?<span[^>]*>([12X])</span>`)
)

// ParseNextMatches parses the "next matches" table. Games carry no markets;
// those are fetched per match.
func ParseNextMatches(html, sportID string, now time.Time) []models.ParsedSport {
	key, name := SportKeyName(sportID)

	var leagues []models.ParsedLeague
	for _, s := range splitSections(html, tournamentHeaderRe) {
		leagueName := "Tournament"
		if m := tournamentNameTdRe.FindStringSubmatch(s.header); m != nil {
			if t := htmlblock.Text(m[1]); t != "" {
				leagueName = t
			}
		}

		var games []models.ParsedGame
		for _, row := range matchRowRe.FindAllString(s.block, -1) {
			m := matchIDRe.FindStringSubmatch(row)
			if m == nil {
				continue
			}
			home, away, ok := rowTeams(row)
			if !ok {
				continue
			}
			g, err := models.NewParsedGame(m[1], home, away, nextMatchStart(row, now), false)
			if err != nil {
				continue
			}
			games = append(games, g)
		}
		if len(games) == 0 {
			continue
		}
		slug := normalize.Slugify(leagueName)
		if slug == "" {
			slug = "tournament"
		}
		leagues = append(leagues, models.ParsedLeague{
			Name:       leagueName,
			ExternalID: fmt.Sprintf("prematch_%s_%s", sportID, slug),
			Games:      games,
		})
	}

	if len(leagues) == 0 {
		return nil
	}
	return []models.ParsedSport{{Key: key, Name: name, ExternalID: sportID, Leagues: leagues}}
}

func nextMatchStart(row string, now time.Time) time.Time {
	dm := cellDateRe.FindStringSubmatch(row)
	tm := cellTimeSecRe.FindStringSubmatch(row)
	if tm == nil {
		tm = cellTimeRe.FindStringSubmatch(row)
	}
	if dm != nil && tm != nil {
		if t, ok := LocalToUTC(dm[1], tm[1], SiteLocation); ok {
			return t
		}
	}
	return now.UTC()
}

// rowTeams finds home and away names by class, falling back to "A - B" row text.
func rowTeams(row string) (home, away string, ok bool) {
	hm := homeNameRe.FindStringSubmatch(row)
	am := awayNameRe.FindStringSubmatch(row)
	if hm != nil && am != nil {
		home, away = htmlblock.Text(hm[2]), htmlblock.Text(am[2])
		if home != "" && away != "" {
			return home, away, true
		}
	}

	text := strings.TrimSpace(htmlblock.DecodeEntities(htmlblock.StripTags(row)))
	text = strings.Join(strings.Fields(text), " ")
	if m := teamsTextRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}
	return "", "", false
}

type matchListRow struct {
	html string
	date string // last date row seen above this row
}

// ParseSportMatchList parses one page of the paginated sport catalog. A game
// gets an inline 1X2 market only when the main column has three positive prices.
func ParseSportMatchList(html, sportID string, now time.Time) []models.ParsedSport {
	key, name := SportKeyName(sportID)

	var leagues []models.ParsedLeague
	for _, s := range splitSections(html, tournamentHeaderRe) {
		leagueName := "Tournament"
		if m := tournamentTitleRe.FindStringSubmatch(s.header); m != nil {
			if t := htmlblock.Text(m[1]); t != "" {
				leagueName = t
			}
		}
		tournamentID := ""
		if m := tournamentIDRe.FindStringSubmatch(s.header); m != nil {
			tournamentID = m[1]
		}

		var rows []matchListRow
		currentDate := ""
		for _, tr := range anyRowRe.FindAllString(s.block, -1) {
			hasMatch := matchIDRe.MatchString(tr)
			if !hasMatch {
				if dm := looseDateRe.FindStringSubmatch(tr); dm != nil {
					currentDate = dm[1]
				}
				continue
			}
			rows = append(rows, matchListRow{html: tr, date: currentDate})
		}

		var games []models.ParsedGame
		for _, r := range rows {
			matchID := matchIDRe.FindStringSubmatch(r.html)[1]
			home, away, ok := rowTeams(r.html)
			if !ok {
				continue
			}
			g, err := models.NewParsedGame(matchID, home, away, matchListStart(r, now), false)
			if err != nil {
				continue
			}
			if m, ok := inline1x2(r.html, matchID); ok {
				g.Markets = []models.ParsedMarket{m}
			}
			games = append(games, g)
		}
		if len(games) == 0 {
			continue
		}

		suffix := tournamentID
		if suffix == "" {
			suffix = normalize.Slugify(leagueName)
		}
		if suffix == "" {
			suffix = "tournament"
		}
		leagues = append(leagues, models.ParsedLeague{
			Name:       leagueName,
			ExternalID: fmt.Sprintf("prematch_%s_%s", sportID, suffix),
			Games:      games,
		})
	}

	if len(leagues) == 0 {
		return nil
	}
	return []models.ParsedSport{{Key: key, Name: name, ExternalID: sportID, Leagues: leagues}}
}

func matchListStart(r matchListRow, now time.Time) time.Time {
	date := r.date
	if date == "" {
		if dm := looseDateRe.FindStringSubmatch(r.html); dm != nil {
			date = dm[1]
		}
	}
	tm := looseTimeRe.FindStringSubmatch(r.html)
	if date != "" && tm != nil {
		if t, ok := LocalToUTC(date, tm[1], SiteLocation); ok {
			return t
		}
	}
	return now.UTC()
}

func inline1x2(row, matchID string) (models.ParsedMarket, bool) {
	cell := main1x2CellRe.FindStringSubmatch(row)
	if cell == nil {
		return models.ParsedMarket{}, false
	}

	type odd struct {
		id    string
		price float64
	}
	var odds []odd
	for _, m := range oddTagRe.FindAllStringSubmatch(cell[1], -1) {
		tag := m[0]
		if !oddClassRe.MatchString(tag) {
			continue
		}
		raw, ok := htmlblock.Attr(tag, "data-oddvaluedecimal")
		if !ok || raw == "" {
			continue
		}
		price, err := normalize.ParseDecimal(raw)
		if err != nil || !(price > 0) {
			continue
		}
		odds = append(odds, odd{id: m[1], price: price})
		if len(odds) == 3 {
			break
		}
	}
	if len(odds) < 3 {
		return models.ParsedMarket{}, false
	}

	market := models.ParsedMarket{
		Key:        normalize.Market1x2,
		Name:       "1X2",
		ExternalID: matchID + "_1x2",
	}
	for i, label := range []string{"1", "X", "2"} {
		market.Outcomes = append(market.Outcomes, models.ParsedOutcome{
			Label:      label,
			Price:      odds[i].price,
			ExternalID: matchID + "_" + odds[i].id,
		})
	}
	return market, true
}

// ParsePopularMatches parses the popular-matches slider into one league.
// Slider items have no match id, so the game id is derived from its odd ids.
func ParsePopularMatches(html, sportID string, now time.Time) (models.ParsedLeague, bool) {
	scope := html
	if m := popularSliderRe.FindStringSubmatch(html); m != nil {
		scope = m[1]
	}

	league := models.ParsedLeague{
		Name:       "Popular Matches",
		ExternalID: "popular_" + sportID,
	}
	for _, item := range (htmlblock.MarkerSplitter{Marker: popularItemRe}).Split(scope) {
		var teams []string
		for _, tm := range popularTeamRe.FindAllStringSubmatch(item, -1) {
			if t := strings.TrimSpace(htmlblock.DecodeEntities(tm[1])); t != "" {
				teams = append(teams, t)
			}
			if len(teams) == 2 {
				break
			}
		}
		if len(teams) < 2 {
			continue
		}

		start := now.UTC()
		dm := cellDateRe.FindStringSubmatch(item)
		tm := cellTimeSecRe.FindStringSubmatch(item)
		if dm != nil && tm != nil {
			if t, ok := LocalToUTC(dm[1], tm[1], SiteLocation); ok {
				start = t
			}
		}

		var outcomes []models.ParsedOutcome
		var ids []string
		for _, om := range popularOutcomeRe.FindAllStringSubmatch(item, -1) {
			price, err := normalize.ParseDecimal(om[2])
			if err != nil {
				continue
			}
			o, err := models.NewParsedOutcome(om[3], price, nil, om[1])
			if err != nil {
				continue
			}
			outcomes = append(outcomes, o)
			ids = append(ids, om[1])
		}
		if len(outcomes) == 0 {
			continue
		}

		sort.Strings(ids)
		gameID := "pop_" + strings.Join(ids, "-")
		g, err := models.NewParsedGame(gameID, teams[0], teams[1], start, false)
		if err != nil {
			continue
		}
		g.Markets = []models.ParsedMarket{{
			Key:        normalize.Market1x2,
			Name:       "Full Time Result",
			ExternalID: "1x2_" + gameID,
			Outcomes:   outcomes,
		}}
		league.Games = append(league.Games, g)
	}
	return league, len(league.Games) > 0
}
