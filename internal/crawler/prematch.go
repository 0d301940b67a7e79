package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/Vodeneev/tounesbet/internal/parser/parsers/tounesbet"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/parserutil"
	"github.com/Vodeneev/tounesbet/internal/pkg/persist"
)

const (
	maxOutcomesPerMarket = 16
	deepFetchConcurrency = 4
)

// SnapshotResult summarizes one live or prematch snapshot.
type SnapshotResult struct {
	SportID    string        `json:"sportId"`
	Leagues    int           `json:"leagues"`
	Games      int           `json:"games"`
	DeepGames  int           `json:"deepGames,omitempty"`
	DeepFailed int           `json:"deepFailed,omitempty"`
	Persisted  persist.Stats `json:"persisted"`
}

// Prematch takes a snapshot of the next matches of the selected sport, adds
// the full markets of the first games and the popular matches slider.
func (s *Service) Prematch(ctx context.Context) (res SnapshotResult, err error) {
	started := time.Now()
	defer func() { s.record("prematch", started, err) }()

	sportID := s.sportID
	nav, err := s.fetcher.SportHTML(ctx, sportID, s.betRange)
	if err != nil {
		s.logger.Warn("sport page failed, using next matches only", "error", err)
		nav = ""
	}
	html, err := s.fetcher.NextMatchesHTML(ctx, sportID)
	if err != nil {
		return res, err
	}
	if nav == "" {
		nav = html
	}
	if selected, ok := tounesbet.SelectedSportID(nav); ok {
		sportID = selected
	}
	res.SportID = sportID

	now := s.now()
	sports := tounesbet.ParseNextMatches(html, sportID, now)
	if len(sports) == 0 && !tounesbet.HasMatchMarkers(html) && tounesbet.LooksBlocked(html) {
		return res, models.ErrBlocked
	}

	res.DeepGames, res.DeepFailed = s.attachDeepMarkets(ctx, sports)

	popular, err := s.fetcher.PopularMatchesHTML(ctx, sportID, "all_days", s.betRange)
	if err != nil {
		s.logger.Warn("popular matches failed", "sport_id", sportID, "error", err)
	} else if league, ok := tounesbet.ParsePopularMatches(popular, sportID, now); ok && len(league.Games) > 0 {
		sports = appendLeague(sports, sportID, league)
	}

	for _, sp := range sports {
		res.Leagues += len(sp.Leagues)
	}
	res.Games = len(models.Games(sports))
	if len(sports) == 0 {
		return res, nil
	}
	res.Persisted, err = s.persister.Persist(ctx, sports)
	if err != nil {
		return res, err
	}
	s.logger.Info("prematch snapshot persisted", "sport_id", sportID, "games", res.Games, "deep", res.DeepGames,
		"markets", res.Persisted.Markets, "outcomes", res.Persisted.Outcomes)
	return res, nil
}

// attachDeepMarkets fetches grouped odds for the first DeepMarketsGames games
// in page order and attaches them, capped per game and per market.
func (s *Service) attachDeepMarkets(ctx context.Context, sports []models.ParsedSport) (ok, failed int) {
	type ref struct{ sport, league, game int }
	var refs []ref
	for si := range sports {
		for li := range sports[si].Leagues {
			for gi := range sports[si].Leagues[li].Games {
				if len(refs) < s.queue.DeepMarketsGames {
					refs = append(refs, ref{si, li, gi})
				}
			}
		}
	}
	if len(refs) == 0 {
		return 0, 0
	}

	fetched := make([][]models.ParsedMarket, len(refs))
	idx := make([]int, len(refs))
	for i := range idx {
		idx[i] = i
	}
	errs := parserutil.RunBatch(ctx, idx, deepFetchConcurrency, func(ctx context.Context, i int) error {
		r := refs[i]
		g := sports[r.sport].Leagues[r.league].Games[r.game]
		markets, err := s.fetcher.FetchMatchMarkets(ctx, g.ExternalID)
		if err != nil {
			return err
		}
		fetched[i] = capMarkets(markets, s.queue.DeepMarketsCap, maxOutcomesPerMarket)
		return nil
	})

	for i, r := range refs {
		if errs[i] != nil {
			failed++
			if !errors.Is(errs[i], context.Canceled) {
				s.logger.Debug("deep markets failed", "match_id", sports[r.sport].Leagues[r.league].Games[r.game].ExternalID, "error", errs[i])
			}
			continue
		}
		g := &sports[r.sport].Leagues[r.league].Games[r.game]
		g.Markets = append(g.Markets, fetched[i]...)
		ok++
	}
	return ok, failed
}

func capMarkets(markets []models.ParsedMarket, maxMarkets, maxOutcomes int) []models.ParsedMarket {
	if len(markets) > maxMarkets {
		markets = markets[:maxMarkets]
	}
	out := make([]models.ParsedMarket, 0, len(markets))
	for _, m := range markets {
		if len(m.Outcomes) > maxOutcomes {
			m.Outcomes = m.Outcomes[:maxOutcomes]
		}
		out = append(out, m)
	}
	return out
}

// appendLeague adds league under the sport with sportID, creating it if absent.
func appendLeague(sports []models.ParsedSport, sportID string, league models.ParsedLeague) []models.ParsedSport {
	for i := range sports {
		if sports[i].ExternalID == sportID {
			sports[i].Leagues = append(sports[i].Leagues, league)
			return sports
		}
	}
	key, name := tounesbet.SportKeyName(sportID)
	return append(sports, models.ParsedSport{Key: key, Name: name, ExternalID: sportID, Leagues: []models.ParsedLeague{league}})
}
