// Package persist merges parsed trees into the store, resolving each stage's
// foreign keys through external-id lookups of the previous stage.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/interfaces"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
	"github.com/Vodeneev/tounesbet/internal/pkg/validation"
)

// Stats counts rows written by one persist call.
type Stats struct {
	Sports   int `json:"sports"`
	Leagues  int `json:"leagues"`
	Games    int `json:"games"`
	Markets  int `json:"markets"`
	Outcomes int `json:"outcomes"`
	Dropped  int `json:"dropped"`
}

func (s *Stats) add(o Stats) {
	s.Sports += o.Sports
	s.Leagues += o.Leagues
	s.Games += o.Games
	s.Markets += o.Markets
	s.Outcomes += o.Outcomes
	s.Dropped += o.Dropped
}

// Persister writes parsed data. All writes of one call commit together.
type Persister struct {
	store     storage.Store
	sanitizer interfaces.DataSanitizer
	validator interfaces.Validator
	now       func() time.Time
	logger    *slog.Logger
}

func New(store storage.Store, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:     store,
		sanitizer: validation.NewSanitizer(),
		validator: validation.NewValidator(),
		now:       time.Now,
		logger:    logger.With("component", "persist"),
	}
}

// Persist upserts sports, leagues, games, markets and outcomes in that order.
func (p *Persister) Persist(ctx context.Context, sports []models.ParsedSport) (Stats, error) {
	var st Stats
	var clean []models.ParsedSport
	for _, s := range sports {
		s = cloneSport(s)
		p.sanitizer.SanitizeSport(&s)
		st.Dropped += p.validator.ValidateSport(&s)
		if s.ExternalID == "" {
			st.Dropped++
			continue
		}
		clean = append(clean, s)
	}
	if len(clean) == 0 {
		return st, nil
	}

	seen := p.now().UTC()
	err := p.store.InTx(ctx, func(w storage.Writer) error {
		var sportRows []models.Sport
		for _, s := range clean {
			sportRows = append(sportRows, models.Sport{ExternalID: s.ExternalID, Key: s.Key, Name: s.Name})
		}
		if err := w.UpsertSports(ctx, sportRows); err != nil {
			return err
		}
		sportIDs, err := w.SportIDs(ctx, externalIDs(sportRows, func(r models.Sport) string { return r.ExternalID }))
		if err != nil {
			return err
		}
		st.Sports = len(sportRows)

		var leagueRows []models.League
		var games []models.ParsedGame
		gameLeague := make(map[string]string)
		for _, s := range clean {
			for _, l := range s.Leagues {
				if l.ExternalID == "" {
					st.Dropped += 1 + len(l.Games)
					continue
				}
				leagueRows = append(leagueRows, models.League{ExternalID: l.ExternalID, SportID: sportIDs[s.ExternalID], Name: l.Name})
				for _, g := range l.Games {
					gameLeague[g.ExternalID] = l.ExternalID
					games = append(games, g)
				}
			}
		}
		if err := w.UpsertLeagues(ctx, leagueRows); err != nil {
			return err
		}
		leagueIDs, err := w.LeagueIDs(ctx, externalIDs(leagueRows, func(r models.League) string { return r.ExternalID }))
		if err != nil {
			return err
		}
		st.Leagues = len(leagueRows)

		gameRows := make([]models.Game, 0, len(games))
		for _, g := range games {
			gameRows = append(gameRows, models.Game{
				ExternalID: g.ExternalID,
				LeagueID:   leagueIDs[gameLeague[g.ExternalID]],
				HomeTeam:   g.HomeTeam,
				AwayTeam:   g.AwayTeam,
				StartTime:  g.StartTime,
				LastSeenAt: seen,
				Live:       g.Live,
			})
		}
		if err := w.UpsertGames(ctx, gameRows); err != nil {
			return err
		}
		gameIDs, err := w.GameIDs(ctx, externalIDs(gameRows, func(r models.Game) string { return r.ExternalID }))
		if err != nil {
			return err
		}
		st.Games = len(gameRows)

		byGame := make(map[int64][]models.ParsedMarket)
		for _, g := range games {
			if id := gameIDs[g.ExternalID]; id != 0 {
				byGame[id] = append(byGame[id], g.Markets...)
			}
		}
		ms, err := writeMarkets(ctx, w, byGame)
		st.Markets, st.Outcomes = ms.Markets, ms.Outcomes
		return err
	})
	if err != nil {
		return st, fmt.Errorf("failed to persist: %w", err)
	}
	p.logger.Debug("persisted", "sports", st.Sports, "leagues", st.Leagues, "games", st.Games,
		"markets", st.Markets, "outcomes", st.Outcomes, "dropped", st.Dropped)
	return st, nil
}

// PersistMarketsForMatch upserts markets of one known game. A game that was
// never discovered yields models.ErrNotFound.
func (p *Persister) PersistMarketsForMatch(ctx context.Context, matchID string, markets []models.ParsedMarket) (Stats, error) {
	game, err := p.store.GameByExternalID(ctx, matchID)
	if err != nil {
		return Stats{}, err
	}
	return p.persistMarkets(ctx, map[int64][]models.ParsedMarket{game.ID: markets})
}

// PersistMarketsForMatches upserts markets of many games in one transaction.
// Match ids without a game row are returned as missing and skipped.
func (p *Persister) PersistMarketsForMatches(ctx context.Context, byMatch map[string][]models.ParsedMarket) (Stats, []string, error) {
	byGame := make(map[int64][]models.ParsedMarket, len(byMatch))
	var missing []string
	for matchID, markets := range byMatch {
		game, err := p.store.GameByExternalID(ctx, matchID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				missing = append(missing, matchID)
				continue
			}
			return Stats{}, nil, err
		}
		byGame[game.ID] = append(byGame[game.ID], markets...)
	}
	st, err := p.persistMarkets(ctx, byGame)
	return st, missing, err
}

func (p *Persister) persistMarkets(ctx context.Context, byGame map[int64][]models.ParsedMarket) (Stats, error) {
	var st Stats
	for id, markets := range byGame {
		markets = cloneMarkets(markets)
		for i := range markets {
			p.sanitizer.SanitizeMarket(&markets[i])
		}
		kept, dropped := p.validator.ValidateMarkets(markets)
		st.Dropped += dropped
		byGame[id] = kept
	}

	var written Stats
	err := p.store.InTx(ctx, func(w storage.Writer) error {
		var err error
		written, err = writeMarkets(ctx, w, byGame)
		return err
	})
	if err != nil {
		return st, fmt.Errorf("failed to persist markets: %w", err)
	}
	st.add(written)
	return st, nil
}

// writeMarkets upserts markets then outcomes for already resolved game ids.
func writeMarkets(ctx context.Context, w storage.Writer, byGame map[int64][]models.ParsedMarket) (Stats, error) {
	var st Stats
	var marketRows []models.Market
	var parsed []models.ParsedMarket
	for gameID, markets := range byGame {
		for _, m := range markets {
			marketRows = append(marketRows, models.Market{ExternalID: m.ExternalID, GameID: gameID, Key: m.Key, Name: m.Name})
			parsed = append(parsed, m)
		}
	}
	if len(marketRows) == 0 {
		return st, nil
	}
	if err := w.UpsertMarkets(ctx, marketRows); err != nil {
		return st, err
	}
	marketIDs, err := w.MarketIDs(ctx, externalIDs(marketRows, func(r models.Market) string { return r.ExternalID }))
	if err != nil {
		return st, err
	}
	st.Markets = len(marketRows)

	var outcomeRows []models.Outcome
	for _, m := range parsed {
		mid := marketIDs[m.ExternalID]
		if mid == 0 {
			continue
		}
		for _, o := range m.Outcomes {
			outcomeRows = append(outcomeRows, models.Outcome{
				ExternalID: o.ExternalID,
				MarketID:   mid,
				Label:      o.Label,
				Price:      o.Price,
				Handicap:   o.Handicap,
			})
		}
	}
	if err := w.UpsertOutcomes(ctx, outcomeRows); err != nil {
		return st, err
	}
	st.Outcomes = len(outcomeRows)
	return st, nil
}

func externalIDs[T any](rows []T, id func(T) string) []string {
	out := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if ext := id(r); !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}
