package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
	"github.com/Vodeneev/tounesbet/internal/statscore"
)

const (
	defaultSeenWithinMinutes = 180
	maxSeenWithinMinutes     = 7 * 24 * 60
	gamesPageSize            = 5000
)

// OddsQuery are the filters of the odds routes.
type OddsQuery struct {
	SportKey          string
	Live              bool
	IncludeStarted    bool
	IncludeStale      bool
	SeenWithinMinutes int
}

// ParseOddsQuery reads the odds filters from q, clamping seenWithinMinutes.
func ParseOddsQuery(sportKey string, live bool, q url.Values) OddsQuery {
	seen := defaultSeenWithinMinutes
	if raw := q.Get("seenWithinMinutes"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) {
			seen = int(max(0, min(maxSeenWithinMinutes, v)))
		}
	}
	return OddsQuery{
		SportKey:          sportKey,
		Live:              live,
		IncludeStarted:    q.Get("includeStarted") == "1",
		IncludeStale:      q.Get("includeStale") == "1",
		SeenWithinMinutes: seen,
	}
}

type OddsResponse struct {
	Sport   SportView    `json:"sport"`
	Leagues []LeagueView `json:"leagues"`
}

type SportView struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type LeagueView struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Games []GameView `json:"games"`
}

type GameView struct {
	ID         int64                       `json:"id"`
	ExternalID string                      `json:"externalId"`
	HomeTeam   string                      `json:"homeTeam"`
	AwayTeam   string                      `json:"awayTeam"`
	StartTime  time.Time                   `json:"startTime"`
	Live       bool                        `json:"live"`
	Markets    []models.MarketWithOutcomes `json:"markets"`
	LiveMeta   *models.LiveMeta            `json:"liveMeta"`
}

// BuildOdds assembles the odds tree of one sport. Every league of the sport
// is listed; games carry only their canonical 1X2 market.
func BuildOdds(ctx context.Context, r storage.Reader, q OddsQuery, now time.Time) (*OddsResponse, error) {
	sport, err := r.SportByKey(ctx, q.SportKey)
	if err != nil {
		return nil, err
	}
	resp := &OddsResponse{Sport: SportView{Key: sport.Key, Name: sport.Name}, Leagues: []LeagueView{}}

	leagues, err := r.LeaguesBySport(ctx, sport.ID)
	if err != nil {
		return nil, err
	}
	if len(leagues) == 0 {
		return resp, nil
	}

	f := storage.GameFilter{Live: q.Live, Limit: gamesPageSize}
	for _, l := range leagues {
		f.LeagueIDs = append(f.LeagueIDs, l.ID)
	}
	if !q.Live && !q.IncludeStarted {
		n := now.UTC()
		f.StartedAfter = &n
	}
	if !q.Live && !q.IncludeStale && q.SeenWithinMinutes > 0 {
		cutoff := now.UTC().Add(-time.Duration(q.SeenWithinMinutes) * time.Minute)
		f.SeenSince = &cutoff
	}

	var games []models.Game
	for {
		page, err := r.Games(ctx, f)
		if err != nil {
			return nil, err
		}
		games = append(games, page...)
		if len(page) < gamesPageSize {
			break
		}
		f.AfterID = page[len(page)-1].ID
	}

	ids := make([]int64, len(games))
	for i, g := range games {
		ids[i] = g.ID
	}
	byGame := make(map[int64][]models.MarketWithOutcomes)
	if len(ids) > 0 {
		markets, err := r.MarketsForGames(ctx, ids, "1x2")
		if err != nil {
			return nil, err
		}
		for _, m := range markets {
			byGame[m.GameID] = append(byGame[m.GameID], m)
		}
	}

	meta := map[string]models.LiveMeta{}
	if q.Live && len(games) > 0 {
		lsIDs := make([]string, len(games))
		for i, g := range games {
			lsIDs[i] = g.ExternalID
		}
		if meta, err = r.LiveMetaByLsIDs(ctx, statscore.Provider, lsIDs); err != nil {
			return nil, err
		}
	}

	byLeague := make(map[int64][]GameView, len(leagues))
	for _, g := range games {
		v := GameView{
			ID:         g.ID,
			ExternalID: g.ExternalID,
			HomeTeam:   g.HomeTeam,
			AwayTeam:   g.AwayTeam,
			StartTime:  g.StartTime,
			Live:       g.Live,
			Markets:    []models.MarketWithOutcomes{},
		}
		if m, ok := models.CanonicalStored1x2(byGame[g.ID]); ok {
			v.Markets = append(v.Markets, m)
		}
		if lm, ok := meta[g.ExternalID]; ok {
			v.LiveMeta = &lm
		}
		byLeague[g.LeagueID] = append(byLeague[g.LeagueID], v)
	}
	for _, l := range leagues {
		games := byLeague[l.ID]
		if games == nil {
			games = []GameView{}
		}
		resp.Leagues = append(resp.Leagues, LeagueView{ID: l.ID, Name: l.Name, Games: games})
	}
	return resp, nil
}

// HandleOdds serves /api/odds/{prematch|live}/{sportKey}.
func (h *Handlers) HandleOdds(live bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := ParseOddsQuery(mux.Vars(r)["sportKey"], live, r.URL.Query())
		resp, err := BuildOdds(r.Context(), h.store, q, h.now())
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error(), "sportKey", q.SportKey)
			return
		}
		if err != nil {
			h.logger.Error("odds query failed", "sport", q.SportKey, "live", live, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
