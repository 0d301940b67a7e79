package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

func (s *PostgresStore) SportByKey(ctx context.Context, key string) (*models.Sport, error) {
	var sp models.Sport
	err := s.db.QueryRowContext(ctx, `
	SELECT id, source, external_id, key, name FROM sports
	WHERE source = $1 AND key = $2
	ORDER BY id LIMIT 1`, s.source, key).Scan(&sp.ID, &sp.Source, &sp.ExternalID, &sp.Key, &sp.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundError("sport")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sport %q: %w", key, err)
	}
	return &sp, nil
}

func (s *PostgresStore) LeaguesBySport(ctx context.Context, sportID int64) ([]models.League, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, source, external_id, COALESCE(sport_id, 0), name FROM leagues
	WHERE source = $1 AND sport_id = $2
	ORDER BY id`, s.source, sportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leagues: %w", err)
	}
	defer rows.Close()

	var out []models.League
	for rows.Next() {
		var l models.League
		if err := rows.Scan(&l.ID, &l.Source, &l.ExternalID, &l.SportID, &l.Name); err != nil {
			return nil, fmt.Errorf("failed to scan league: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const gameColumns = `id, source, external_id, COALESCE(league_id, 0), home_team, away_team, start_time, last_seen_at, live`

func scanGame(r rowScanner) (models.Game, error) {
	var g models.Game
	err := r.Scan(&g.ID, &g.Source, &g.ExternalID, &g.LeagueID, &g.HomeTeam, &g.AwayTeam,
		&g.StartTime, &g.LastSeenAt, &g.Live)
	g.StartTime = g.StartTime.UTC()
	g.LastSeenAt = g.LastSeenAt.UTC()
	return g, err
}

// Games builds its WHERE clause from the non-zero fields of f.
func (s *PostgresStore) Games(ctx context.Context, f GameFilter) ([]models.Game, error) {
	where := []string{"source = $1", "live = $2"}
	args := []any{s.source, f.Live}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(f.LeagueIDs) > 0 {
		add("league_id = ANY($%d)", pq.Array(f.LeagueIDs))
	}
	if f.StartedAfter != nil {
		add("start_time >= $%d", f.StartedAfter.UTC())
	}
	if f.SeenSince != nil {
		add("last_seen_at >= $%d", f.SeenSince.UTC())
	}
	if f.AfterID > 0 {
		add("id > $%d", f.AfterID)
	}
	query := `SELECT ` + gameColumns + ` FROM games WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var out []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GameByExternalID(ctx context.Context, externalID string) (*models.Game, error) {
	g, err := scanGame(s.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE source = $1 AND external_id = $2`, s.source, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundError("game")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game %s: %w", externalID, err)
	}
	return &g, nil
}

// MarketsForGames loads markets, then their outcomes in a second query.
func (s *PostgresStore) MarketsForGames(ctx context.Context, gameIDs []int64, key string) ([]models.MarketWithOutcomes, error) {
	if len(gameIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, source, external_id, COALESCE(game_id, 0), key, name FROM markets
	WHERE source = $1 AND game_id = ANY($2)`
	args := []any{s.source, pq.Array(gameIDs)}
	if key != "" {
		query += ` AND key = $3`
		args = append(args, key)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	var markets []models.MarketWithOutcomes
	index := make(map[int64]int)
	var ids []int64
	for rows.Next() {
		var m models.MarketWithOutcomes
		if err := rows.Scan(&m.ID, &m.Source, &m.ExternalID, &m.GameID, &m.Key, &m.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		index[m.ID] = len(markets)
		ids = append(ids, m.ID)
		markets = append(markets, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	if len(ids) == 0 {
		return markets, nil
	}

	orows, err := s.db.QueryContext(ctx, `
	SELECT id, source, external_id, market_id, label, price, handicap FROM outcomes
	WHERE market_id = ANY($1)
	ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		var o models.Outcome
		var h sql.NullFloat64
		if err := orows.Scan(&o.ID, &o.Source, &o.ExternalID, &o.MarketID, &o.Label, &o.Price, &h); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if h.Valid {
			o.Handicap = models.Handicap(h.Float64)
		}
		i := index[o.MarketID]
		markets[i].Outcomes = append(markets[i].Outcomes, o)
	}
	return markets, orows.Err()
}

func (s *PostgresStore) LiveMetaByLsIDs(ctx context.Context, provider string, lsIDs []string) (map[string]models.LiveMeta, error) {
	out := make(map[string]models.LiveMeta, len(lsIDs))
	if len(lsIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT provider_key, provider, COALESCE(provider_ls_id, ''), COALESCE(provider_event_id, ''),
		COALESCE(status_name, ''), clock_time, start_time, COALESCE(home_team, ''), COALESCE(away_team, ''),
		home_score, away_score, COALESCE(competition_name, '')
	FROM live_meta
	WHERE provider = $1 AND provider_ls_id = ANY($2)`, provider, pq.Array(lsIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load live meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.LiveMeta
		var clock, home, away sql.NullInt64
		var start pq.NullTime
		if err := rows.Scan(&m.ProviderKey, &m.Provider, &m.ProviderLsID, &m.ProviderEventID,
			&m.StatusName, &clock, &start, &m.HomeTeam, &m.AwayTeam, &home, &away, &m.CompetitionName); err != nil {
			return nil, fmt.Errorf("failed to scan live meta: %w", err)
		}
		m.ClockTime = intPtr(clock)
		m.HomeScore = intPtr(home)
		m.AwayScore = intPtr(away)
		m.StartTime = timePtr(start)
		out[m.ProviderLsID] = m
	}
	return out, rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
