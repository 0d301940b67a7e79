package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// upsertChunk bounds rows per statement well below the bind parameter limit.
const upsertChunk = 500

// Column types of each VALUES list, in parameter order.
var (
	sportTypes   = []string{"text", "text", "text", "text"}
	leagueTypes  = []string{"text", "text", "bigint", "text"}
	gameTypes    = []string{"text", "text", "bigint", "text", "text", "timestamptz", "timestamptz", "boolean"}
	marketTypes  = []string{"text", "text", "bigint", "text", "text"}
	outcomeTypes = []string{"text", "text", "bigint", "text", "double precision", "double precision"}
)

type pgWriter struct {
	q      querier
	source string
}

// valuesList renders "($1::text, $2::bigint), ($3::text, $4::bigint)" for
// rows with one parameter per column type.
func valuesList(rows int, types []string) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c, typ := range types {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d::%s", n, typ)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// execChunked runs one multi-row statement per chunk of rows.
func execChunked[T any](ctx context.Context, q querier, op string, rows []T, types []string, stmt func(values string) string, args func(T) []any) error {
	for start := 0; start < len(rows); start += upsertChunk {
		end := min(start+upsertChunk, len(rows))
		chunk := rows[start:end]
		params := make([]any, 0, len(chunk)*len(types))
		for _, r := range chunk {
			params = append(params, args(r)...)
		}
		if _, err := q.ExecContext(ctx, stmt(valuesList(len(chunk), types)), params...); err != nil {
			return &models.PersistError{Op: op, Err: err}
		}
	}
	return nil
}

func (w *pgWriter) idMap(ctx context.Context, op, table string, externalIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	rows, err := w.q.QueryContext(ctx,
		`SELECT id, external_id FROM `+table+` WHERE source = $1 AND external_id = ANY($2)`,
		w.source, pq.Array(externalIDs))
	if err != nil {
		return nil, &models.PersistError{Op: op, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var ext string
		if err := rows.Scan(&id, &ext); err != nil {
			return nil, &models.PersistError{Op: op, Err: err}
		}
		out[ext] = id
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistError{Op: op, Err: err}
	}
	return out, nil
}

func (w *pgWriter) UpsertSports(ctx context.Context, rows []models.Sport) error {
	rows = lastByKey(rows, func(s models.Sport) string { return s.ExternalID })
	return execChunked(ctx, w.q, "upsertSports", rows, sportTypes,
		func(values string) string {
			return `INSERT INTO sports (source, external_id, key, name) VALUES ` + values + `
			ON CONFLICT (source, external_id) DO UPDATE SET key = EXCLUDED.key, name = EXCLUDED.name`
		},
		func(s models.Sport) []any { return []any{w.source, s.ExternalID, s.Key, s.Name} })
}

func (w *pgWriter) SportIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return w.idMap(ctx, "getSportsIdMap", "sports", externalIDs)
}

func (w *pgWriter) UpsertLeagues(ctx context.Context, rows []models.League) error {
	rows = lastByKey(rows, func(l models.League) string { return l.ExternalID })
	return execChunked(ctx, w.q, "upsertLeagues", rows, leagueTypes,
		func(values string) string {
			return `INSERT INTO leagues (source, external_id, sport_id, name)
			SELECT v.source, v.external_id, NULLIF(v.sport_id, 0), v.name
			FROM (VALUES ` + values + `) AS v(source, external_id, sport_id, name)
			WHERE true
			ON CONFLICT (source, external_id) DO UPDATE SET
				sport_id = COALESCE(EXCLUDED.sport_id, leagues.sport_id),
				name = EXCLUDED.name`
		},
		func(l models.League) []any { return []any{w.source, l.ExternalID, l.SportID, l.Name} })
}

func (w *pgWriter) LeagueIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return w.idMap(ctx, "getLeaguesIdMap", "leagues", externalIDs)
}

func (w *pgWriter) UpsertGames(ctx context.Context, rows []models.Game) error {
	rows = lastByKey(rows, func(g models.Game) string { return g.ExternalID })
	return execChunked(ctx, w.q, "upsertGames", rows, gameTypes,
		func(values string) string {
			return `INSERT INTO games (source, external_id, league_id, home_team, away_team, start_time, last_seen_at, live)
			SELECT v.source, v.external_id, NULLIF(v.league_id, 0), v.home_team, v.away_team,
				v.start_time, v.last_seen_at, v.live
			FROM (VALUES ` + values + `) AS v(source, external_id, league_id, home_team, away_team, start_time, last_seen_at, live)
			WHERE true
			ON CONFLICT (source, external_id) DO UPDATE SET
				league_id = COALESCE(EXCLUDED.league_id, games.league_id),
				home_team = EXCLUDED.home_team,
				away_team = EXCLUDED.away_team,
				start_time = EXCLUDED.start_time,
				last_seen_at = EXCLUDED.last_seen_at,
				live = EXCLUDED.live`
		},
		func(g models.Game) []any {
			seen := g.LastSeenAt
			if seen.IsZero() {
				seen = time.Now()
			}
			return []any{w.source, g.ExternalID, g.LeagueID, g.HomeTeam, g.AwayTeam,
				g.StartTime.UTC(), seen.UTC(), g.Live}
		})
}

func (w *pgWriter) GameIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return w.idMap(ctx, "getGamesIdMap", "games", externalIDs)
}

func (w *pgWriter) UpsertMarkets(ctx context.Context, rows []models.Market) error {
	rows = lastByKey(rows, func(m models.Market) string { return m.ExternalID })
	return execChunked(ctx, w.q, "upsertMarkets", rows, marketTypes,
		func(values string) string {
			return `INSERT INTO markets (source, external_id, game_id, key, name)
			SELECT v.source, v.external_id, NULLIF(v.game_id, 0), v.key, v.name
			FROM (VALUES ` + values + `) AS v(source, external_id, game_id, key, name)
			WHERE true
			ON CONFLICT (source, external_id) DO UPDATE SET
				game_id = COALESCE(EXCLUDED.game_id, markets.game_id),
				key = EXCLUDED.key,
				name = EXCLUDED.name`
		},
		func(m models.Market) []any { return []any{w.source, m.ExternalID, m.GameID, m.Key, m.Name} })
}

func (w *pgWriter) MarketIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return w.idMap(ctx, "getMarketsIdMap", "markets", externalIDs)
}

func (w *pgWriter) UpsertOutcomes(ctx context.Context, rows []models.Outcome) error {
	rows = lastByKey(rows, func(o models.Outcome) string { return outcomeKey(o.MarketID, o.Label, o.Handicap) })
	return execChunked(ctx, w.q, "upsertOutcomes", rows, outcomeTypes,
		func(values string) string {
			return `INSERT INTO outcomes (source, external_id, market_id, label, price, handicap)
			SELECT v.source, v.external_id, v.market_id, v.label, v.price, v.handicap
			FROM (VALUES ` + values + `) AS v(source, external_id, market_id, label, price, handicap)
			WHERE true
			ON CONFLICT (market_id, label, (COALESCE(handicap, 'NaN'::double precision))) DO UPDATE SET
				external_id = EXCLUDED.external_id,
				price = EXCLUDED.price`
		},
		func(o models.Outcome) []any {
			return []any{w.source, o.ExternalID, o.MarketID, o.Label, o.Price, nullFloat(o.Handicap)}
		})
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)
