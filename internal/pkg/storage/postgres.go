package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// Ensure PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)

// querier is the part of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps scraped entities and the scrape queue in PostgreSQL.
type PostgresStore struct {
	db       *sql.DB
	source   string
	leaseTTL time.Duration
}

// NewPostgresStore connects, pings and creates the schema if needed.
func NewPostgresStore(cfg *config.PostgresConfig, leaseTTL time.Duration) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, source: models.Source, leaseTTL: leaseTTL}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("PostgreSQL store initialized successfully")
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sports (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(64) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		key VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		UNIQUE(source, external_id)
	);

	CREATE TABLE IF NOT EXISTS leagues (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(64) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		sport_id BIGINT REFERENCES sports(id),
		name VARCHAR(500) NOT NULL,
		UNIQUE(source, external_id)
	);

	CREATE TABLE IF NOT EXISTS games (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(64) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		league_id BIGINT REFERENCES leagues(id),
		home_team VARCHAR(255) NOT NULL,
		away_team VARCHAR(255) NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		live BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(source, external_id)
	);

	CREATE TABLE IF NOT EXISTS markets (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(64) NOT NULL,
		external_id VARCHAR(500) NOT NULL,
		game_id BIGINT REFERENCES games(id),
		key VARCHAR(255) NOT NULL,
		name VARCHAR(500) NOT NULL,
		UNIQUE(source, external_id)
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(64) NOT NULL,
		external_id VARCHAR(500) NOT NULL,
		market_id BIGINT NOT NULL REFERENCES markets(id),
		label VARCHAR(255) NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		handicap DOUBLE PRECISION
	);

	CREATE TABLE IF NOT EXISTS live_meta (
		provider_key VARCHAR(255) PRIMARY KEY,
		provider VARCHAR(64) NOT NULL,
		provider_ls_id VARCHAR(255),
		provider_event_id VARCHAR(255),
		status_name VARCHAR(255),
		clock_time INTEGER,
		start_time TIMESTAMPTZ,
		home_team VARCHAR(255),
		away_team VARCHAR(255),
		home_score INTEGER,
		away_score INTEGER,
		competition_name VARCHAR(500)
	);

	CREATE TABLE IF NOT EXISTS scrape_queue (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(64) NOT NULL,
		task VARCHAR(64) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 0,
		not_before_at TIMESTAMPTZ,
		locked_at TIMESTAMPTZ,
		lock_owner VARCHAR(255),
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_success_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(source, task, external_id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_outcomes_market_label_handicap
		ON outcomes(market_id, label, (COALESCE(handicap, 'NaN'::double precision)));
	CREATE INDEX IF NOT EXISTS idx_leagues_sport ON leagues(sport_id);
	CREATE INDEX IF NOT EXISTS idx_games_league_live ON games(league_id, live);
	CREATE INDEX IF NOT EXISTS idx_games_last_seen ON games(last_seen_at);
	CREATE INDEX IF NOT EXISTS idx_markets_game ON markets(game_id);
	CREATE INDEX IF NOT EXISTS idx_live_meta_ls ON live_meta(provider, provider_ls_id);
	CREATE INDEX IF NOT EXISTS idx_scrape_queue_claim ON scrape_queue(source, task, status, priority DESC, created_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// InTx runs fn inside one transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&pgWriter{q: tx, source: s.source}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertLiveMeta upserts rows keyed by provider_key.
func (s *PostgresStore) UpsertLiveMeta(ctx context.Context, rows []models.LiveMeta) error {
	rows = lastByKey(rows, func(m models.LiveMeta) string { return m.ProviderKey })
	for _, m := range rows {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO live_meta (
			provider_key, provider, provider_ls_id, provider_event_id, status_name,
			clock_time, start_time, home_team, away_team, home_score, away_score, competition_name
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), $10, $11, NULLIF($12, ''))
		ON CONFLICT (provider_key) DO UPDATE SET
			provider = EXCLUDED.provider,
			provider_ls_id = EXCLUDED.provider_ls_id,
			provider_event_id = EXCLUDED.provider_event_id,
			status_name = EXCLUDED.status_name,
			clock_time = EXCLUDED.clock_time,
			start_time = EXCLUDED.start_time,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			home_score = EXCLUDED.home_score,
			away_score = EXCLUDED.away_score,
			competition_name = EXCLUDED.competition_name
		`,
			m.ProviderKey, m.Provider, m.ProviderLsID, m.ProviderEventID, m.StatusName,
			nullInt(m.ClockTime), nullTime(m.StartTime), m.HomeTeam, m.AwayTeam,
			nullInt(m.HomeScore), nullInt(m.AwayScore), m.CompetitionName,
		)
		if err != nil {
			return &models.PersistError{Op: "upsertLiveMeta", Err: err}
		}
	}
	return nil
}

// Stats counts rows per table and queue rows per task and status.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Queue: make(map[string]map[string]int64)}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"sports", &st.Sports},
		{"leagues", &st.Leagues},
		{"games", &st.Games},
		{"markets", &st.Markets},
		{"outcomes", &st.Outcomes},
		{"live_meta", &st.LiveMeta},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task, status, COUNT(*) FROM scrape_queue WHERE source = $1 GROUP BY task, status`, s.source)
	if err != nil {
		return nil, fmt.Errorf("failed to count scrape_queue: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var task, status string
		var n int64
		if err := rows.Scan(&task, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan scrape_queue count: %w", err)
		}
		if st.Queue[task] == nil {
			st.Queue[task] = make(map[string]int64)
		}
		st.Queue[task][status] = n
	}
	return st, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) pq.NullTime {
	if v == nil {
		return pq.NullTime{}
	}
	return pq.NullTime{Time: v.UTC(), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
