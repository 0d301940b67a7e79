package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// Writer is the staged upsert surface of one persist operation. Each Upsert
// is keyed by the table's natural key; the *IDs lookups resolve foreign keys
// for the next stage.
type Writer interface {
	UpsertSports(ctx context.Context, rows []models.Sport) error
	SportIDs(ctx context.Context, externalIDs []string) (map[string]int64, error)

	UpsertLeagues(ctx context.Context, rows []models.League) error
	LeagueIDs(ctx context.Context, externalIDs []string) (map[string]int64, error)

	UpsertGames(ctx context.Context, rows []models.Game) error
	GameIDs(ctx context.Context, externalIDs []string) (map[string]int64, error)

	UpsertMarkets(ctx context.Context, rows []models.Market) error
	MarketIDs(ctx context.Context, externalIDs []string) (map[string]int64, error)

	// UpsertOutcomes is keyed by (market_id, label, handicap); a nil handicap
	// is one distinct value.
	UpsertOutcomes(ctx context.Context, rows []models.Outcome) error
}

// Queue is the durable scrape task table.
type Queue interface {
	// Enqueue inserts tasks pending. Existing rows keep their state; only
	// the priority is raised when the new one is higher.
	Enqueue(ctx context.Context, reqs []models.EnqueueRequest) error

	// Claim atomically leases up to limit runnable tasks of kind to owner,
	// highest priority first. Pending tasks are runnable once their gate has
	// passed; leased tasks are runnable again after the lease TTL. Each claim
	// increments attempts.
	Claim(ctx context.Context, kind models.TaskKind, limit int, owner string) ([]models.ScrapeTask, error)

	// Complete returns tasks to pending, gated until notBefore, and records
	// success. With a non-empty owner only tasks still leased to owner change;
	// a lease reclaimed by another worker is left alone.
	Complete(ctx context.Context, owner string, ids []int64, notBefore time.Time) error

	// Fail returns a task to pending, gated until notBefore, with last_error
	// set. owner is matched as in Complete.
	Fail(ctx context.Context, owner string, id int64, notBefore time.Time, lastErr string) error

	// Release drops the lease of one task without touching its gate.
	Release(ctx context.Context, id int64) error

	// UnstickNeverSucceeded clears the gate of pending tasks that never
	// succeeded and are gated beyond horizon.
	UnstickNeverSucceeded(ctx context.Context, kind models.TaskKind, horizon time.Time) (int64, error)

	// Expedite clears the gate of every pending task of kind gated in the
	// future. With includeLeased, leases are dropped too.
	Expedite(ctx context.Context, kind models.TaskKind, includeLeased bool) (int64, error)

	// SoonestGate returns the earliest future gate among pending tasks of kind.
	SoonestGate(ctx context.Context, kind models.TaskKind) (*time.Time, error)

	CountTasks(ctx context.Context, kind models.TaskKind) (int64, error)
	Peek(ctx context.Context, kind models.TaskKind, limit int) ([]models.ScrapeTask, error)

	// GetTask returns the task addressed by kind and external id, or ErrNotFound.
	GetTask(ctx context.Context, kind models.TaskKind, externalID string) (*models.ScrapeTask, error)
}

// GameFilter selects games for the read API. Zero values do not filter.
type GameFilter struct {
	LeagueIDs    []int64
	Live         bool
	StartedAfter *time.Time
	SeenSince    *time.Time
	AfterID      int64
	Limit        int
}

// Reader serves read-side queries.
type Reader interface {
	SportByKey(ctx context.Context, key string) (*models.Sport, error)
	LeaguesBySport(ctx context.Context, sportID int64) ([]models.League, error)
	// Games returns games ordered by id.
	Games(ctx context.Context, f GameFilter) ([]models.Game, error)
	GameByExternalID(ctx context.Context, externalID string) (*models.Game, error)
	// MarketsForGames returns markets with outcomes; an empty key means all markets.
	MarketsForGames(ctx context.Context, gameIDs []int64, key string) ([]models.MarketWithOutcomes, error)
	// LiveMetaByLsIDs returns live meta of provider keyed by provider_ls_id.
	LiveMetaByLsIDs(ctx context.Context, provider string, lsIDs []string) (map[string]models.LiveMeta, error)
}

// Stats are row counts for the admin stats route.
type Stats struct {
	Sports   int64                       `json:"sports"`
	Leagues  int64                       `json:"leagues"`
	Games    int64                       `json:"games"`
	Markets  int64                       `json:"markets"`
	Outcomes int64                       `json:"outcomes"`
	LiveMeta int64                       `json:"live_meta"`
	Queue    map[string]map[string]int64 `json:"queue"` // task -> status -> count
}

// Store is everything the scraper persists.
type Store interface {
	Queue
	Reader

	// InTx runs fn against a Writer whose writes commit together or not at all.
	InTx(ctx context.Context, fn func(Writer) error) error

	UpsertLiveMeta(ctx context.Context, rows []models.LiveMeta) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Open returns the store selected by cfg.Storage.Driver.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "", "postgres":
		return NewPostgresStore(&cfg.Postgres, cfg.Queue.LeaseTTL)
	case "memory":
		return NewMemoryStore(cfg.Queue.LeaseTTL), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// outcomeKey identifies an outcome row within a market.
func outcomeKey(marketID int64, label string, handicap *float64) string {
	h := "null"
	if handicap != nil {
		h = strconv.FormatFloat(*handicap, 'g', -1, 64)
	}
	return strconv.FormatInt(marketID, 10) + "|" + label + "|" + h
}

// lastByKey keeps the last row per key, in first-seen key order. A single
// upsert statement must not touch the same row twice.
func lastByKey[T any](rows []T, key func(T) string) []T {
	idx := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

// mergeEnqueue drops nil payloads and collapses duplicates, keeping the
// highest priority.
func mergeEnqueue(reqs []models.EnqueueRequest) []models.EnqueueRequest {
	idx := make(map[string]int, len(reqs))
	out := make([]models.EnqueueRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Payload == nil {
			continue
		}
		k := string(r.Payload.Kind()) + "|" + r.Payload.ExternalID()
		if i, ok := idx[k]; ok {
			out[i].Priority = max(out[i].Priority, r.Priority)
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
