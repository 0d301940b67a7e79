package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
)

const fullMarketsPriority = 100

// FullMarkets is the complete market set of one match.
type FullMarkets struct {
	MatchID   string                      `json:"matchId"`
	Game      models.Game                 `json:"game"`
	Markets   []models.MarketWithOutcomes `json:"markets"`
	FetchedAt *time.Time                  `json:"fetchedAt,omitempty"`
	Cached    bool                        `json:"cached"`
	// Stale is set when a refresh failed and stored markets were served instead.
	Stale bool   `json:"stale,omitempty"`
	Error string `json:"error,omitempty"`
}

// FullMarkets serves every market of one match. Data younger than the
// full-markets TTL is served from the cache or storage unless fresh is set.
// A match that was never discovered yields models.ErrNotFound.
func (s *Service) FullMarkets(ctx context.Context, matchID string, fresh bool) (out *FullMarkets, err error) {
	started := time.Now()
	defer func() { s.record("full_markets", started, err) }()

	game, err := s.store.GameByExternalID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if !fresh {
		if out, ok := s.cachedMarkets(ctx, game); ok {
			return out, nil
		}
		task, err := s.store.GetTask(ctx, models.TaskFullMarkets, matchID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if task != nil && task.LastSuccessAt != nil && s.now().Sub(*task.LastSuccessAt) < s.queue.FullMarketsTTL {
			out, err := s.storedMarkets(ctx, game, task.LastSuccessAt)
			if err != nil {
				return nil, err
			}
			out.Cached = true
			s.cacheMarkets(ctx, out)
			return out, nil
		}
	}

	return s.refreshFullMarkets(ctx, game)
}

func (s *Service) refreshFullMarkets(ctx context.Context, game *models.Game) (*FullMarkets, error) {
	matchID := game.ExternalID
	marker := models.EnqueueRequest{
		Payload:  models.MatchPayload{TaskKind: models.TaskFullMarkets, MatchID: matchID},
		Priority: fullMarketsPriority,
	}
	if err := s.store.Enqueue(ctx, []models.EnqueueRequest{marker}); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, models.TaskFullMarkets, matchID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, matchID); err != nil {
			s.logger.Warn("failed to drop cached markets", "match_id", matchID, "error", err)
		}
	}

	markets, err := s.fetcher.FetchMatchMarkets(ctx, matchID)
	if err == nil {
		_, err = s.persister.PersistMarketsForMatch(ctx, matchID, markets)
	}
	now := s.now()
	if err != nil {
		if ferr := s.store.Fail(ctx, "", task.ID, now.Add(backoff(task.Attempts)), err.Error()); ferr != nil {
			s.logger.Error("failed to record full markets failure", "match_id", matchID, "error", ferr)
		}
		s.logger.Warn("full markets refresh failed, serving stored data", "match_id", matchID, "error", err)
		out, serr := s.storedMarkets(ctx, game, task.LastSuccessAt)
		if serr != nil {
			return nil, err
		}
		out.Stale = true
		out.Error = err.Error()
		return out, nil
	}

	if err := s.store.Complete(ctx, "", []int64{task.ID}, now.Add(s.queue.FullMarketsTTL)); err != nil {
		s.logger.Error("failed to complete full markets marker", "match_id", matchID, "error", err)
	}
	out, err := s.storedMarkets(ctx, game, &now)
	if err != nil {
		return nil, err
	}
	s.cacheMarkets(ctx, out)
	return out, nil
}

func (s *Service) storedMarkets(ctx context.Context, game *models.Game, fetchedAt *time.Time) (*FullMarkets, error) {
	markets, err := s.store.MarketsForGames(ctx, []int64{game.ID}, "")
	if err != nil {
		return nil, err
	}
	if markets == nil {
		markets = []models.MarketWithOutcomes{}
	}
	return &FullMarkets{MatchID: game.ExternalID, Game: *game, Markets: markets, FetchedAt: fetchedAt}, nil
}

func (s *Service) cachedMarkets(ctx context.Context, game *models.Game) (*FullMarkets, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok, err := s.cache.Get(ctx, game.ExternalID)
	if err != nil {
		s.logger.Warn("markets cache read failed", "match_id", game.ExternalID, "error", err)
		return nil, false
	}
	if !ok || s.now().Sub(v.FetchedAt) >= s.queue.FullMarketsTTL {
		return nil, false
	}
	fetchedAt := v.FetchedAt
	return &FullMarkets{MatchID: game.ExternalID, Game: *game, Markets: v.Markets, FetchedAt: &fetchedAt, Cached: true}, true
}

func (s *Service) cacheMarkets(ctx context.Context, out *FullMarkets) {
	if s.cache == nil || out.FetchedAt == nil {
		return
	}
	v := &storage.CachedMarkets{MatchID: out.MatchID, FetchedAt: *out.FetchedAt, Markets: out.Markets}
	if err := s.cache.Set(ctx, v); err != nil {
		s.logger.Warn("markets cache write failed", "match_id", out.MatchID, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
