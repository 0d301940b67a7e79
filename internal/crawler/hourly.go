package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/parserutil"
)

const maxHourlyBatch = 15

// HourlyResult summarizes one 1X2 refresh invocation.
type HourlyResult struct {
	Claimed   int      `json:"claimed"`
	Updated   int      `json:"updated"`
	Failed    int      `json:"failed"`
	Processed []string `json:"processed"`
	Errors    []string `json:"errors,omitempty"`
}

// Hourly refreshes the canonical 1X2 of up to batch due matches. Every task
// is persisted on its own so one bad match never rolls back the others.
func (s *Service) Hourly(ctx context.Context, batch int) (res HourlyResult, err error) {
	started := time.Now()
	defer func() { s.record("hourly", started, err) }()

	if batch <= 0 {
		batch = s.queue.HourlyBatch
	}
	batch = max(1, min(maxHourlyBatch, batch))
	kind := models.Task1x2

	owner := newOwner()
	tasks, err := s.store.Claim(ctx, kind, batch, owner)
	if err != nil {
		return res, err
	}
	res.Claimed = len(tasks)
	if len(tasks) == 0 {
		return res, nil
	}

	errs := parserutil.RunBatch(ctx, tasks, batch, s.refresh1x2)

	done := make(map[time.Time][]int64)
	var failed []taskFailure
	gate := s.now().Add(s.queue.OddsRefresh)
	for i, t := range tasks {
		res.Processed = append(res.Processed, t.ExternalID)
		if errs[i] != nil {
			failed = append(failed, taskFailure{task: t, err: errs[i]})
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.ExternalID, errs[i]))
			continue
		}
		done[gate] = append(done[gate], t.ID)
	}
	s.settle(ctx, kind, owner, done, failed)

	res.Failed = len(failed)
	res.Updated = len(tasks) - len(failed)
	s.tracker.RecordTasks(string(kind), len(tasks), res.Updated, res.Failed)
	s.logger.Info("hourly 1x2 refresh finished", "claimed", res.Claimed, "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

func (s *Service) refresh1x2(ctx context.Context, t models.ScrapeTask) error {
	markets, err := s.fetcher.FetchMatchMarkets(ctx, t.ExternalID)
	if err != nil {
		return err
	}
	m, ok := models.CanonicalParsed1x2(markets)
	if !ok {
		// Nothing to store yet; the task comes back after the refresh gate.
		s.logger.Debug("no 1x2 market on match page", "match_id", t.ExternalID)
		return nil
	}
	_, err = s.persister.PersistMarketsForMatch(ctx, t.ExternalID, []models.ParsedMarket{m})
	return err
}
