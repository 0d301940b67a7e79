package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Vodeneev/tounesbet/internal/parser/parsers/tounesbet"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/parserutil"
)

const (
	seedPriority     = 50
	nextPagePriority = 20

	// EmptyStreakLimit is the number of consecutive empty pages after which a
	// catalog branch stops paginating.
	EmptyStreakLimit = 8
	// MaxCatalogPage caps page numbers regardless of streak.
	MaxCatalogPage = 250

	productiveFanOut = 3
	emptyFanOut      = 1

	maxDiscoveryBatch = 5
)

// DiscoveryResult summarizes one discovery invocation.
type DiscoveryResult struct {
	Claimed    int      `json:"claimed"`
	Pages      int      `json:"pages"`
	Games      int      `json:"games"`
	Enqueued   int      `json:"enqueued_1x2"`
	NextPages  int      `json:"next_pages_enqueued"`
	Failed     int      `json:"failed"`
	Seeded     bool     `json:"seeded"`
	Unstuck    int64    `json:"unstuck"`
	Expedited  int64    `json:"expedited"`
	Processed  []string `json:"processed"`
	FailReason []string `json:"fail_reasons,omitempty"`
}

// pageOutcome is what one processed catalog page produced.
type pageOutcome struct {
	games     int
	oneX2     []models.EnqueueRequest
	nextPages []models.EnqueueRequest
}

// Discover walks the catalog frontier: it claims up to batch page tasks,
// persists their games, enqueues 1X2 follow-ups and fans out next pages.
func (s *Service) Discover(ctx context.Context, batch int) (res DiscoveryResult, err error) {
	started := time.Now()
	defer func() { s.record("discovery", started, err) }()

	if batch <= 0 {
		batch = s.queue.DiscoveryBatch
	}
	batch = max(1, min(maxDiscoveryBatch, batch))
	kind := models.TaskCatalogPage
	now := s.now()

	res.Unstuck, err = s.store.UnstickNeverSucceeded(ctx, kind, now.Add(s.queue.CatalogHorizon))
	if err != nil {
		return res, err
	}

	count, err := s.store.CountTasks(ctx, kind)
	if err != nil {
		return res, err
	}
	if count == 0 {
		seed := models.CatalogPagePayload{SportID: s.sportID, BetRangeFilter: s.betRange, Page: 1}
		if err := s.store.Enqueue(ctx, []models.EnqueueRequest{{Payload: seed, Priority: seedPriority}}); err != nil {
			return res, fmt.Errorf("failed to seed catalog frontier: %w", err)
		}
		res.Seeded = true
		s.logger.Info("seeded catalog frontier", "external_id", seed.ExternalID())
	}

	owner := newOwner()
	tasks, err := s.store.Claim(ctx, kind, batch, owner)
	if err != nil {
		return res, err
	}
	if len(tasks) == 0 {
		gate, err := s.store.SoonestGate(ctx, kind)
		if err != nil {
			return res, err
		}
		if gate != nil && gate.Sub(now) > s.queue.CatalogHorizon {
			if res.Expedited, err = s.store.Expedite(ctx, kind, false); err != nil {
				return res, err
			}
			s.logger.Warn("catalog frontier gated far ahead, expedited", "soonest", gate, "count", res.Expedited)
			if tasks, err = s.store.Claim(ctx, kind, batch, owner); err != nil {
				return res, err
			}
		}
	}
	res.Claimed = len(tasks)
	if len(tasks) == 0 {
		return res, nil
	}

	outcomes := make([]pageOutcome, len(tasks))
	var mu sync.Mutex
	errs := parserutil.RunBatch(ctx, tasks, batch, func(ctx context.Context, t models.ScrapeTask) error {
		out, err := s.processCatalogPage(ctx, t)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for i := range tasks {
			if tasks[i].ID == t.ID {
				outcomes[i] = out
			}
		}
		return nil
	})

	done := make(map[time.Time][]int64)
	var failed []taskFailure
	var oneX2, pages []models.EnqueueRequest
	blocked := 0
	settledAt := s.now()
	for i, t := range tasks {
		res.Processed = append(res.Processed, t.ExternalID)
		if errs[i] != nil {
			failed = append(failed, taskFailure{task: t, err: errs[i]})
			res.FailReason = append(res.FailReason, fmt.Sprintf("%s: %v", t.ExternalID, errs[i]))
			if errors.Is(errs[i], models.ErrBlocked) {
				blocked++
			}
			continue
		}
		out := outcomes[i]
		res.Pages++
		res.Games += out.games
		oneX2 = append(oneX2, out.oneX2...)
		pages = append(pages, out.nextPages...)
		gate := settledAt.Add(s.queue.CatalogSuccess)
		if out.games == 0 {
			gate = settledAt.Add(s.queue.CatalogEmpty)
		}
		done[gate] = append(done[gate], t.ID)
	}

	if len(oneX2) > 0 {
		if err := s.store.Enqueue(ctx, oneX2); err != nil {
			s.logger.Error("failed to enqueue 1x2 tasks", "count", len(oneX2), "error", err)
		} else {
			res.Enqueued = len(oneX2)
		}
	}
	if len(pages) > 0 {
		if err := s.store.Enqueue(ctx, pages); err != nil {
			s.logger.Error("failed to enqueue next pages", "count", len(pages), "error", err)
		} else {
			res.NextPages = len(pages)
		}
	}

	s.settle(ctx, kind, owner, done, failed)
	res.Failed = len(failed)
	s.tracker.RecordTasks(string(kind), len(tasks), len(tasks)-len(failed), len(failed))

	if blocked > 0 && blocked == len(tasks) {
		msg := fmt.Sprintf("tounesbet discovery: all %d catalog pages blocked\n%s", blocked, strings.Join(res.Processed, "\n"))
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.Warn("failed to send blocked alert", "error", err)
		}
	}

	s.logger.Info("discovery finished", "claimed", res.Claimed, "pages", res.Pages, "games", res.Games,
		"enqueued_1x2", res.Enqueued, "next_pages", res.NextPages, "failed", res.Failed)
	return res, nil
}

// processCatalogPage fetches, parses and persists one catalog page and
// computes its follow-up tasks.
func (s *Service) processCatalogPage(ctx context.Context, t models.ScrapeTask) (pageOutcome, error) {
	payload, err := t.Payload()
	if err != nil {
		return pageOutcome{}, err
	}
	page := payload.(models.CatalogPagePayload)

	html, err := s.fetcher.SportMatchListHTML(ctx, page.SportID, page.BetRangeFilter, page.Page)
	if err != nil {
		return pageOutcome{}, err
	}
	now := s.now()
	parsed := tounesbet.ParseSportMatchList(html, page.SportID, now)
	games := models.Games(parsed)
	if len(games) == 0 && !tounesbet.HasMatchMarkers(html) && tounesbet.LooksBlocked(html) {
		return pageOutcome{}, models.ErrBlocked
	}

	if len(parsed) > 0 {
		if _, err := s.persister.Persist(ctx, parsed); err != nil {
			return pageOutcome{}, err
		}
	}

	out := pageOutcome{games: len(games)}
	for _, g := range games {
		if models.HasComplete1x2(g) {
			continue
		}
		out.oneX2 = append(out.oneX2, models.EnqueueRequest{
			Payload:  models.MatchPayload{TaskKind: models.Task1x2, MatchID: g.ExternalID},
			Priority: oneX2Priority(g.StartTime, now),
		})
	}
	for _, next := range nextPages(page, len(games)) {
		out.nextPages = append(out.nextPages, models.EnqueueRequest{Payload: next, Priority: nextPagePriority})
	}
	return out, nil
}

// nextPages applies the fan-out rule: three pages ahead after a productive
// page, one page ahead after an empty one, none once the streak hits the limit.
func nextPages(page models.CatalogPagePayload, games int) []models.CatalogPagePayload {
	streak, fanOut := 0, productiveFanOut
	if games == 0 {
		streak, fanOut = page.EmptyStreak+1, emptyFanOut
		if streak >= EmptyStreakLimit {
			return nil
		}
	}
	var out []models.CatalogPagePayload
	for i := 1; i <= fanOut; i++ {
		next := page.Next(i, streak)
		if next.Page > MaxCatalogPage {
			break
		}
		out = append(out, next)
	}
	return out
}

// oneX2Priority ranks sooner kickoffs higher.
func oneX2Priority(start, now time.Time) int {
	if start.IsZero() {
		return 10
	}
	switch until := start.Sub(now); {
	case until <= 24*time.Hour:
		return 20
	case until <= 72*time.Hour:
		return 10
	default:
		return 5
	}
}
