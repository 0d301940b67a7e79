// Package crawler drives the scrape queue: catalog discovery, hourly 1X2
// refresh, on-demand full markets and the live and prematch snapshots.
package crawler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vodeneev/tounesbet/internal/notify"
	"github.com/Vodeneev/tounesbet/internal/parser/parsers/tounesbet"
	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/performance"
	"github.com/Vodeneev/tounesbet/internal/pkg/persist"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
)

// Fetcher is the part of the upstream client the crawler uses.
type Fetcher interface {
	SportHTML(ctx context.Context, sportID, betRangeFilter string) (string, error)
	NextMatchesHTML(ctx context.Context, sportID string) (string, error)
	SportMatchListHTML(ctx context.Context, sportID, betRangeFilter string, page int) (string, error)
	PopularMatchesHTML(ctx context.Context, sportID, dateDay, betRangeFilter string) (string, error)
	LiveHTML(ctx context.Context) (string, error)
	FetchMatchMarkets(ctx context.Context, matchID string) ([]models.ParsedMarket, error)
}

var _ Fetcher = (*tounesbet.Client)(nil)

// Service holds everything one crawl invocation needs.
type Service struct {
	store     storage.Store
	fetcher   Fetcher
	persister *persist.Persister
	cache     storage.MarketsCache
	notifier  notify.Notifier
	tracker   *performance.Tracker
	queue     config.QueueConfig
	sportID   string
	betRange  string
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithCache puts a markets cache in front of the full-markets read path.
func WithCache(c storage.MarketsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithNotifier sets where blocked-batch alerts go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithTracker(t *performance.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store storage.Store, fetcher Fetcher, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		fetcher:  fetcher,
		queue:    cfg.Queue,
		sportID:  cfg.Tounesbet.SportID,
		betRange: cfg.Tounesbet.BetRangeFilter,
		notifier: notify.Nop{},
		tracker:  performance.NewTracker(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "crawler")
	s.persister = persist.New(store, s.logger)
	return s
}

// Tracker returns the metrics tracker the service records into.
func (s *Service) Tracker() *performance.Tracker {
	return s.tracker
}

// Persister returns the persister used by crawl jobs.
func (s *Service) Persister() *persist.Persister {
	return s.persister
}

// newOwner returns a fresh lease owner token.
func newOwner() string {
	return "worker:" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// backoff is linear in attempts and capped at an hour.
func backoff(attempts int) time.Duration {
	return time.Duration(min(60, 5*max(1, attempts))) * time.Minute
}

// taskFailure is a failed task with its error text for last_error.
type taskFailure struct {
	task models.ScrapeTask
	err  error
}

// settle folds per-task results into queue transitions. Successes are
// grouped by their next gate. Tasks no longer leased to owner are skipped.
func (s *Service) settle(ctx context.Context, kind models.TaskKind, owner string, done map[time.Time][]int64, failed []taskFailure) {
	for notBefore, ids := range done {
		if err := s.store.Complete(ctx, owner, ids, notBefore); err != nil {
			s.logger.Error("failed to complete tasks", "task", kind, "count", len(ids), "error", err)
		}
	}
	now := s.now()
	for _, f := range failed {
		if err := s.store.Fail(ctx, owner, f.task.ID, now.Add(backoff(f.task.Attempts)), f.err.Error()); err != nil {
			s.logger.Error("failed to reschedule task", "task", kind, "id", f.task.ID, "error", err)
		}
	}
}

func (s *Service) record(job string, started time.Time, err error) {
	s.tracker.RecordRun(job, time.Since(started), err)
}
