package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vodeneev/tounesbet/internal/notify"
	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
)

const emptyPage = `<div>Actuellement, il n'y a pas de correspondances actives.</div>`

const blockedPage = `<html><title>Attention Required! | Cloudflare</title></html>`

const psgOMPage = `
<table><tbody class="matchesTableBody">
<tr class="header_tournament_row" data-tournamentid="77"><td><div class="category-tournament-title">Ligue 1</div></td></tr>
<tr class="date_row"><td>15/08/2025</td></tr>
<tr class="trMatch" data-matchid="12345">
  <td class="match_time">21:00</td>
  <td><div class="competitor1-name">PSG</div><div class="competitor2-name">OM</div></td>
  <td class="betColumn main-market-no_1">
    <div class="match-odd" data-matchoddid="9001" data-oddvaluedecimal="1.80">1.80</div>
    <div class="match-odd" data-matchoddid="9002" data-oddvaluedecimal="3,40">3,40</div>
    <div class="match-odd" data-matchoddid="9003" data-oddvaluedecimal="4.20">4.20</div>
  </td>
</tr>
<tr class="trMatch" data-matchid="12346">
  <td class="match_time">19:00</td>
  <td><div class="competitor1-name">Lyon</div><div class="competitor2-name">Nice</div></td>
  <td class="betColumn main-market-no_1"></td>
</tr>
</tbody></table>`

// fakeFetcher serves canned pages. Unknown pages are empty.
type fakeFetcher struct {
	mu         sync.Mutex
	pages      map[int]string
	markets    map[string][]models.ParsedMarket
	marketErrs map[string]error
	nav        string
	next       string
	popular    string
	live       string
	calls      map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:      make(map[int]string),
		markets:    make(map[string][]models.ParsedMarket),
		marketErrs: make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeFetcher) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeFetcher) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeFetcher) SportHTML(context.Context, string, string) (string, error) {
	f.hit("sport")
	if f.nav == "" {
		return "", errors.New("status 503")
	}
	return f.nav, nil
}

func (f *fakeFetcher) NextMatchesHTML(context.Context, string) (string, error) {
	f.hit("next")
	return f.next, nil
}

func (f *fakeFetcher) SportMatchListHTML(_ context.Context, _, _ string, page int) (string, error) {
	f.hit(fmt.Sprintf("page:%d", page))
	if html, ok := f.pages[page]; ok {
		return html, nil
	}
	return emptyPage, nil
}

func (f *fakeFetcher) PopularMatchesHTML(context.Context, string, string, string) (string, error) {
	f.hit("popular")
	return f.popular, nil
}

func (f *fakeFetcher) LiveHTML(context.Context) (string, error) {
	f.hit("live")
	return f.live, nil
}

func (f *fakeFetcher) FetchMatchMarkets(_ context.Context, matchID string) ([]models.ParsedMarket, error) {
	f.hit("markets:" + matchID)
	if err := f.marketErrs[matchID]; err != nil {
		return nil, err
	}
	return f.markets[matchID], nil
}

func oneX2(matchID string, p1, px, p2 float64) models.ParsedMarket {
	return models.ParsedMarket{
		Key:        "1x2",
		Name:       "1X2",
		ExternalID: matchID + "_1x2",
		Outcomes: []models.ParsedOutcome{
			{Label: "1", Price: p1, ExternalID: matchID + "_1"},
			{Label: "X", Price: px, ExternalID: matchID + "_x"},
			{Label: "2", Price: p2, ExternalID: matchID + "_2"},
		},
	}
}

func newTestService(t *testing.T, f Fetcher, opts ...Option) (*Service, *storage.MemoryStore) {
	t.Helper()
	cfg := config.Default()
	store := storage.NewMemoryStore(cfg.Queue.LeaseTTL)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewService(store, f, cfg, opts...), store
}

func pendingIDs(t *testing.T, store *storage.MemoryStore, kind models.TaskKind) map[string]models.ScrapeTask {
	t.Helper()
	tasks, err := store.Peek(context.Background(), kind, 1000)
	require.NoError(t, err)
	out := make(map[string]models.ScrapeTask, len(tasks))
	for _, task := range tasks {
		out[task.ExternalID] = task
	}
	return out
}

func TestDiscover_SeedsAndFansOut(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = psgOMPage
	s, store := newTestService(t, f)
	ctx := context.Background()

	res, err := s.Discover(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.Seeded)
	require.Equal(t, 1, res.Claimed)
	require.Equal(t, 2, res.Games)
	require.Equal(t, 1, res.Enqueued, "only the game without inline odds needs a 1x2 task")
	require.Equal(t, 3, res.NextPages)

	pages := pendingIDs(t, store, models.TaskCatalogPage)
	require.Contains(t, pages, "1181:0:2:0")
	require.Contains(t, pages, "1181:0:3:0")
	require.Contains(t, pages, "1181:0:4:0")
	seed := pages["1181:0:1:0"]
	require.NotNil(t, seed.LastSuccessAt)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), *seed.NotBeforeAt, time.Minute)

	oneX2Tasks := pendingIDs(t, store, models.Task1x2)
	require.Len(t, oneX2Tasks, 1)
	require.Contains(t, oneX2Tasks, "12346")

	game, err := store.GameByExternalID(ctx, "12345")
	require.NoError(t, err)
	markets, err := store.MarketsForGames(ctx, []int64{game.ID}, "1x2")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Len(t, markets[0].Outcomes, 3)
}

func TestDiscover_EmptyStreak(t *testing.T) {
	tests := []struct {
		name     string
		streak   int
		wantNext []string
	}{
		{"first empty page", 0, []string{"1181:0:6:1"}},
		{"seventh empty page", 6, []string{"1181:0:6:7"}},
		{"streak reaches limit", 7, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestService(t, newFakeFetcher())
			ctx := context.Background()
			page := models.CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: 5, EmptyStreak: tt.streak}
			require.NoError(t, store.Enqueue(ctx, []models.EnqueueRequest{{Payload: page, Priority: 20}}))

			res, err := s.Discover(ctx, 1)
			require.NoError(t, err)
			require.False(t, res.Seeded)
			require.Equal(t, 0, res.Games)
			require.Equal(t, len(tt.wantNext), res.NextPages)

			pages := pendingIDs(t, store, models.TaskCatalogPage)
			for _, id := range tt.wantNext {
				require.Contains(t, pages, id)
			}
			require.Len(t, pages, 1+len(tt.wantNext))

			done := pages[page.ExternalID()]
			require.WithinDuration(t, time.Now().Add(6*time.Hour), *done.NotBeforeAt, time.Minute)
		})
	}
}

func TestNextPages_Cap(t *testing.T) {
	page := models.CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: 249}
	next := nextPages(page, 4)
	require.Len(t, next, 1)
	require.Equal(t, 250, next[0].Page)
	require.Empty(t, nextPages(models.CatalogPagePayload{SportID: "1", Page: 250}, 0))
}

func TestOneX2Priority(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 20, oneX2Priority(now.Add(2*time.Hour), now))
	require.Equal(t, 10, oneX2Priority(now.Add(48*time.Hour), now))
	require.Equal(t, 5, oneX2Priority(now.Add(7*24*time.Hour), now))
	require.Equal(t, 10, oneX2Priority(time.Time{}, now))
}

func TestDiscover_BlockedBatchAlerts(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = blockedPage
	var alerts []string
	s, store := newTestService(t, f, WithNotifier(notify.Func(func(_ context.Context, text string) error {
		alerts = append(alerts, text)
		return nil
	})))

	res, err := s.Discover(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0], "blocked")

	seed := pendingIDs(t, store, models.TaskCatalogPage)["1181:0:1:0"]
	require.Equal(t, models.StatusPending, seed.Status)
	require.Equal(t, 1, seed.Attempts)
	require.Contains(t, seed.LastError, "blocked")
	require.WithinDuration(t, time.Now().Add(5*time.Minute), *seed.NotBeforeAt, time.Minute)
}

func TestDiscover_ExpeditesFarGate(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = psgOMPage
	s, store := newTestService(t, f)
	ctx := context.Background()

	seed := models.CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: 1}
	require.NoError(t, store.Enqueue(ctx, []models.EnqueueRequest{{Payload: seed, Priority: 50}}))
	claimed, err := store.Claim(ctx, models.TaskCatalogPage, 1, "worker:x")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "worker:x", []int64{claimed[0].ID}, time.Now().Add(6*time.Hour)))

	res, err := s.Discover(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Expedited)
	require.Equal(t, 1, res.Claimed)
}

func TestHourly_RefreshesAndIsolatesFailures(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = psgOMPage
	s, store := newTestService(t, f)
	ctx := context.Background()

	_, err := s.Discover(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, []models.EnqueueRequest{
		{Payload: models.MatchPayload{TaskKind: models.Task1x2, MatchID: "12345"}, Priority: 5},
		{Payload: models.MatchPayload{TaskKind: models.Task1x2, MatchID: "99999"}, Priority: 5},
	}))
	f.markets["12346"] = []models.ParsedMarket{oneX2("12346", 2.1, 3.2, 3.3)}
	f.markets["12345"] = []models.ParsedMarket{{Key: "totals", Name: "Total", ExternalID: "12345_totals_2.5"}}
	f.markets["99999"] = []models.ParsedMarket{oneX2("99999", 1.5, 4, 6)}

	res, err := s.Hourly(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, 3, res.Claimed)
	require.Equal(t, 2, res.Updated)
	require.Equal(t, 1, res.Failed)

	tasks := pendingIDs(t, store, models.Task1x2)
	require.Empty(t, tasks["12346"].LastError)
	require.WithinDuration(t, time.Now().Add(time.Hour), *tasks["12346"].NotBeforeAt, time.Minute)
	// no 1x2 on the page yet: checked again after the refresh gate
	require.Empty(t, tasks["12345"].LastError)
	require.NotNil(t, tasks["12345"].LastSuccessAt)
	require.WithinDuration(t, time.Now().Add(time.Hour), *tasks["12345"].NotBeforeAt, time.Minute)
	require.Contains(t, tasks["99999"].LastError, "not_found")

	game, err := store.GameByExternalID(ctx, "12346")
	require.NoError(t, err)
	markets, err := store.MarketsForGames(ctx, []int64{game.ID}, "1x2")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.InDelta(t, 2.1, markets[0].Outcomes[0].Price, 1e-9)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]*storage.CachedMarkets
}

func (c *mapCache) Get(_ context.Context, id string) (*storage.CachedMarkets, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[id]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, v *storage.CachedMarkets) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[v.MatchID] = v
	return nil
}

func (c *mapCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

func TestFullMarkets(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = psgOMPage
	cache := &mapCache{m: make(map[string]*storage.CachedMarkets)}
	s, store := newTestService(t, f, WithCache(cache))
	ctx := context.Background()

	_, err := s.FullMarkets(ctx, "12345", false)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.Discover(ctx, 1)
	require.NoError(t, err)
	f.markets["12345"] = []models.ParsedMarket{
		oneX2("12345", 1.9, 3.5, 4.0),
		{Key: "btts", Name: "Les deux équipes marquent", ExternalID: "12345_btts", Outcomes: []models.ParsedOutcome{
			{Label: "Yes", Price: 1.7, ExternalID: "41"},
			{Label: "No", Price: 2.1, ExternalID: "42"},
		}},
	}

	out, err := s.FullMarkets(ctx, "12345", false)
	require.NoError(t, err)
	require.False(t, out.Cached)
	require.Len(t, out.Markets, 2)
	require.Equal(t, 1, f.count("markets:12345"))

	marker, err := store.GetTask(ctx, models.TaskFullMarkets, "12345")
	require.NoError(t, err)
	require.Equal(t, 100, marker.Priority)
	require.NotNil(t, marker.LastSuccessAt)

	out, err = s.FullMarkets(ctx, "12345", false)
	require.NoError(t, err)
	require.True(t, out.Cached)
	require.Len(t, out.Markets, 2)
	require.Equal(t, 1, f.count("markets:12345"), "served from cache")

	require.NoError(t, cache.Delete(ctx, "12345"))
	out, err = s.FullMarkets(ctx, "12345", false)
	require.NoError(t, err)
	require.True(t, out.Cached, "served from storage within ttl")
	require.Equal(t, 1, f.count("markets:12345"))

	f.marketErrs["12345"] = errors.New("status 502")
	out, err = s.FullMarkets(ctx, "12345", true)
	require.NoError(t, err)
	require.True(t, out.Stale)
	require.Len(t, out.Markets, 2)
	require.Equal(t, 2, f.count("markets:12345"))
}

const nextMatchesPage = `
<table>
<tr class="header_tournament_row"><td class="tournament_name_section">France - Ligue 1</td></tr>
<tr class="trMatch live_match_data" data-matchid="12345">
  <td>15/08/2025</td><td>21:00</td>
  <td><div class="competitor1-name">PSG</div><div class="competitor2-name">OM</div></td>
</tr>
<tr class="trMatch live_match_data" data-matchid="12346">
  <td>15/08/2025</td><td>19:00</td>
  <td><div class="competitor1-name">Lyon</div><div class="competitor2-name">Nice</div></td>
</tr>
</table>`

func TestPrematch_AttachesDeepMarkets(t *testing.T) {
	f := newFakeFetcher()
	f.nav = `<nav id="main_nav"><a class="sport_item selected" data-sportid="1181"><span class="menu-sport-name">Football</span></a></nav>`
	f.next = nextMatchesPage
	f.markets["12345"] = []models.ParsedMarket{oneX2("12345", 1.8, 3.4, 4.2)}
	f.marketErrs["12346"] = errors.New("timeout")
	s, store := newTestService(t, f)
	ctx := context.Background()

	res, err := s.Prematch(ctx)
	require.NoError(t, err)
	require.Equal(t, "1181", res.SportID)
	require.Equal(t, 2, res.Games)
	require.Equal(t, 1, res.DeepGames)
	require.Equal(t, 1, res.DeepFailed)
	require.Equal(t, 1, f.count("popular"))

	sport, err := store.SportByKey(ctx, "football")
	require.NoError(t, err)
	leagues, err := store.LeaguesBySport(ctx, sport.ID)
	require.NoError(t, err)
	require.Len(t, leagues, 1)

	game, err := store.GameByExternalID(ctx, "12345")
	require.NoError(t, err)
	markets, err := store.MarketsForGames(ctx, []int64{game.ID}, "")
	require.NoError(t, err)
	require.Len(t, markets, 1)
}

func TestCapMarkets(t *testing.T) {
	outs := make([]models.ParsedOutcome, 20)
	markets := make([]models.ParsedMarket, 5)
	for i := range markets {
		markets[i] = models.ParsedMarket{Key: "m", Outcomes: outs}
	}
	capped := capMarkets(markets, 3, 16)
	require.Len(t, capped, 3)
	require.Len(t, capped[0].Outcomes, 16)
	require.Len(t, markets[0].Outcomes, 20, "input untouched")
}

func TestLive_BlockedPage(t *testing.T) {
	f := newFakeFetcher()
	f.live = blockedPage
	s, _ := newTestService(t, f)
	_, err := s.Live(context.Background())
	require.ErrorIs(t, err, models.ErrBlocked)
}

func TestJob_RunsAllSteps(t *testing.T) {
	var ran []int
	j := &job{name: "x", logger: slog.New(slog.NewTextHandler(io.Discard, nil)), steps: []step{
		func(context.Context) error { ran = append(ran, 1); return errors.New("first") },
		func(context.Context) error { ran = append(ran, 2); return nil },
	}}
	err := j.Run(context.Background())
	require.EqualError(t, err, "first")
	require.Equal(t, []int{1, 2}, ran)
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	s, _ := newTestService(t, newFakeFetcher())
	cfg := config.Default().Scheduler
	sch, err := NewScheduler(s, cfg, time.Minute)
	require.NoError(t, err)
	require.Len(t, sch.jobs, 5)

	cfg.SweepSpec = "not a spec"
	_, err = NewScheduler(s, cfg, time.Minute)
	require.Error(t, err)
}

func TestBatch_ZeroUsesConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("discovery", func(t *testing.T) {
		s, store := newTestService(t, newFakeFetcher())
		var reqs []models.EnqueueRequest
		for page := 1; page <= 6; page++ {
			reqs = append(reqs, models.EnqueueRequest{
				Payload:  models.CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: page},
				Priority: 20,
			})
		}
		require.NoError(t, store.Enqueue(ctx, reqs))

		res, err := s.Discover(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, config.Default().Queue.DiscoveryBatch, res.Claimed)
	})

	t.Run("hourly", func(t *testing.T) {
		s, store := newTestService(t, newFakeFetcher())
		var reqs []models.EnqueueRequest
		for i := range 20 {
			reqs = append(reqs, models.EnqueueRequest{
				Payload:  models.MatchPayload{TaskKind: models.Task1x2, MatchID: fmt.Sprintf("%d", 50000+i)},
				Priority: 5,
			})
		}
		require.NoError(t, store.Enqueue(ctx, reqs))

		res, err := s.Hourly(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, config.Default().Queue.HourlyBatch, res.Claimed)

		res, err = s.Hourly(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, 20-config.Default().Queue.HourlyBatch, res.Claimed)
	})
}

func TestScheduler_RunsUnderStartContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{timeout: time.Minute, logger: logger, ctx: ctx}

	started := make(chan struct{})
	var runErr error
	blocking := &job{name: "blocking", logger: logger, steps: []step{
		func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			runErr = ctx.Err()
			return runErr
		},
	}}

	done := make(chan struct{})
	go func() {
		sch.wrap(blocking).Run()
		close(done)
	}()
	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not stop on shutdown")
	}
	require.ErrorIs(t, runErr, context.Canceled)

	// after shutdown no further run starts
	ran := false
	sch.wrap(&job{name: "late", logger: logger, steps: []step{
		func(context.Context) error { ran = true; return nil },
	}}).Run()
	require.False(t, ran)
}
