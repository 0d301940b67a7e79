package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

func newTestStore(t *testing.T, now *time.Time) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(10 * time.Minute)
	s.now = func() time.Time { return *now }
	return s
}

func catalogReq(page, streak, prio int) models.EnqueueRequest {
	return models.EnqueueRequest{
		Payload:  models.CatalogPagePayload{SportID: "1181", BetRangeFilter: "0", Page: page, EmptyStreak: streak},
		Priority: prio,
	}
}

func matchReq(id string, prio int) models.EnqueueRequest {
	return models.EnqueueRequest{Payload: models.MatchPayload{TaskKind: models.Task1x2, MatchID: id}, Priority: prio}
}

func TestEnqueue_Idempotent(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("12345", 5)}))
	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("12345", 20), matchReq("12345", 10)}))

	n, err := s.CountTasks(ctx, models.Task1x2)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	task, err := s.GetTask(ctx, models.Task1x2, "12345")
	require.NoError(t, err)
	require.Equal(t, 20, task.Priority)
	require.Equal(t, models.StatusPending, task.Status)

	// a lower priority never lowers, and re-enqueue keeps the gate
	claimed, err := s.Claim(ctx, models.Task1x2, 1, "worker:a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.Complete(ctx, "worker:a", []int64{claimed[0].ID}, now.Add(time.Hour)))
	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("12345", 1)}))

	task, err = s.GetTask(ctx, models.Task1x2, "12345")
	require.NoError(t, err)
	require.Equal(t, 20, task.Priority)
	require.NotNil(t, task.NotBeforeAt)
	require.True(t, task.NotBeforeAt.Equal(now.Add(time.Hour)))
}

func TestClaim_OrderAndGate(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{catalogReq(2, 0, 20)}))
	now = now.Add(time.Second)
	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{catalogReq(1, 0, 50), catalogReq(3, 0, 20)}))

	claimed, err := s.Claim(ctx, models.TaskCatalogPage, 10, "worker:a")
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	require.Equal(t, "1181:0:1:0", claimed[0].ExternalID)
	require.Equal(t, "1181:0:2:0", claimed[1].ExternalID)
	require.Equal(t, "1181:0:3:0", claimed[2].ExternalID)
	for _, c := range claimed {
		require.Equal(t, models.StatusLeased, c.Status)
		require.Equal(t, "worker:a", c.LockOwner)
		require.Equal(t, 1, c.Attempts)
	}

	// leased rows are not claimable again before the lease expires
	again, err := s.Claim(ctx, models.TaskCatalogPage, 10, "worker:b")
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, s.Fail(ctx, "worker:a", claimed[0].ID, now.Add(5*time.Minute), "boom"))
	again, err = s.Claim(ctx, models.TaskCatalogPage, 10, "worker:b")
	require.NoError(t, err)
	require.Empty(t, again)

	now = now.Add(5 * time.Minute)
	again, err = s.Claim(ctx, models.TaskCatalogPage, 10, "worker:b")
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 2, again[0].Attempts)
	require.Equal(t, "boom", again[0].LastError)
}

func TestClaim_StaleLeaseReclaimed(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("1", 5)}))
	first, err := s.Claim(ctx, models.Task1x2, 1, "worker:a")
	require.NoError(t, err)
	require.Len(t, first, 1)

	now = now.Add(9 * time.Minute)
	none, err := s.Claim(ctx, models.Task1x2, 1, "worker:b")
	require.NoError(t, err)
	require.Empty(t, none)

	now = now.Add(2 * time.Minute)
	second, err := s.Claim(ctx, models.Task1x2, 1, "worker:b")
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "worker:b", second[0].LockOwner)
	require.Equal(t, 2, second[0].Attempts)

	// the first worker settling late must not touch worker:b's lease
	require.NoError(t, s.Complete(ctx, "worker:a", []int64{first[0].ID}, now.Add(time.Hour)))
	require.NoError(t, s.Fail(ctx, "worker:a", first[0].ID, now.Add(time.Hour), "late"))
	task, err := s.GetTask(ctx, models.Task1x2, "1")
	require.NoError(t, err)
	require.Equal(t, models.StatusLeased, task.Status)
	require.Equal(t, "worker:b", task.LockOwner)
	require.Nil(t, task.LastSuccessAt)
	require.Empty(t, task.LastError)

	require.NoError(t, s.Complete(ctx, "worker:b", []int64{second[0].ID}, now.Add(time.Hour)))
	task, err = s.GetTask(ctx, models.Task1x2, "1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, task.Status)
	require.NotNil(t, task.LastSuccessAt)
}

func TestSettle_EmptyOwnerIsUnconditional(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("9", 5)}))
	task, err := s.GetTask(ctx, models.Task1x2, "9")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, task.Status)

	require.NoError(t, s.Complete(ctx, "", []int64{task.ID}, now.Add(time.Hour)))
	task, err = s.GetTask(ctx, models.Task1x2, "9")
	require.NoError(t, err)
	require.NotNil(t, task.LastSuccessAt)

	require.NoError(t, s.Fail(ctx, "worker:a", task.ID, now, "not leased"))
	task, err = s.GetTask(ctx, models.Task1x2, "9")
	require.NoError(t, err)
	require.Empty(t, task.LastError)
}

func TestClaim_ConcurrentExclusive(t *testing.T) {
	s := NewMemoryStore(10 * time.Minute)
	ctx := context.Background()

	var reqs []models.EnqueueRequest
	for i := 1; i <= 40; i++ {
		reqs = append(reqs, catalogReq(i, 0, 10))
	}
	require.NoError(t, s.Enqueue(ctx, reqs))

	var wg sync.WaitGroup
	results := make([][]models.ScrapeTask, 4)
	for w := range results {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			claimed, err := s.Claim(ctx, models.TaskCatalogPage, 15, "worker:"+string(rune('a'+w)))
			if err == nil {
				results[w] = claimed
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	total := 0
	for _, claimed := range results {
		for _, task := range claimed {
			require.False(t, seen[task.ID], "task %d claimed twice", task.ID)
			seen[task.ID] = true
			total++
		}
	}
	require.Equal(t, 40, total)
}

func TestComplete_ResetsAttempts(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("7", 5)}))
	claimed, err := s.Claim(ctx, models.Task1x2, 1, "worker:a")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "worker:a", claimed[0].ID, now, "timeout"))
	claimed, err = s.Claim(ctx, models.Task1x2, 1, "worker:a")
	require.NoError(t, err)
	require.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, s.Complete(ctx, "worker:a", []int64{claimed[0].ID}, now.Add(time.Hour)))
	task, err := s.GetTask(ctx, models.Task1x2, "7")
	require.NoError(t, err)
	require.Equal(t, 0, task.Attempts)
	require.Empty(t, task.LastError)
	require.Empty(t, task.LockOwner)
	require.NotNil(t, task.LastSuccessAt)
	require.Equal(t, models.StatusPending, task.Status)
}

func TestUnstickAndExpedite(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{catalogReq(1, 0, 50), catalogReq(2, 0, 20), catalogReq(3, 0, 20)}))
	claimed, err := s.Claim(ctx, models.TaskCatalogPage, 3, "worker:a")
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	// page 1 never succeeded and is gated far out; page 2 succeeded
	require.NoError(t, s.Fail(ctx, "worker:a", claimed[0].ID, now.Add(6*time.Hour), "blocked"))
	require.NoError(t, s.Complete(ctx, "worker:a", []int64{claimed[1].ID}, now.Add(6*time.Hour)))

	n, err := s.UnstickNeverSucceeded(ctx, models.TaskCatalogPage, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	gate, err := s.SoonestGate(ctx, models.TaskCatalogPage)
	require.NoError(t, err)
	require.NotNil(t, gate)
	require.True(t, gate.Equal(now.Add(6*time.Hour)))

	n, err = s.Expedite(ctx, models.TaskCatalogPage, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	gate, err = s.SoonestGate(ctx, models.TaskCatalogPage)
	require.NoError(t, err)
	require.Nil(t, gate)

	// page 3 is still leased; only the admin form drops it
	n, err = s.Expedite(ctx, models.TaskCatalogPage, true)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	claimed, err = s.Claim(ctx, models.TaskCatalogPage, 10, "worker:b")
	require.NoError(t, err)
	require.Len(t, claimed, 3)
}

func TestRelease(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, []models.EnqueueRequest{matchReq("9", 1)}))
	claimed, err := s.Claim(ctx, models.Task1x2, 1, "worker:a")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, claimed[0].ID))

	claimed, err = s.Claim(ctx, models.Task1x2, 1, "worker:b")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = s.Release(ctx, 999)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func seed(t *testing.T, s *MemoryStore, seenAt time.Time) {
	t.Helper()
	err := s.InTx(context.Background(), func(w Writer) error {
		ctx := context.Background()
		if err := w.UpsertSports(ctx, []models.Sport{{ExternalID: "1181", Key: "football", Name: "Football"}}); err != nil {
			return err
		}
		sports, err := w.SportIDs(ctx, []string{"1181"})
		if err != nil {
			return err
		}
		if err := w.UpsertLeagues(ctx, []models.League{{ExternalID: "prematch_1181_77", SportID: sports["1181"], Name: "Ligue 1"}}); err != nil {
			return err
		}
		leagues, err := w.LeagueIDs(ctx, []string{"prematch_1181_77"})
		if err != nil {
			return err
		}
		start := time.Date(2025, 8, 15, 19, 0, 0, 0, time.UTC)
		if err := w.UpsertGames(ctx, []models.Game{{ExternalID: "12345", LeagueID: leagues["prematch_1181_77"],
			HomeTeam: "PSG", AwayTeam: "OM", StartTime: start, LastSeenAt: seenAt}}); err != nil {
			return err
		}
		games, err := w.GameIDs(ctx, []string{"12345"})
		if err != nil {
			return err
		}
		if err := w.UpsertMarkets(ctx, []models.Market{{ExternalID: "12345_1x2", GameID: games["12345"], Key: "1x2", Name: "1X2"}}); err != nil {
			return err
		}
		markets, err := w.MarketIDs(ctx, []string{"12345_1x2"})
		if err != nil {
			return err
		}
		mid := markets["12345_1x2"]
		return w.UpsertOutcomes(ctx, []models.Outcome{
			{ExternalID: "9001", MarketID: mid, Label: "1", Price: 1.8},
			{ExternalID: "9002", MarketID: mid, Label: "X", Price: 3.4},
			{ExternalID: "9003", MarketID: mid, Label: "2", Price: 4.2},
		})
	})
	require.NoError(t, err)
}

func TestInTx_UpsertIsIdempotent(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	first := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	seed(t, s, first)
	seed(t, s, first.Add(time.Hour))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Sports)
	require.EqualValues(t, 1, st.Leagues)
	require.EqualValues(t, 1, st.Games)
	require.EqualValues(t, 1, st.Markets)
	require.EqualValues(t, 3, st.Outcomes)

	g, err := s.GameByExternalID(ctx, "12345")
	require.NoError(t, err)
	require.True(t, g.LastSeenAt.Equal(first.Add(time.Hour)))

	markets, err := s.MarketsForGames(ctx, []int64{g.ID}, "1x2")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Len(t, markets[0].Outcomes, 3)
	require.Equal(t, "1", markets[0].Outcomes[0].Label)
	require.Equal(t, 4.2, markets[0].Outcomes[2].Price)
}

func TestInTx_RollbackOnError(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(w Writer) error {
		if err := w.UpsertSports(ctx, []models.Sport{{ExternalID: "1181", Key: "football", Name: "Football"}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.SportByKey(ctx, "football")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestOutcomes_NullHandicapIsOneKey(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	err := s.InTx(ctx, func(w Writer) error {
		return w.UpsertOutcomes(ctx, []models.Outcome{
			{MarketID: 1, Label: "Over", Price: 1.9},
			{MarketID: 1, Label: "Over", Price: 2.0},
			{MarketID: 1, Label: "Over", Price: 1.7, Handicap: models.Handicap(2.5)},
		})
	})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.Outcomes)
}

func TestGames_Filter(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	seen := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	seed(t, s, seen)

	tests := []struct {
		name string
		f    GameFilter
		want int
	}{
		{"all prematch", GameFilter{}, 1},
		{"live only", GameFilter{Live: true}, 0},
		{"started after kickoff", GameFilter{StartedAfter: ptr(time.Date(2025, 8, 16, 0, 0, 0, 0, time.UTC))}, 0},
		{"seen recently", GameFilter{SeenSince: ptr(seen.Add(-time.Minute))}, 1},
		{"stale", GameFilter{SeenSince: ptr(seen.Add(time.Minute))}, 0},
		{"other league", GameFilter{LeagueIDs: []int64{99}}, 0},
		{"after id", GameFilter{AfterID: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games, err := s.Games(ctx, tt.f)
			require.NoError(t, err)
			require.Len(t, games, tt.want)
		})
	}
}

func TestLiveMetaByLsIDs(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	require.NoError(t, s.UpsertLiveMeta(ctx, []models.LiveMeta{
		{ProviderKey: "statscore:ls:555", Provider: "statscore", ProviderLsID: "555", StatusName: "1st half"},
		{ProviderKey: "statscore:ls:556", Provider: "statscore", ProviderLsID: "556"},
	}))

	got, err := s.LiveMetaByLsIDs(ctx, "statscore", []string{"555", "404"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1st half", got["555"].StatusName)
}

func ptr[T any](v T) *T { return &v }
