package storage

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

var _ Store = (*MemoryStore)(nil)

var errMissingMarket = errors.New("outcome without market_id")

type memState struct {
	seq      map[string]int64
	sports   map[string]models.Sport
	leagues  map[string]models.League
	games    map[string]models.Game
	markets  map[string]models.Market
	outcomes map[string]models.Outcome // by outcomeKey
	liveMeta map[string]models.LiveMeta
	tasks    map[int64]*models.ScrapeTask
	taskKeys map[string]int64
}

func newMemState() *memState {
	return &memState{
		seq:      make(map[string]int64),
		sports:   make(map[string]models.Sport),
		leagues:  make(map[string]models.League),
		games:    make(map[string]models.Game),
		markets:  make(map[string]models.Market),
		outcomes: make(map[string]models.Outcome),
		liveMeta: make(map[string]models.LiveMeta),
		tasks:    make(map[int64]*models.ScrapeTask),
		taskKeys: make(map[string]int64),
	}
}

// clone copies the entity tables. Tasks are shared; writers never touch them.
func (s *memState) clone() *memState {
	return &memState{
		seq:      maps.Clone(s.seq),
		sports:   maps.Clone(s.sports),
		leagues:  maps.Clone(s.leagues),
		games:    maps.Clone(s.games),
		markets:  maps.Clone(s.markets),
		outcomes: maps.Clone(s.outcomes),
		liveMeta: s.liveMeta,
		tasks:    s.tasks,
		taskKeys: s.taskKeys,
	}
}

func (s *memState) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// MemoryStore is a process-local Store used by tests and dry runs. All
// operations hold one mutex, so claims are exclusive.
type MemoryStore struct {
	mu       sync.Mutex
	st       *memState
	source   string
	leaseTTL time.Duration
	now      func() time.Time
}

func NewMemoryStore(leaseTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		st:       newMemState(),
		source:   models.Source,
		leaseTTL: leaseTTL,
		now:      time.Now,
	}
}

// InTx applies fn to a copy of the state and swaps it in when fn succeeds.
func (m *MemoryStore) InTx(ctx context.Context, fn func(Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := m.st.clone()
	if err := fn(&memWriter{st: staged, source: m.source, now: m.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.st = staged
	return nil
}

type memWriter struct {
	st     *memState
	source string
	now    func() time.Time
}

func (w *memWriter) UpsertSports(_ context.Context, rows []models.Sport) error {
	for _, r := range rows {
		cur, ok := w.st.sports[r.ExternalID]
		if !ok {
			cur = models.Sport{ID: w.st.next("sports"), Source: w.source, ExternalID: r.ExternalID}
		}
		cur.Key, cur.Name = r.Key, r.Name
		w.st.sports[r.ExternalID] = cur
	}
	return nil
}

func (w *memWriter) SportIDs(_ context.Context, ids []string) (map[string]int64, error) {
	return idsOf(w.st.sports, ids, func(s models.Sport) int64 { return s.ID }), nil
}

func (w *memWriter) UpsertLeagues(_ context.Context, rows []models.League) error {
	for _, r := range rows {
		cur, ok := w.st.leagues[r.ExternalID]
		if !ok {
			cur = models.League{ID: w.st.next("leagues"), Source: w.source, ExternalID: r.ExternalID}
		}
		if r.SportID != 0 {
			cur.SportID = r.SportID
		}
		cur.Name = r.Name
		w.st.leagues[r.ExternalID] = cur
	}
	return nil
}

func (w *memWriter) LeagueIDs(_ context.Context, ids []string) (map[string]int64, error) {
	return idsOf(w.st.leagues, ids, func(l models.League) int64 { return l.ID }), nil
}

func (w *memWriter) UpsertGames(_ context.Context, rows []models.Game) error {
	for _, r := range rows {
		cur, ok := w.st.games[r.ExternalID]
		if !ok {
			cur = models.Game{ID: w.st.next("games"), Source: w.source, ExternalID: r.ExternalID}
		}
		if r.LeagueID != 0 {
			cur.LeagueID = r.LeagueID
		}
		cur.HomeTeam, cur.AwayTeam = r.HomeTeam, r.AwayTeam
		cur.StartTime = r.StartTime.UTC()
		cur.Live = r.Live
		cur.LastSeenAt = r.LastSeenAt.UTC()
		if r.LastSeenAt.IsZero() {
			cur.LastSeenAt = w.now().UTC()
		}
		w.st.games[r.ExternalID] = cur
	}
	return nil
}

func (w *memWriter) GameIDs(_ context.Context, ids []string) (map[string]int64, error) {
	return idsOf(w.st.games, ids, func(g models.Game) int64 { return g.ID }), nil
}

func (w *memWriter) UpsertMarkets(_ context.Context, rows []models.Market) error {
	for _, r := range rows {
		cur, ok := w.st.markets[r.ExternalID]
		if !ok {
			cur = models.Market{ID: w.st.next("markets"), Source: w.source, ExternalID: r.ExternalID}
		}
		if r.GameID != 0 {
			cur.GameID = r.GameID
		}
		cur.Key, cur.Name = r.Key, r.Name
		w.st.markets[r.ExternalID] = cur
	}
	return nil
}

func (w *memWriter) MarketIDs(_ context.Context, ids []string) (map[string]int64, error) {
	return idsOf(w.st.markets, ids, func(m models.Market) int64 { return m.ID }), nil
}

func (w *memWriter) UpsertOutcomes(_ context.Context, rows []models.Outcome) error {
	for _, r := range rows {
		if r.MarketID == 0 {
			return &models.PersistError{Op: "upsertOutcomes", Err: errMissingMarket}
		}
		k := outcomeKey(r.MarketID, r.Label, r.Handicap)
		cur, ok := w.st.outcomes[k]
		if !ok {
			cur = models.Outcome{ID: w.st.next("outcomes"), Source: w.source,
				MarketID: r.MarketID, Label: r.Label, Handicap: r.Handicap}
		}
		cur.ExternalID, cur.Price = r.ExternalID, r.Price
		w.st.outcomes[k] = cur
	}
	return nil
}

func idsOf[T any](table map[string]T, ids []string, id func(T) int64) map[string]int64 {
	out := make(map[string]int64, len(ids))
	for _, ext := range ids {
		if row, ok := table[ext]; ok {
			out[ext] = id(row)
		}
	}
	return out
}

func (m *MemoryStore) UpsertLiveMeta(_ context.Context, rows []models.LiveMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.st.liveMeta[r.ProviderKey] = r
	}
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{
		Sports:   int64(len(m.st.sports)),
		Leagues:  int64(len(m.st.leagues)),
		Games:    int64(len(m.st.games)),
		Markets:  int64(len(m.st.markets)),
		Outcomes: int64(len(m.st.outcomes)),
		LiveMeta: int64(len(m.st.liveMeta)),
		Queue:    make(map[string]map[string]int64),
	}
	for _, t := range m.st.tasks {
		if st.Queue[string(t.Task)] == nil {
			st.Queue[string(t.Task)] = make(map[string]int64)
		}
		st.Queue[string(t.Task)][string(t.Status)]++
	}
	return st, nil
}

func (m *MemoryStore) Close() error { return nil }

// Reader

func (m *MemoryStore) SportByKey(_ context.Context, key string) (*models.Sport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Sport
	for _, s := range m.st.sports {
		if s.Key == key && (found == nil || s.ID < found.ID) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, models.NotFoundError("sport")
	}
	return found, nil
}

func (m *MemoryStore) LeaguesBySport(_ context.Context, sportID int64) ([]models.League, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.League
	for _, l := range m.st.leagues {
		if l.SportID == sportID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b models.League) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) Games(_ context.Context, f GameFilter) ([]models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Game
	for _, g := range m.st.games {
		if g.Live != f.Live || g.ID <= f.AfterID {
			continue
		}
		if len(f.LeagueIDs) > 0 && !slices.Contains(f.LeagueIDs, g.LeagueID) {
			continue
		}
		if f.StartedAfter != nil && g.StartTime.Before(*f.StartedAfter) {
			continue
		}
		if f.SeenSince != nil && g.LastSeenAt.Before(*f.SeenSince) {
			continue
		}
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b models.Game) int { return cmp.Compare(a.ID, b.ID) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GameByExternalID(_ context.Context, externalID string) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.st.games[externalID]
	if !ok {
		return nil, models.NotFoundError("game")
	}
	return &g, nil
}

func (m *MemoryStore) MarketsForGames(_ context.Context, gameIDs []int64, key string) ([]models.MarketWithOutcomes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MarketWithOutcomes
	index := make(map[int64]int)
	for _, mk := range m.st.markets {
		if !slices.Contains(gameIDs, mk.GameID) || (key != "" && mk.Key != key) {
			continue
		}
		out = append(out, models.MarketWithOutcomes{Market: mk})
	}
	slices.SortFunc(out, func(a, b models.MarketWithOutcomes) int { return cmp.Compare(a.ID, b.ID) })
	for i, mk := range out {
		index[mk.ID] = i
	}

	var outcomes []models.Outcome
	for _, o := range m.st.outcomes {
		if _, ok := index[o.MarketID]; ok {
			outcomes = append(outcomes, o)
		}
	}
	slices.SortFunc(outcomes, func(a, b models.Outcome) int { return cmp.Compare(a.ID, b.ID) })
	for _, o := range outcomes {
		i := index[o.MarketID]
		out[i].Outcomes = append(out[i].Outcomes, o)
	}
	return out, nil
}

func (m *MemoryStore) LiveMetaByLsIDs(_ context.Context, provider string, lsIDs []string) (map[string]models.LiveMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.LiveMeta)
	for _, lm := range m.st.liveMeta {
		if lm.Provider == provider && slices.Contains(lsIDs, lm.ProviderLsID) {
			out[lm.ProviderLsID] = lm
		}
	}
	return out, nil
}
