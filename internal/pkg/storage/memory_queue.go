package storage

import (
	"context"
	"time"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

func taskKey(kind models.TaskKind, externalID string) string {
	return string(kind) + "|" + externalID
}

func (m *MemoryStore) Enqueue(_ context.Context, reqs []models.EnqueueRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for _, r := range mergeEnqueue(reqs) {
		k := taskKey(r.Payload.Kind(), r.Payload.ExternalID())
		if id, ok := m.st.taskKeys[k]; ok {
			t := m.st.tasks[id]
			t.Priority = max(t.Priority, r.Priority)
			t.UpdatedAt = now
			continue
		}
		id := m.st.next("scrape_queue")
		m.st.tasks[id] = &models.ScrapeTask{
			ID:         id,
			Source:     m.source,
			Task:       r.Payload.Kind(),
			ExternalID: r.Payload.ExternalID(),
			Status:     models.StatusPending,
			Priority:   r.Priority,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.st.taskKeys[k] = id
	}
	return nil
}

func (m *MemoryStore) runnable(t *models.ScrapeTask, now time.Time) bool {
	switch t.Status {
	case models.StatusPending:
		return t.NotBeforeAt == nil || !t.NotBeforeAt.After(now)
	case models.StatusLeased:
		return t.LockedAt != nil && t.LockedAt.Before(now.Add(-m.leaseTTL))
	}
	return false
}

func (m *MemoryStore) Claim(_ context.Context, kind models.TaskKind, limit int, owner string) ([]models.ScrapeTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	var candidates []models.ScrapeTask
	for _, t := range m.st.tasks {
		if t.Task == kind && m.runnable(t, now) {
			candidates = append(candidates, *t)
		}
	}
	sortTasks(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]models.ScrapeTask, 0, len(candidates))
	for _, c := range candidates {
		t := m.st.tasks[c.ID]
		t.Status = models.StatusLeased
		t.LockedAt = &now
		t.LockOwner = owner
		t.Attempts++
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

// heldBy reports whether t may be settled by owner.
func heldBy(t *models.ScrapeTask, owner string) bool {
	return owner == "" || (t.Status == models.StatusLeased && t.LockOwner == owner)
}

func (m *MemoryStore) Complete(_ context.Context, owner string, ids []int64, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	nb := notBefore.UTC()
	for _, id := range ids {
		t, ok := m.st.tasks[id]
		if !ok || !heldBy(t, owner) {
			continue
		}
		t.Status = models.StatusPending
		t.NotBeforeAt = &nb
		t.LockedAt = nil
		t.LockOwner = ""
		t.Attempts = 0
		t.LastError = ""
		t.LastSuccessAt = &now
		t.UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, owner string, id int64, notBefore time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.st.tasks[id]
	if !ok || !heldBy(t, owner) {
		return nil
	}
	nb := notBefore.UTC()
	t.Status = models.StatusPending
	t.NotBeforeAt = &nb
	t.LockedAt = nil
	t.LockOwner = ""
	t.LastError = lastErr
	t.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) Release(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.st.tasks[id]
	if !ok {
		return models.NotFoundError("task")
	}
	t.Status = models.StatusPending
	t.LockedAt = nil
	t.LockOwner = ""
	t.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) UnstickNeverSucceeded(_ context.Context, kind models.TaskKind, horizon time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.st.tasks {
		if t.Task != kind || t.Status != models.StatusPending || t.LastSuccessAt != nil {
			continue
		}
		if t.NotBeforeAt != nil && t.NotBeforeAt.After(horizon) {
			t.NotBeforeAt = nil
			t.UpdatedAt = m.now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Expedite(_ context.Context, kind models.TaskKind, includeLeased bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	var n int64
	for _, t := range m.st.tasks {
		if t.Task != kind {
			continue
		}
		gated := t.Status == models.StatusPending && t.NotBeforeAt != nil && t.NotBeforeAt.After(now)
		if !gated && !includeLeased {
			continue
		}
		t.Status = models.StatusPending
		t.NotBeforeAt = nil
		t.LockedAt = nil
		t.LockOwner = ""
		t.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemoryStore) SoonestGate(_ context.Context, kind models.TaskKind) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	var soonest *time.Time
	for _, t := range m.st.tasks {
		if t.Task != kind || t.Status != models.StatusPending || t.NotBeforeAt == nil || !t.NotBeforeAt.After(now) {
			continue
		}
		if soonest == nil || t.NotBeforeAt.Before(*soonest) {
			nb := *t.NotBeforeAt
			soonest = &nb
		}
	}
	return soonest, nil
}

func (m *MemoryStore) CountTasks(_ context.Context, kind models.TaskKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.st.tasks {
		if t.Task == kind {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Peek(_ context.Context, kind models.TaskKind, limit int) ([]models.ScrapeTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScrapeTask
	for _, t := range m.st.tasks {
		if t.Task == kind {
			out = append(out, *t)
		}
	}
	sortTasks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetTask(_ context.Context, kind models.TaskKind, externalID string) (*models.ScrapeTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.st.taskKeys[taskKey(kind, externalID)]
	if !ok {
		return nil, models.NotFoundError("task")
	}
	t := *m.st.tasks[id]
	return &t, nil
}
