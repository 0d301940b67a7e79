package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

const taskColumns = `id, source, task, external_id, status, priority, not_before_at, locked_at,
	COALESCE(lock_owner, ''), attempts, COALESCE(last_error, ''), last_success_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (models.ScrapeTask, error) {
	var t models.ScrapeTask
	var notBefore, lockedAt, lastSuccess pq.NullTime
	err := r.Scan(&t.ID, &t.Source, &t.Task, &t.ExternalID, &t.Status, &t.Priority,
		&notBefore, &lockedAt, &t.LockOwner, &t.Attempts, &t.LastError, &lastSuccess,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.NotBeforeAt = timePtr(notBefore)
	t.LockedAt = timePtr(lockedAt)
	t.LastSuccessAt = timePtr(lastSuccess)
	return t, nil
}

func timePtr(v pq.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func scanTasks(rows *sql.Rows) ([]models.ScrapeTask, error) {
	defer rows.Close()
	var out []models.ScrapeTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Enqueue upserts by (source, task, external_id) without resetting state.
func (s *PostgresStore) Enqueue(ctx context.Context, reqs []models.EnqueueRequest) error {
	reqs = mergeEnqueue(reqs)
	return execChunked(ctx, s.db, "upsertScrapeQueue", reqs, []string{"text", "text", "text", "integer"},
		func(values string) string {
			return `INSERT INTO scrape_queue (source, task, external_id, priority)
			SELECT v.source, v.task, v.external_id, v.priority
			FROM (VALUES ` + values + `) AS v(source, task, external_id, priority)
			WHERE true
			ON CONFLICT (source, task, external_id) DO UPDATE SET
				priority = GREATEST(scrape_queue.priority, EXCLUDED.priority),
				updated_at = NOW()`
		},
		func(r models.EnqueueRequest) []any {
			return []any{s.source, string(r.Payload.Kind()), r.Payload.ExternalID(), r.Priority}
		})
}

// Claim leases tasks with a single UPDATE over a SKIP LOCKED subselect, so
// concurrent claimers never receive the same row.
func (s *PostgresStore) Claim(ctx context.Context, kind models.TaskKind, limit int, owner string) ([]models.ScrapeTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
	UPDATE scrape_queue SET
		status = 'leased',
		locked_at = NOW(),
		lock_owner = $4,
		attempts = attempts + 1,
		updated_at = NOW()
	WHERE id IN (
		SELECT id FROM scrape_queue
		WHERE source = $1 AND task = $2 AND (
			(status = 'pending' AND (not_before_at IS NULL OR not_before_at <= NOW()))
			OR (status = 'leased' AND locked_at < NOW() - make_interval(secs => $5))
		)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	RETURNING `+taskColumns,
		s.source, string(kind), limit, owner, s.leaseTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim_scrape_tasks failed: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

// sortTasks orders by priority desc, then created_at and id asc.
func sortTasks(tasks []models.ScrapeTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (s *PostgresStore) Complete(ctx context.Context, owner string, ids []int64, notBefore time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
	UPDATE scrape_queue SET
		status = 'pending',
		not_before_at = $2,
		locked_at = NULL,
		lock_owner = NULL,
		attempts = 0,
		last_error = NULL,
		last_success_at = NOW(),
		updated_at = NOW()
	WHERE id = ANY($1) AND ($3 = '' OR (status = 'leased' AND lock_owner = $3))`,
		pq.Array(ids), notBefore.UTC(), owner)
	if err != nil {
		return fmt.Errorf("updateScrapeTask batch failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, owner string, id int64, notBefore time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE scrape_queue SET
		status = 'pending',
		not_before_at = $2,
		locked_at = NULL,
		lock_owner = NULL,
		last_error = $3,
		updated_at = NOW()
	WHERE id = $1 AND ($4 = '' OR (status = 'leased' AND lock_owner = $4))`,
		id, notBefore.UTC(), lastErr, owner)
	if err != nil {
		return fmt.Errorf("updateScrapeTask failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE scrape_queue SET status = 'pending', locked_at = NULL, lock_owner = NULL, updated_at = NOW()
	WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFoundError("task")
	}
	return nil
}

func (s *PostgresStore) UnstickNeverSucceeded(ctx context.Context, kind models.TaskKind, horizon time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE scrape_queue SET not_before_at = NULL, updated_at = NOW()
	WHERE source = $1 AND task = $2 AND status = 'pending'
		AND last_success_at IS NULL AND not_before_at > $3`,
		s.source, string(kind), horizon.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s unstick failed: %w", kind, err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Expedite(ctx context.Context, kind models.TaskKind, includeLeased bool) (int64, error) {
	query := `
	UPDATE scrape_queue SET status = 'pending', not_before_at = NULL, locked_at = NULL, lock_owner = NULL, updated_at = NOW()
	WHERE source = $1 AND task = $2 AND status = 'pending' AND not_before_at > NOW()`
	if includeLeased {
		query = `
		UPDATE scrape_queue SET status = 'pending', not_before_at = NULL, locked_at = NULL, lock_owner = NULL, updated_at = NOW()
		WHERE source = $1 AND task = $2`
	}
	res, err := s.db.ExecContext(ctx, query, s.source, string(kind))
	if err != nil {
		return 0, fmt.Errorf("%s expedite failed: %w", kind, err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) SoonestGate(ctx context.Context, kind models.TaskKind) (*time.Time, error) {
	var nb pq.NullTime
	err := s.db.QueryRowContext(ctx, `
	SELECT MIN(not_before_at) FROM scrape_queue
	WHERE source = $1 AND task = $2 AND status = 'pending' AND not_before_at > NOW()`,
		s.source, string(kind)).Scan(&nb)
	if err != nil {
		return nil, fmt.Errorf("%s min not_before_at check failed: %w", kind, err)
	}
	return timePtr(nb), nil
}

func (s *PostgresStore) CountTasks(ctx context.Context, kind models.TaskKind) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scrape_queue WHERE source = $1 AND task = $2`, s.source, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s existence check failed: %w", kind, err)
	}
	return n, nil
}

func (s *PostgresStore) Peek(ctx context.Context, kind models.TaskKind, limit int) ([]models.ScrapeTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scrape_queue
	WHERE source = $1 AND task = $2
	ORDER BY priority DESC, created_at ASC, id ASC
	LIMIT $3`, s.source, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("peek failed: %w", err)
	}
	return scanTasks(rows)
}

func (s *PostgresStore) GetTask(ctx context.Context, kind models.TaskKind, externalID string) (*models.ScrapeTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scrape_queue
	WHERE source = $1 AND task = $2 AND external_id = $3`, s.source, string(kind), externalID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundError("task")
	}
	if err != nil {
		return nil, fmt.Errorf("get task failed: %w", err)
	}
	return &t, nil
}
