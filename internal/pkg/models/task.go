package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskKind tags a scrape queue row.
type TaskKind string

const (
	TaskCatalogPage TaskKind = "prematch_catalog_page"
	Task1x2         TaskKind = "prematch_1x2"
	TaskFullMarkets TaskKind = "prematch_full_markets"
)

// TaskStatus is the lease state of a queue row.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusLeased  TaskStatus = "leased"
)

// ScrapeTask is a durable work item. Rows are never deleted; they cycle
// between pending and leased forever.
type ScrapeTask struct {
	ID            int64      `json:"id"`
	Source        string     `json:"source"`
	Task          TaskKind   `json:"task"`
	ExternalID    string     `json:"external_id"`
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	NotBeforeAt   *time.Time `json:"not_before_at"`
	LockedAt      *time.Time `json:"locked_at"`
	LockOwner     string     `json:"lock_owner"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Payload decodes the row's external id into its typed payload.
func (t ScrapeTask) Payload() (TaskPayload, error) {
	return DecodePayload(t.Task, t.ExternalID)
}

// TaskPayload is the typed content of a queue row. It is encoded into
// external_id only at the storage boundary.
type TaskPayload interface {
	Kind() TaskKind
	ExternalID() string
}

// CatalogPagePayload addresses one page of a sport match list.
type CatalogPagePayload struct {
	SportID        string
	BetRangeFilter string
	Page           int
	EmptyStreak    int
}

func (p CatalogPagePayload) Kind() TaskKind { return TaskCatalogPage }

func (p CatalogPagePayload) ExternalID() string {
	return fmt.Sprintf("%s:%s:%d:%d", p.SportID, p.BetRangeFilter, p.Page, p.EmptyStreak)
}

// Next returns the payload for the page offset pages ahead.
func (p CatalogPagePayload) Next(offset, emptyStreak int) CatalogPagePayload {
	return CatalogPagePayload{
		SportID:        p.SportID,
		BetRangeFilter: p.BetRangeFilter,
		Page:           p.Page + offset,
		EmptyStreak:    emptyStreak,
	}
}

// MatchPayload addresses a single upstream match.
type MatchPayload struct {
	TaskKind TaskKind
	MatchID  string
}

func (p MatchPayload) Kind() TaskKind     { return p.TaskKind }
func (p MatchPayload) ExternalID() string { return p.MatchID }

// DecodePayload parses a stored external id for the given kind.
// Catalog ids missing trailing parts default to page 1 and streak 0.
func DecodePayload(kind TaskKind, externalID string) (TaskPayload, error) {
	switch kind {
	case TaskCatalogPage:
		return decodeCatalogPage(externalID)
	case Task1x2, TaskFullMarkets:
		id := strings.TrimSpace(externalID)
		if id == "" {
			return nil, fmt.Errorf("%s task: %w", kind, errEmptyExternalID)
		}
		return MatchPayload{TaskKind: kind, MatchID: id}, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}

func decodeCatalogPage(externalID string) (CatalogPagePayload, error) {
	parts := strings.Split(externalID, ":")
	p := CatalogPagePayload{Page: 1}
	if len(parts) > 4 {
		return p, fmt.Errorf("malformed catalog page id %q", externalID)
	}
	p.SportID = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		p.BetRangeFilter = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 && parts[2] != "" {
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return p, fmt.Errorf("malformed catalog page number %q: %w", externalID, err)
		}
		p.Page = n
	}
	if len(parts) > 3 && parts[3] != "" {
		n, err := strconv.Atoi(parts[3])
		if err != nil {
			return p, fmt.Errorf("malformed catalog empty streak %q: %w", externalID, err)
		}
		p.EmptyStreak = n
	}
	if p.SportID == "" {
		return p, fmt.Errorf("catalog page id %q: %w", externalID, errEmptyExternalID)
	}
	return p, nil
}

// EnqueueRequest is an idempotent insert into the queue.
type EnqueueRequest struct {
	Payload  TaskPayload
	Priority int
}
