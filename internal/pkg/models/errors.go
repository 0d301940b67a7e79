package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested entity was never discovered.
	ErrNotFound = errors.New("not_found")
	// ErrRedirectLoop is returned when the anti-bot cookie gate did not resolve within the hop budget.
	ErrRedirectLoop = errors.New("DDOS redirect loop exceeded")
	// ErrBlocked is returned when a catalog page carries an anti-bot page instead of content.
	ErrBlocked = errors.New("blocked matchlist html")
)

// FetchError describes a request that completed with a non-2xx status.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed status=%d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s failed status=%d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError carries the storage operation that failed.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// NotFoundError wraps ErrNotFound with the kind of missing entity.
func NotFoundError(entity string) error {
	return fmt.Errorf("%w:%s", ErrNotFound, entity)
}
