package parserutil

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Vodeneev/tounesbet/internal/pkg/interfaces"
)

// RunOptions configures how jobs should be run
type RunOptions struct {
	// LogStart logs when each job starts
	LogStart bool
	// OnError is called when a job returns an error. If nil, errors are logged.
	OnError func(j interfaces.Job, err error)
	// WaitForCompletion when true blocks until all jobs finish.
	// When false, RunJobs returns immediately and the caller must not cancel the context until jobs are done.
	WaitForCompletion bool
}

// RunJobs runs all jobs in parallel
func RunJobs(ctx context.Context, jobs []interfaces.Job, opts RunOptions) {
	if len(jobs) == 0 {
		return
	}

	onError := opts.OnError
	if onError == nil {
		onError = func(j interfaces.Job, err error) {
			slog.Error("Job failed", "job", j.Name(), "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if opts.LogStart {
				slog.Info("Starting job", "job", j.Name())
			}
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				onError(j, err)
			}
		}()
	}

	if opts.WaitForCompletion {
		wg.Wait()
	}
}

// RunBatch calls fn for every item with at most limit calls in flight and
// returns the per-item errors, aligned with items. A failing item never
// cancels its siblings.
func RunBatch[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	if limit <= 0 {
		limit = len(items)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
