package interfaces

import "context"

// Job is one unit of scheduled scrape work.
type Job interface {
	// Name identifies the job in logs and metrics.
	Name() string

	// Run performs one invocation; it must return when ctx is cancelled.
	Run(ctx context.Context) error
}
