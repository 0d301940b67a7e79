package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/interfaces"
	"github.com/Vodeneev/tounesbet/internal/pkg/parserutil"
)

// Per-trigger batch sizes.
const (
	fastDiscoveryBatch  = 4
	fastHourlyBatch     = 5
	sweepHourlyBatch    = 8
	hourlyHourlyBatch   = 12
	sweepDiscoveryBatch = 5
)

// step is one crawl call of a scheduled job.
type step func(ctx context.Context) error

// job runs its steps in order. A failed step is logged and the next one
// still runs.
type job struct {
	name   string
	steps  []step
	logger *slog.Logger
}

func (j *job) Name() string { return j.name }

func (j *job) Run(ctx context.Context) error {
	var firstErr error
	for _, st := range j.steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := st(ctx); err != nil {
			j.logger.Warn("scheduled step failed", "job", j.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Jobs returns the scheduled jobs keyed by cron spec.
func (s *Service) Jobs(cfg config.SchedulerConfig) map[string][]interfaces.Job {
	discover := func(n int) step {
		return func(ctx context.Context) error { _, err := s.Discover(ctx, n); return err }
	}
	hourly := func(n int) step {
		return func(ctx context.Context) error { _, err := s.Hourly(ctx, n); return err }
	}
	live := func(ctx context.Context) error { _, err := s.Live(ctx); return err }

	mk := func(name string, steps ...step) interfaces.Job {
		return &job{name: name, steps: steps, logger: s.logger}
	}
	jobs := make(map[string][]interfaces.Job)
	add := func(spec string, j interfaces.Job) { jobs[spec] = append(jobs[spec], j) }

	add(cfg.LiveSpec, mk("live", live))
	add(cfg.FastSpec, mk("fast", discover(fastDiscoveryBatch), hourly(fastHourlyBatch)))
	add(cfg.SweepSpec, mk("sweep", hourly(sweepHourlyBatch)))
	add(cfg.HourlySpec, mk("hourly", hourly(hourlyHourlyBatch)))
	add(cfg.DiscoverySpec, mk("discovery", discover(sweepDiscoveryBatch)))
	return jobs
}

// Scheduler triggers crawl jobs on cron specs. Overlapping runs of the same
// job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []interfaces.Job
	timeout time.Duration
	logger  *slog.Logger
	ctx     context.Context // parent of every run, set by Start
}

// NewScheduler registers every job of s under its spec.
func NewScheduler(s *Service, cfg config.SchedulerConfig, timeout time.Duration) (*Scheduler, error) {
	logger := s.logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	sch := &Scheduler{cron: c, timeout: timeout, logger: logger, ctx: context.Background()}
	for spec, jobs := range s.Jobs(cfg) {
		for _, j := range jobs {
			if _, err := c.AddJob(spec, sch.wrap(j)); err != nil {
				return nil, fmt.Errorf("invalid schedule %q for job %s: %w", spec, j.Name(), err)
			}
			sch.jobs = append(sch.jobs, j)
		}
	}
	return sch, nil
}

// Start kicks every job once in the background and starts the cron. The
// cron stops when ctx is done, and running jobs see ctx cancelled.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.ctx = ctx
	parserutil.RunJobs(ctx, sch.jobs, parserutil.RunOptions{
		LogStart: true,
		OnError: func(j interfaces.Job, err error) {
			sch.logger.Warn("initial run failed", "job", j.Name(), "error", err)
		},
	})
	sch.cron.Start()
	sch.logger.Info("scheduler started", "jobs", len(sch.jobs))
	go func() {
		<-ctx.Done()
		<-sch.cron.Stop().Done()
		sch.logger.Info("scheduler stopped")
	}()
}

func (sch *Scheduler) wrap(j interfaces.Job) cron.Job {
	return cron.FuncJob(func() {
		ctx := sch.ctx
		if ctx.Err() != nil {
			return
		}
		if sch.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, sch.timeout)
			defer cancel()
		}
		if err := j.Run(ctx); err != nil {
			sch.logger.Warn("scheduled job failed", "job", j.Name(), "error", err)
		}
	})
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
