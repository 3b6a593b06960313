// Package jobs runs the reconciliation loops that keep orders, payouts and
// community balances consistent with the Lightning node: expiry sweeps,
// payout retries, earnings rollups, invoice watching and reporting.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one periodic task. Exactly one of Interval or Cron is set.
type Job struct {
	Name     string
	Interval time.Duration
	Cron     string
	Run      func(ctx context.Context) error
}

// Runner runs every job on its own schedule until the context is cancelled.
type Runner struct {
	jobs   []Job
	logger *slog.Logger
}

// NewRunner creates a Runner. Jobs with neither an interval nor a cron
// expression are dropped with a warning.
func NewRunner(logger *slog.Logger, jobs ...Job) *Runner {
	r := &Runner{logger: logger.With(slog.String("component", "jobs"))}
	for _, j := range jobs {
		if j.Interval <= 0 && j.Cron == "" {
			r.logger.Warn("job disabled, no schedule", slog.String("job", j.Name))
			continue
		}
		r.jobs = append(r.jobs, j)
	}
	return r
}

// Jobs returns the names of the scheduled jobs.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Run starts all jobs as concurrent goroutines. A failing run is logged and
// retried on the next tick; Run only returns an error for a malformed cron
// expression.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("job runner starting", slog.Any("jobs", r.Jobs()))

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range r.jobs {
		g.Go(func() error {
			var err error
			if j.Cron != "" {
				err = r.runCron(ctx, j)
			} else {
				err = r.runTicker(ctx, j)
			}
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("job %s: %w", j.Name, err)
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("job runner stopped with error", slog.String("error", err.Error()))
		return err
	}
	r.logger.Info("job runner stopped cleanly")
	return nil
}

func (r *Runner) runOnce(ctx context.Context, j Job) {
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		r.logger.ErrorContext(ctx, "job run failed",
			slog.String("job", j.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.DebugContext(ctx, "job run complete",
		slog.String("job", j.Name),
		slog.Duration("took", time.Since(start)),
	)
}

func (r *Runner) runTicker(ctx context.Context, j Job) error {
	r.logger.Info("starting job loop",
		slog.String("job", j.Name),
		slog.Duration("interval", j.Interval),
	)
	r.runOnce(ctx, j)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx, j)
		}
	}
}

func (r *Runner) runCron(ctx context.Context, j Job) error {
	sched, err := parseCron(j.Cron)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", j.Cron, err)
	}
	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return err
		}
		r.logger.Info("job waiting for next cron trigger",
			slog.String("job", j.Name),
			slog.Time("next_run", next),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.runOnce(ctx, j)
		}
	}
}
