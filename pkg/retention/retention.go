// Package retention removes finished executions once they are older than the retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Deleter removes executions completed before a cutoff and reports how many were removed.
type Deleter interface {
	DeleteExecutionsBefore(ctx context.Context, before time.Time) (int, error)
}

// Job runs the purge on a cron schedule.
type Job struct {
	deleter  Deleter
	schedule string
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cron *cron.Cron
}

func NewJob(deleter Deleter, schedule string, maxAge time.Duration, logger *slog.Logger) (*Job, error) {
	if schedule == "" {
		return nil, errors.New("retention schedule is required")
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule: %w", err)
	}

	if maxAge <= 0 {
		return nil, fmt.Errorf("retention window must be positive, got %s", maxAge)
	}

	return &Job{
		deleter:  deleter,
		schedule: schedule,
		maxAge:   maxAge,
		logger:   logger.With("module", "retention"),
		now:      time.Now,
	}, nil
}

// Start schedules the purge. Runs never overlap.
func (j *Job) Start(ctx context.Context) error {
	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.Purge(ctx); err != nil {
			j.logger.ErrorContext(ctx, "Retention purge failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add retention job: %w", err)
	}

	j.logger.InfoContext(ctx, "Starting retention job", "id", id, "schedule", j.schedule, "max_age", j.maxAge)
	j.cron.Start()

	return nil
}

// Purge deletes every execution completed before now minus the retention window.
func (j *Job) Purge(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.maxAge)

	deleted, err := j.deleter.DeleteExecutionsBefore(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete executions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		j.logger.InfoContext(ctx, "Purged expired executions", "deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}

// Stop waits for a running purge to finish.
func (j *Job) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}

	j.logger.InfoContext(ctx, "Stopping retention job")

	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}
