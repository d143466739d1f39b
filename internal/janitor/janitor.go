// Package janitor removes expired resumable jobs on a cron schedule. A job's
// directory holds its snapshot and event log, so deleting the job reclaims
// everything at once.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/backtrue/omakase-app/internal/types"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// Janitor sweeps the job store for jobs past their ExpireAt.
type Janitor struct {
	jobs     types.JobStore
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron
	now      func() time.Time
}

// New creates a Janitor. An empty schedule means DefaultSchedule.
func New(jobs types.JobStore, logger *slog.Logger, schedule string) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Janitor{
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start registers the sweep and starts the cron ticker. It also runs one
// sweep immediately so a restart does not wait an hour to reclaim space.
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("janitor sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	j.cron.Start()

	go func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("janitor initial sweep failed", "error", err)
		}
	}()
	return nil
}

// Stop stops the cron ticker. A sweep already in flight finishes.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// Sweep deletes every job whose ExpireAt has passed and returns how many
// were removed. Jobs without an expiry are kept.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	jobs, err := j.jobs.List(ctx)
	if err != nil {
		return 0, err
	}

	now := j.now()
	removed := 0
	for _, job := range jobs {
		if job.ExpireAt.IsZero() || job.ExpireAt.After(now) {
			continue
		}
		if err := j.jobs.Delete(ctx, job.JobID); err != nil {
			j.logger.Error("janitor delete failed", "job_id", job.JobID, "error", err)
			continue
		}
		removed++
		j.logger.Info("expired job removed", "job_id", job.JobID, "expired_at", job.ExpireAt)
	}
	if removed > 0 {
		j.logger.Info("janitor sweep done", "removed", removed, "remaining", len(jobs)-removed)
	}
	return removed, nil
}
