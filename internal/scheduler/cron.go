package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
)

// CronRunner wraps robfig/cron for the controller's calendar-cadence jobs
// calls out as distinct from the wall-clock-aligned Scheduler: the hourly
// OTA availability check (the hourly retention/VACUUM pass runs on a
// Scheduler instead). These are
// "once an hour" jobs, not drift-sensitive multiples of a sub-minute
// interval, so they don't need Scheduler's alignment/skip machinery.
type CronRunner struct {
	c *cron.Cron
}

// NewCronRunner builds a CronRunner using standard 5-field cron syntax.
func NewCronRunner() *CronRunner {
	return &CronRunner{c: cron.New()}
}

// AddHourly schedules fn to run at the top of every hour.
func (r *CronRunner) AddHourly(ctx context.Context, fn func(ctx context.Context) error) (cron.EntryID, error) {
	return r.c.AddFunc("0 * * * *", func() { _ = fn(ctx) })
}

// AddSpec schedules fn on an arbitrary cron spec.
func (r *CronRunner) AddSpec(ctx context.Context, spec string, fn func(ctx context.Context) error) (cron.EntryID, error) {
	return r.c.AddFunc(spec, func() { _ = fn(ctx) })
}

// Start begins running scheduled jobs in the background.
func (r *CronRunner) Start() { r.c.Start() }

// Stop halts the cron scheduler and waits for any running job to finish.
func (r *CronRunner) Stop() {
	<-r.c.Stop().Done()
}
