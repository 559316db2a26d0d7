// Package scheduler implements the wall-clock-aligned interval scheduler
// shared by every periodic subsystem (device polling, control cycles,
// logging flush/sync, retention, heartbeat, health monitoring — spec
// §4.2). There is no example repo or ecosystem package that models
// aligned-boundary firing with skip-and-drift semantics, so this is
// hand-rolled; the goroutine+timer+done-channel shape follows
// infrastructure/state.MemoryBackend cleanup loop (see DESIGN.md).
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/volteria/controller-core/internal/model"
)

// clockJumpThreshold is the forward-jump magnitude past which the schedule
// re-aligns instead of accumulating drift.
const clockJumpThreshold = 30 * time.Second

// Callback is invoked on every fired boundary. name and scheduler-internal
// bookkeeping are available via the Scheduler itself, not passed in.
type Callback func(ctx context.Context) error

// Stats is a point-in-time snapshot of the scheduler's own drift metrics:
// execution count, cumulative drift, last drift, skipped count, last
// execution duration.
type Stats struct {
	Executions      int64
	CumulativeDrift time.Duration
	LastDriftMS     int64
	Skipped         int64
	LastDuration    time.Duration
}

// Scheduler fires Callback on exact wall-clock multiples of Interval.
type Scheduler struct {
	name     string
	interval time.Duration
	fn       Callback

	executions      atomic.Int64
	cumulativeDrift atomic.Int64 // nanoseconds
	lastDriftMS     atomic.Int64
	skipped         atomic.Int64
	lastDuration    atomic.Int64 // nanoseconds

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Scheduler. It does not start firing until Start is called.
func New(name string, interval time.Duration, fn Callback) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		fn:       fn,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start aligns the first fire to the next wall-clock multiple of Interval
// and runs until ctx is canceled or Stop is called. It blocks the calling
// goroutine; run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)

	next := s.alignNext(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-timer.C:
			next = s.fire(ctx, next, now)
			timer.Reset(time.Until(next))
		}
	}
}

// alignNext returns the next wall-clock multiple of the interval strictly
// after now.
func (s *Scheduler) alignNext(now time.Time) time.Time {
	period := s.interval.Seconds()
	aligned := model.Align(now, period)
	next := aligned.Add(s.interval)
	for !next.After(now) {
		next = next.Add(s.interval)
	}
	return next
}

// fire runs the callback for boundary `scheduled`, then computes the next
// boundary: skipping any that have already elapsed and re-aligning without drift accumulation on a clock jump
// of more than clockJumpThreshold.
func (s *Scheduler) fire(ctx context.Context, scheduled, now time.Time) time.Time {
	drift := now.Sub(scheduled)

	jumped := drift > clockJumpThreshold
	if !jumped {
		s.cumulativeDrift.Add(int64(drift))
		s.lastDriftMS.Store(drift.Milliseconds())
	}

	start := time.Now()
	// A panic or error from fn must not prevent the next boundary from
	// being scheduled.
	func() {
		defer func() { _ = recover() }()
		_ = s.fn(ctx)
	}()
	s.lastDuration.Store(int64(time.Since(start)))
	s.executions.Add(1)

	if jumped {
		return s.alignNext(time.Now())
	}

	next := scheduled.Add(s.interval)
	nowAfterRun := time.Now()
	for !next.After(nowAfterRun) {
		next = next.Add(s.interval)
		s.skipped.Add(1)
	}
	return next
}

// Stop halts the scheduler; Start returns once the current fire (if any)
// completes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Name returns the scheduler's identifying name, used in metrics labels.
func (s *Scheduler) Name() string { return s.name }

// Snapshot returns the current metrics.
func (s *Scheduler) Snapshot() Stats {
	return Stats{
		Executions:      s.executions.Load(),
		CumulativeDrift: time.Duration(s.cumulativeDrift.Load()),
		LastDriftMS:     s.lastDriftMS.Load(),
		Skipped:         s.skipped.Load(),
		LastDuration:    time.Duration(s.lastDuration.Load()),
	}
}
