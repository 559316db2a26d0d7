package cloudsync

import (
	"context"
	"time"

	"github.com/volteria/controller-core/internal/apperr"
	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/logging/store"
)

// uploadBatchSize is the maximum rows posted per cloud request.
const uploadBatchSize = 100

// backfillThreshold is the pending-row count that switches the engine
// into two-phase backfill mode.
const backfillThreshold = 1000

// uploadRetryBackoffs is the per-batch retry schedule on transient cloud
// errors.
var uploadRetryBackoffs = []float64{1, 2, 4}

// cloudBackend is the subset of internal/cloud.Client the engine needs,
// narrowed behind an interface so tests can substitute a fake without
// standing up an HTTP server.
type cloudBackend interface {
	upsertIgnoreDuplicates(ctx context.Context, table string, rows any, onConflict string) error
	resolvedAlarmsSince(ctx context.Context, siteID string, since time.Time) ([]resolvedAlarm, error)
	resolveUpstream(ctx context.Context, siteID, alarmType, deviceID, resolvedAt string) error
}

// clientAdapter wraps *cloud.Client's QueryBuilder chain to satisfy
// cloudBackend.
type clientAdapter struct{ c *cloud.Client }

func (a clientAdapter) upsertIgnoreDuplicates(ctx context.Context, table string, rows any, onConflict string) error {
	return a.c.From(table).OnConflict(onConflict).UpsertIgnoreDuplicates(ctx, rows)
}

func (a clientAdapter) resolvedAlarmsSince(ctx context.Context, siteID string, since time.Time) ([]resolvedAlarm, error) {
	var out []resolvedAlarm
	err := a.c.From("alarms").
		Select("alarm_type,device_id,resolved_at").
		Eq("site_id", siteID).
		Eq("resolved", true).
		Gt("resolved_at", since.UTC().Format(time.RFC3339)).
		Execute(ctx, &out)
	return out, err
}

func (a clientAdapter) resolveUpstream(ctx context.Context, siteID, alarmType, deviceID, resolvedAt string) error {
	q := a.c.From("alarms").
		Eq("site_id", siteID).
		Eq("alarm_type", alarmType).
		Eq("resolved", false)
	if deviceID != "" {
		q = q.Eq("device_id", deviceID)
	}
	return q.Update(ctx, map[string]any{"resolved": true, "resolved_at": resolvedAt})
}

// resolvedAlarm is one row of the cloud alarms table returned by the
// reverse-sync poll.
type resolvedAlarm struct {
	AlarmType  string  `json:"alarm_type"`
	DeviceID   *string `json:"device_id"`
	ResolvedAt string  `json:"resolved_at"`
}

// backfillPhase tracks where the engine is in the two-phase backfill
// state machine.
type backfillPhase int

const (
	phaseNone backfillPhase = iota
	phaseRecentFirst
	phaseFillGaps
)

// Health tracks cloud reachability for the CLOUD_SYNC_OFFLINE alarm
type Health struct {
	ConsecutiveFailures int
	LastSuccess         time.Time
	Offline             bool
}

// Engine runs the per-tick readings sync, control-log/alarm sync, and
// alarm reverse-sync against the local store.
type Engine struct {
	store  *store.Store
	client cloudBackend
	log    *applog.Logger

	siteID string
	phase  backfillPhase
	health Health
}

// NewEngine builds a sync engine bound to a local store and cloud client.
// cloudClient must be non-nil: the engine does not guard against a nil
// client, so callers that run without a cloud client skip building the
// engine and scheduling its ticks.
func NewEngine(st *store.Store, cloudClient *cloud.Client, siteID string, log *applog.Logger) *Engine {
	return &Engine{store: st, client: clientAdapter{c: cloudClient}, siteID: siteID, log: log}
}

// newEngineWithBackend builds an Engine against a fake cloudBackend, used
// by unit tests that don't want to stand up a real HTTP server.
func newEngineWithBackend(st *store.Store, client cloudBackend, siteID string, log *applog.Logger) *Engine {
	return &Engine{store: st, client: client, siteID: siteID, log: log}
}

// TickResult summarizes one sync pass, used for logging and health
// endpoint reporting.
type TickResult struct {
	Phase       string
	RowsSent    int
	RowsSynced  int
	Success     bool
	PendingLeft int
}

// SyncReadings runs one device_readings sync tick: downsample, upload,
// mark synced, update health.
func (e *Engine) SyncReadings(ctx context.Context, bucketSeconds map[string]float64, defaultBucketSeconds float64) (TickResult, error) {
	pending, err := e.store.PendingDeviceReadingsCount(ctx)
	if err != nil {
		return TickResult{}, err
	}
	if pending == 0 {
		return TickResult{Phase: "idle"}, nil
	}

	if pending > backfillThreshold && e.phase == phaseNone {
		e.phase = phaseRecentFirst
	}

	var candidates []store.DeviceReadingRow
	phaseName := "normal"
	switch e.phase {
	case phaseRecentFirst:
		candidates, err = e.store.PendingDeviceReadingsNewestFirst(ctx, uploadBatchSize)
		phaseName = "recent"
		e.phase = phaseFillGaps
	case phaseFillGaps:
		candidates, err = e.store.PendingDeviceReadingsOldestFirst(ctx, uploadBatchSize)
		phaseName = "fill_gaps"
		if pending < backfillThreshold {
			e.phase = phaseNone
		}
	default:
		candidates, err = e.store.PendingDeviceReadingsOldestFirst(ctx, uploadBatchSize)
	}
	if err != nil {
		return TickResult{}, err
	}

	selected, allPendingIDs := downsample(candidates, bucketSeconds, defaultBucketSeconds)
	if len(selected) == 0 {
		// No candidate rows came back from the store; there is nothing to
		// send or mark.
		if err := e.store.MarkReadingsSynced(ctx, allPendingIDs, nowISO()); err != nil {
			return TickResult{}, err
		}
		return TickResult{Phase: phaseName, RowsSynced: len(allPendingIDs), Success: true, PendingLeft: pending - len(allPendingIDs)}, nil
	}

	if len(selected) > uploadBatchSize {
		selected = selected[:uploadBatchSize]
	}

	ok, err := e.uploadWithRetry(ctx, "device_readings", selected, "device_id,register_name,timestamp")
	e.recordHealth(ok)
	if !ok {
		return TickResult{Phase: phaseName, RowsSent: len(selected), Success: false, PendingLeft: pending}, err
	}

	if err := e.store.MarkReadingsSynced(ctx, allPendingIDs, nowISO()); err != nil {
		return TickResult{}, err
	}
	return TickResult{Phase: phaseName, RowsSent: len(selected), RowsSynced: len(allPendingIDs), Success: true, PendingLeft: pending - len(allPendingIDs)}, nil
}

// SyncControlLogs uploads pending control_logs rows.
func (e *Engine) SyncControlLogs(ctx context.Context) (TickResult, error) {
	rows, err := e.store.PendingControlLogs(ctx, uploadBatchSize)
	if err != nil {
		return TickResult{}, err
	}
	if len(rows) == 0 {
		return TickResult{Phase: "idle"}, nil
	}

	ok, err := e.uploadWithRetry(ctx, "control_logs", rows, "site_id,timestamp")
	e.recordHealth(ok)
	if !ok {
		return TickResult{RowsSent: len(rows), Success: false}, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if err := e.store.MarkControlLogsSynced(ctx, ids, nowISO()); err != nil {
		return TickResult{}, err
	}
	return TickResult{RowsSent: len(rows), RowsSynced: len(ids), Success: true}, nil
}

// SyncAlarms uploads pending alarms rows.
func (e *Engine) SyncAlarms(ctx context.Context) (TickResult, error) {
	rows, err := e.store.PendingAlarms(ctx, uploadBatchSize)
	if err != nil {
		return TickResult{}, err
	}
	if len(rows) == 0 {
		return TickResult{Phase: "idle"}, nil
	}

	ok, err := e.uploadWithRetry(ctx, "alarms", rows, "alarm_uuid")
	e.recordHealth(ok)
	if !ok {
		return TickResult{RowsSent: len(rows), Success: false}, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if err := e.store.MarkAlarmsSynced(ctx, ids, nowISO()); err != nil {
		return TickResult{}, err
	}
	return TickResult{RowsSent: len(rows), RowsSynced: len(ids), Success: true}, nil
}

func (e *Engine) uploadWithRetry(ctx context.Context, table string, rows interface{}, onConflict string) (bool, error) {
	var lastErr error
	for i := 0; i <= len(uploadRetryBackoffs); i++ {
		err := e.client.upsertIgnoreDuplicates(ctx, table, rows, onConflict)
		if err == nil || cloud.IsConflict(err) {
			return true, nil
		}
		lastErr = err
		if i == len(uploadRetryBackoffs) {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(uploadRetryBackoffs[i] * float64(time.Second))):
		}
	}
	return false, apperr.Wrap(apperr.CodeSync, "cloudsync: exhausted upload retries for "+table, lastErr)
}

// recordHealth updates the consecutive-failure counter and last-success
// timestamp, and flips Offline according to the 1h staleness rule. The CLOUD_SYNC_OFFLINE alarm itself is raised by the
// logging service, which reads Health via Health().
func (e *Engine) recordHealth(success bool) {
	if success {
		e.health.ConsecutiveFailures = 0
		e.health.LastSuccess = time.Now()
		e.health.Offline = false
		return
	}
	e.health.ConsecutiveFailures++
	if !e.health.LastSuccess.IsZero() && time.Since(e.health.LastSuccess) > time.Hour {
		e.health.Offline = true
	}
}

// Health returns the current cloud-health snapshot.
func (e *Engine) Health() Health { return e.health }

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }
