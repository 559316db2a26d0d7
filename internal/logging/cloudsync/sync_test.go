package cloudsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/logging/store"
)

type fakeBackend struct {
	insertCalls     int
	failInsertsLeft int
	resolved        []resolvedAlarm
	pushed          []string
}

func (f *fakeBackend) upsertIgnoreDuplicates(ctx context.Context, table string, rows any, onConflict string) error {
	f.insertCalls++
	if f.failInsertsLeft > 0 {
		f.failInsertsLeft--
		return assert.AnError
	}
	return nil
}

func (f *fakeBackend) resolvedAlarmsSince(ctx context.Context, siteID string, since time.Time) ([]resolvedAlarm, error) {
	return f.resolved, nil
}

func (f *fakeBackend) resolveUpstream(ctx context.Context, siteID, alarmType, deviceID, resolvedAt string) error {
	f.pushed = append(f.pushed, alarmType)
	return nil
}

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Level: "error", Format: "text", Component: "cloudsync-test"})
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestEngine_SyncReadings_DownsamplesAndMarksAllSynced(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows := []store.DeviceReadingRow{
		{ID: "r1", SiteID: "site1", DeviceID: "inv1", RegisterName: "p", Value: 10, Timestamp: "2026-07-29T10:00:00Z", Source: "live", CreatedAt: "2026-07-29T10:00:00Z"},
		{ID: "r2", SiteID: "site1", DeviceID: "inv1", RegisterName: "p", Value: 11, Timestamp: "2026-07-29T10:00:02Z", Source: "live", CreatedAt: "2026-07-29T10:00:02Z"},
	}
	require.NoError(t, st.InsertDeviceReadings(ctx, rows))

	backend := &fakeBackend{}
	engine := newEngineWithBackend(st, backend, "site1", testLogger())

	result, err := engine.SyncReadings(ctx, nil, 60)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, backend.insertCalls) // both rows fall in one 60s bucket
	assert.Equal(t, 2, result.RowsSynced)

	pending, err := st.PendingDeviceReadingsCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestEngine_SyncReadings_NoPendingIsIdle(t *testing.T) {
	st := openTestStore(t)
	engine := newEngineWithBackend(st, &fakeBackend{}, "site1", testLogger())

	result, err := engine.SyncReadings(context.Background(), nil, 60)
	require.NoError(t, err)
	assert.Equal(t, "idle", result.Phase)
}

func TestEngine_SyncReadings_RetriesOnceThenSucceeds(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertDeviceReadings(ctx, []store.DeviceReadingRow{
		{ID: "r1", SiteID: "site1", DeviceID: "inv1", RegisterName: "p", Value: 10, Timestamp: "2026-07-29T10:00:00Z", Source: "live", CreatedAt: "2026-07-29T10:00:00Z"},
	}))

	backend := &fakeBackend{failInsertsLeft: 1}
	engine := newEngineWithBackend(st, backend, "site1", testLogger())

	result, err := engine.SyncReadings(ctx, nil, 60)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, backend.insertCalls)
}

func TestEngine_RecordHealth_TracksConsecutiveFailuresAndOffline(t *testing.T) {
	engine := newEngineWithBackend(nil, &fakeBackend{}, "site1", testLogger())

	engine.recordHealth(true)
	assert.Equal(t, 0, engine.Health().ConsecutiveFailures)
	assert.False(t, engine.Health().Offline)

	engine.health.LastSuccess = time.Now().Add(-2 * time.Hour)
	engine.recordHealth(false)
	assert.Equal(t, 1, engine.Health().ConsecutiveFailures)
	assert.True(t, engine.Health().Offline)
}

func TestEngine_ResyncResolvedAlarms_SkipsControllerOwnedTypes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertAlarm(ctx, store.AlarmRow{
		ID: "a1", AlarmUUID: "u1", SiteID: "site1", AlarmType: "LOW_SOC", Message: "low soc",
		Condition: "soc<20", Severity: "major", Timestamp: "2026-07-29T00:00:00Z", CreatedAt: "2026-07-29T00:00:00Z",
	}))
	require.NoError(t, st.InsertAlarm(ctx, store.AlarmRow{
		ID: "a2", AlarmUUID: "u2", SiteID: "site1", AlarmType: "REGISTER_READ_FAILED", Message: "owned",
		Condition: "n/a", Severity: "major", Timestamp: "2026-07-29T00:00:00Z", CreatedAt: "2026-07-29T00:00:00Z",
	}))

	backend := &fakeBackend{resolved: []resolvedAlarm{
		{AlarmType: "LOW_SOC", ResolvedAt: "2026-07-29T01:00:00Z"},
		{AlarmType: "REGISTER_READ_FAILED", ResolvedAt: "2026-07-29T01:00:00Z"},
	}}
	engine := newEngineWithBackend(st, backend, "site1", testLogger())

	applied, err := engine.ResyncResolvedAlarms(ctx, map[string]bool{"REGISTER_READ_FAILED": true})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	active, err := st.ActiveAlarm(ctx, "site1", "LOW_SOC", "")
	require.NoError(t, err)
	assert.Nil(t, active)

	stillActive, err := st.ActiveAlarm(ctx, "site1", "REGISTER_READ_FAILED", "")
	require.NoError(t, err)
	assert.NotNil(t, stillActive)
}

func TestEngine_PushResolution_CallsUpstream(t *testing.T) {
	backend := &fakeBackend{}
	engine := newEngineWithBackend(nil, backend, "site1", testLogger())

	require.NoError(t, engine.PushResolution(context.Background(), "LOW_SOC", "inv1", "2026-07-29T02:00:00Z"))
	assert.Equal(t, []string{"LOW_SOC"}, backend.pushed)
}
