package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/state"
)

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Level: "error", Format: "text"})
}

// TestService_ScenarioA_PublishesControlState drives the Control Service's
// tick end to end: publish a ReadingsDocument matching Scenario A,
// run one cycle, and assert the published control_state document matches.
func TestService_ScenarioA_PublishesControlState(t *testing.T) {
	store := state.New()
	cfg := config.New()
	cfg.OperationMode = string(config.ModeZeroGeneratorFeed)
	cfg.ModeSettings = config.ModeSettings{Kind: config.ModeZeroGeneratorFeed, ZeroGeneratorFeed: &config.ZeroGeneratorFeedSettings{DGReserveKW: 10}}

	svc := New(cfg, store, testLogger())

	ctx := context.Background()
	agg := model.AggregatedReading{
		TotalLoadKW:         60,
		TotalGeneratorKW:    40,
		TotalInverterKW:     100,
		HasLoadMeterReading: true,
		LoadMetersOnline:    1,
		InvertersOnline:     1,
	}
	require.NoError(t, store.Write(ctx, state.KeyReadings, device.ReadingsDocument{
		Aggregate: agg,
		Devices:   map[string]device.DeviceSnapshot{"inv1": {DeviceID: "inv1", Online: true}},
		UpdatedAt: time.Now(),
	}))

	require.NoError(t, svc.tick(ctx))

	var cs model.ControlState
	require.NoError(t, store.ReadFresh(ctx, state.KeyControlState, &cs))
	assert.Equal(t, 50.0, cs.SolarLimitKW)
	assert.Equal(t, 50.0, cs.SolarLimitPct)
	assert.Equal(t, "load_meter", cs.LoadSource)
	assert.False(t, cs.SafeModeActive)

	var writes device.WriteCommandsDocument
	require.NoError(t, store.ReadFresh(ctx, state.KeyWriteCommands, &writes))
	require.Len(t, writes.Commands, 1)
	assert.Equal(t, "solar_limit_pct", writes.Commands[0].RegisterName)
	assert.Equal(t, 50.0, writes.Commands[0].Value)
}

// TestService_SafeModeOverridesModeOutput exercises the external-trigger
// path: a safe_mode_trigger document forces solar to the configured safe
// limit regardless of what the operation mode would otherwise compute.
func TestService_SafeModeOverridesModeOutput(t *testing.T) {
	store := state.New()
	cfg := config.New()
	cfg.SafeMode.PowerLimitKW = 0

	svc := New(cfg, store, testLogger())
	ctx := context.Background()

	agg := model.AggregatedReading{
		TotalLoadKW:         60,
		TotalInverterKW:     100,
		HasLoadMeterReading: true,
		LoadMetersOnline:    1,
	}
	require.NoError(t, store.Write(ctx, state.KeyReadings, device.ReadingsDocument{Aggregate: agg}))
	require.NoError(t, store.Write(ctx, state.KeySafeModeTrigger, map[string]string{"service": "logging"}))

	require.NoError(t, svc.tick(ctx))

	var cs model.ControlState
	require.NoError(t, store.ReadFresh(ctx, state.KeyControlState, &cs))
	assert.True(t, cs.SafeModeActive)
	assert.Equal(t, 0.0, cs.SolarLimitKW)
	assert.Contains(t, cs.SafeModeReason, "logging")
}

func TestService_NoReadingsYetIsANoop(t *testing.T) {
	store := state.New()
	cfg := config.New()
	svc := New(cfg, store, testLogger())

	require.NoError(t, svc.tick(context.Background()))

	var cs model.ControlState
	assert.ErrorIs(t, store.ReadFresh(context.Background(), state.KeyControlState, &cs), state.ErrNotFound)
}
