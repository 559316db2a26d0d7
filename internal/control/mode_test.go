package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestZeroGeneratorFeed_ScenarioA: inverter
// capacity 100kW, load 60, solar 20, generator 40, dg_reserve 10. Expected
// load_source "load_meter", limit_kw 50, limit_pct 50.0.
func TestZeroGeneratorFeed_ScenarioA(t *testing.T) {
	m := &ZeroGeneratorFeed{DGReserveKW: 10}
	out, err := m.Calculate(Input{
		TotalLoadKW:         60,
		TotalGeneratorKW:    40,
		TotalInverterKW:     100,
		HasLoadMeterReading: true,
		LoadMetersOnline:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, "load_meter", out.LoadSource)
	assert.Equal(t, 50.0, out.SolarLimitKW)
	assert.Equal(t, 50.0, out.SolarLimitPct)
}

// TestZeroGeneratorFeed_ScenarioB: load meter
// offline, generator reports 45kW, dg_reserve 10, inverter capacity 100kW.
// Expected load_source "generator_fallback", limit_kw 35, limit_pct 35.0.
func TestZeroGeneratorFeed_ScenarioB(t *testing.T) {
	m := &ZeroGeneratorFeed{DGReserveKW: 10}
	out, err := m.Calculate(Input{
		TotalLoadKW:         0,
		HasLoadMeterReading: false,
		LoadMetersOnline:    0,
		TotalGeneratorKW:    45,
		HasGeneratorReading: true,
		GeneratorsOnline:    1,
		TotalInverterKW:     100,
	})
	require.NoError(t, err)
	assert.Equal(t, "generator_fallback", out.LoadSource)
	assert.Equal(t, 35.0, out.SolarLimitKW)
	assert.Equal(t, 35.0, out.SolarLimitPct)
}

func TestZeroGeneratorFeed_NoFreshEstimate(t *testing.T) {
	m := &ZeroGeneratorFeed{DGReserveKW: 10}
	_, err := m.Calculate(Input{TotalInverterKW: 100})
	assert.ErrorIs(t, err, ErrNoFreshEstimate)
}

func TestZeroGeneratorFeed_ZeroCapacityYieldsZeroPercent(t *testing.T) {
	assert.Equal(t, 0.0, percentOfCapacity(0, 0))
	assert.Equal(t, 0.0, percentOfCapacity(50, 0))
}

func TestPeakShaving_DischargesOnlyAboveThresholdWithReserve(t *testing.T) {
	m := &PeakShaving{PeakThresholdKW: 30, ReserveSOCPct: 20}

	out, err := m.Calculate(Input{
		TotalLoadKW:         50,
		HasLoadMeterReading: true,
		LoadMetersOnline:    1,
		TotalInverterKW:     100,
		HasBatteryReading:   true,
		BatterySOCPct:       60,
		BatteryCapacityKW:   40,
	})
	require.NoError(t, err)
	require.NotNil(t, out.BatteryDischargeKW)
	assert.Equal(t, 20.0, *out.BatteryDischargeKW)
	assert.True(t, out.Actions.WriteBatteryDischarge)

	out2, err := m.Calculate(Input{
		TotalLoadKW:         20,
		HasLoadMeterReading: true,
		LoadMetersOnline:    1,
		TotalInverterKW:     100,
		HasBatteryReading:   true,
		BatterySOCPct:       60,
	})
	require.NoError(t, err)
	assert.Nil(t, out2.BatteryDischargeKW)
	assert.False(t, out2.Actions.WriteBatteryDischarge)
}

func TestPeakShaving_WithholdsDischargeBelowReserveSOC(t *testing.T) {
	m := &PeakShaving{PeakThresholdKW: 10, ReserveSOCPct: 20}
	out, err := m.Calculate(Input{
		TotalLoadKW:         50,
		HasLoadMeterReading: true,
		LoadMetersOnline:    1,
		TotalInverterKW:     100,
		HasBatteryReading:   true,
		BatterySOCPct:       15,
		BatteryCapacityKW:   40,
	})
	require.NoError(t, err)
	assert.Nil(t, out.BatteryDischargeKW, "battery at/below reserve SOC must not discharge")
}
