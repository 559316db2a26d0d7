package safemode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeBased_TriggersAfterTimeoutAndClearsOnRecovery(t *testing.T) {
	p := NewTimeBased(30)
	now := time.Now()

	st := p.Evaluate(Input{
		Now:     now,
		Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: false, OfflineDuration: 10 * time.Second}},
	})
	assert.False(t, st.Active, "under timeout: no trigger")

	st = p.Evaluate(Input{
		Now:     now.Add(31 * time.Second),
		Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: false, OfflineDuration: 31 * time.Second}},
	})
	assert.True(t, st.Active)
	assert.Contains(t, st.Reason, "inv1")

	st = p.Evaluate(Input{
		Now:     now.Add(40 * time.Second),
		Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: true}},
	})
	assert.False(t, st.Active, "all devices back online clears time-based safe mode")
}

func TestTimeBased_ExternalTriggerIsImmediate(t *testing.T) {
	p := NewTimeBased(60)
	st := p.Evaluate(Input{Now: time.Now(), ExternalTrigger: "logging"})
	assert.True(t, st.Active)
	assert.Equal(t, "logging", st.TriggerService)
}

// TestRollingAverage_ScenarioC: a 3-minute
// rolling window averaging load 20kW / solar 18kW (ratio 90% >= 80%
// threshold) combined with a device offline beyond the timeout triggers
// safe mode with a reason naming the 90% ratio.
func TestRollingAverage_ScenarioC(t *testing.T) {
	p := NewRollingAverage(30, 3*time.Minute, 80, 10)
	base := time.Now()

	var st State
	for i := 0; i < 12; i++ {
		st = p.Evaluate(Input{
			Now:     base.Add(time.Duration(i) * 15 * time.Second),
			LoadKW:  20,
			SolarKW: 18,
			Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: false, OfflineDuration: 31 * time.Second}},
		})
	}

	assert.True(t, st.Active)
	assert.Contains(t, st.Reason, "90% of load")
}

func TestRollingAverage_WithholdsBelowMinSamples(t *testing.T) {
	p := NewRollingAverage(30, 3*time.Minute, 80, 10)
	base := time.Now()

	st := p.Evaluate(Input{
		Now:     base,
		LoadKW:  20,
		SolarKW: 18,
		Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: false, OfflineDuration: 31 * time.Second}},
	})
	assert.False(t, st.Active, "fewer than MinSamples must withhold the trigger")
}

func TestRollingAverage_ZeroLoadWithSolarIsTreatedAsDangerous(t *testing.T) {
	assert.Equal(t, 100.0, ratioPct(0, 5))
	assert.Equal(t, 0.0, ratioPct(0, 0))
	assert.Equal(t, 50.0, ratioPct(10, 5))
}

func TestRollingAverage_RecoversWhenRatioDropsBelowThreshold(t *testing.T) {
	p := NewRollingAverage(30, 3*time.Minute, 80, 5)
	base := time.Now()

	for i := 0; i < 6; i++ {
		p.Evaluate(Input{
			Now:     base.Add(time.Duration(i) * 15 * time.Second),
			LoadKW:  20,
			SolarKW: 18,
			Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: false, OfflineDuration: 31 * time.Second}},
		})
	}

	st := p.Evaluate(Input{
		Now:     base.Add(6 * 15 * time.Second),
		LoadKW:  20,
		SolarKW: 2,
		Devices: []DeviceSnapshot{{DeviceID: "inv1", Online: false, OfflineDuration: 31 * time.Second}},
	})
	assert.False(t, st.Active, "dropping ratio below threshold clears safe mode")
}
