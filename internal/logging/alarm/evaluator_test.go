package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/model"
)

type fakeActive struct{ active map[string]bool }

func (f *fakeActive) HasActive(alarmType, deviceID string) (bool, error) {
	return f.active[alarmType+"|"+deviceID], nil
}

func highTempDef() model.AlarmDefinition {
	return model.AlarmDefinition{
		ID:   "HIGH_TEMP",
		Name: "High Temp",
		Source: model.AlarmSource{
			Kind:         model.SourceRegister,
			RegisterName: "temp_c",
			DeviceID:     "inv1",
		},
		Conditions: []model.Condition{
			{Operator: model.OpGT, Threshold: 70, Severity: model.SeverityMajor, Message: "temp above 70"},
		},
		CooldownSeconds: 300,
		Enabled:         true,
	}
}

func snapshotWithTemp(value float64) Snapshot {
	return Snapshot{
		Readings: device.ReadingsDocument{
			Devices: map[string]device.DeviceSnapshot{
				"inv1": {
					DeviceID: "inv1",
					Online:   true,
					Readings: map[string]model.Reading{
						"temp_c": {Value: value},
					},
				},
			},
		},
	}
}

// Scenario F: 65 -> 71 -> 72 -> 69 -> 73 within 60s, cooldown
// 300s. Exactly one triggered alarm at 71; 72/69/73 are all inside the
// cooldown window started by the 71 trigger and are skipped wholesale
// (including the auto-resolution check at 69).
func TestEvaluate_ScenarioF_CooldownSuppressesRetriggerAndResolve(t *testing.T) {
	eval := New([]model.AlarmDefinition{highTempDef()})
	active := &fakeActive{active: map[string]bool{}}
	base := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	readings := []float64{65, 71, 72, 69, 73}
	offsets := []time.Duration{0, 10 * time.Second, 25 * time.Second, 40 * time.Second, 55 * time.Second}

	var allFired []model.TriggeredAlarm
	var allResolved []ResolvedAlarm
	for i, v := range readings {
		result, err := eval.Evaluate(snapshotWithTemp(v), active, base.Add(offsets[i]))
		require.NoError(t, err)
		allFired = append(allFired, result.Fired...)
		allResolved = append(allResolved, result.Resolved...)
		for _, f := range result.Fired {
			active.active[f.AlarmType+"|"+f.DeviceID] = true
		}
	}

	require.Len(t, allFired, 1)
	assert.Equal(t, "HIGH_TEMP", allFired[0].AlarmType)
	assert.Equal(t, model.SeverityMajor, allFired[0].Severity)
	assert.Empty(t, allResolved)
}

func TestEvaluate_FirstMatchingConditionWinsInDeclarationOrder(t *testing.T) {
	def := model.AlarmDefinition{
		ID:      "LOW_SOC",
		Enabled: true,
		Source:  model.AlarmSource{Kind: model.SourceRegister, RegisterName: "soc_pct", DeviceID: "batt1"},
		Conditions: []model.Condition{
			{Operator: model.OpLT, Threshold: 10, Severity: model.SeverityCritical, Message: "critical low soc"},
			{Operator: model.OpLT, Threshold: 20, Severity: model.SeverityWarning, Message: "warning low soc"},
		},
		CooldownSeconds: 60,
	}
	eval := New([]model.AlarmDefinition{def})
	active := &fakeActive{active: map[string]bool{}}

	snap := Snapshot{Readings: device.ReadingsDocument{Devices: map[string]device.DeviceSnapshot{
		"batt1": {DeviceID: "batt1", Online: true, Readings: map[string]model.Reading{"soc_pct": {Value: 5}}},
	}}}

	result, err := eval.Evaluate(snap, active, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	assert.Equal(t, model.SeverityCritical, result.Fired[0].Severity)
}

func TestEvaluate_OfflineDeviceSkipsRegisterSource(t *testing.T) {
	eval := New([]model.AlarmDefinition{highTempDef()})
	active := &fakeActive{active: map[string]bool{}}

	snap := Snapshot{Readings: device.ReadingsDocument{Devices: map[string]device.DeviceSnapshot{
		"inv1": {DeviceID: "inv1", Online: false, Readings: map[string]model.Reading{"temp_c": {Value: 99}}},
	}}}

	result, err := eval.Evaluate(snap, active, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Fired)
}

func TestEvaluate_AutoResolvesWhenConditionStopsMatching(t *testing.T) {
	eval := New([]model.AlarmDefinition{highTempDef()})
	active := &fakeActive{active: map[string]bool{"HIGH_TEMP|inv1": true}}

	result, err := eval.Evaluate(snapshotWithTemp(50), active, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Fired)
	require.Len(t, result.Resolved, 1)
	assert.Equal(t, "HIGH_TEMP", result.Resolved[0].AlarmType)
	assert.Equal(t, "inv1", result.Resolved[0].DeviceID)
}

func TestEvaluate_AlreadyActiveDoesNotDuplicateTrigger(t *testing.T) {
	eval := New([]model.AlarmDefinition{highTempDef()})
	active := &fakeActive{active: map[string]bool{"HIGH_TEMP|inv1": true}}

	result, err := eval.Evaluate(snapshotWithTemp(90), active, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Fired)
	assert.Empty(t, result.Resolved)
}

func TestEvaluate_UnboundDefinitionSearchesAllDevices(t *testing.T) {
	def := highTempDef()
	def.Source.DeviceID = ""
	eval := New([]model.AlarmDefinition{def})
	active := &fakeActive{active: map[string]bool{}}

	snap := Snapshot{Readings: device.ReadingsDocument{Devices: map[string]device.DeviceSnapshot{
		"inv1": {DeviceID: "inv1", Online: true, Readings: map[string]model.Reading{"temp_c": {Value: 80}}},
		"inv2": {DeviceID: "inv2", Online: true, Readings: map[string]model.Reading{"temp_c": {Value: 20}}},
	}}}

	result, err := eval.Evaluate(snap, active, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	assert.Equal(t, "inv1", result.Fired[0].DeviceID)
}

func TestEvaluate_CalculatedSourceReadsControlState(t *testing.T) {
	def := model.AlarmDefinition{
		ID:      "OVERLIMIT",
		Enabled: true,
		Source:  model.AlarmSource{Kind: model.SourceCalculated, FieldName: "solar_limit_pct"},
		Conditions: []model.Condition{
			{Operator: model.OpGTE, Threshold: 100, Severity: model.SeverityWarning, Message: "at ceiling"},
		},
		CooldownSeconds: 60,
	}
	eval := New([]model.AlarmDefinition{def})
	active := &fakeActive{active: map[string]bool{}}

	snap := Snapshot{Control: model.ControlState{SolarLimitPct: 100}}
	result, err := eval.Evaluate(snap, active, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	assert.Equal(t, "", result.Fired[0].DeviceID)
}

func TestEvaluate_DisabledDefinitionNeverFires(t *testing.T) {
	def := highTempDef()
	def.Enabled = false
	eval := New([]model.AlarmDefinition{def})
	active := &fakeActive{active: map[string]bool{}}

	result, err := eval.Evaluate(snapshotWithTemp(999), active, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Fired)
}
