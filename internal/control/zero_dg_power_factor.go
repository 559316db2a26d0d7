package control

import "github.com/volteria/controller-core/internal/model"

// ZeroDGPowerFactor runs the same reverse-power cap as ZeroGeneratorFeed
// (no dg_reserve_kw knob of its own — only
// target_power_factor for this mode) and additionally drives the
// inverter(s) toward a target power factor by writing a reactive setpoint.
type ZeroDGPowerFactor struct {
	TargetPowerFactor float64
}

func (m *ZeroDGPowerFactor) ModeID() string { return "zero_dg_power_factor" }

func (m *ZeroDGPowerFactor) RequiredSettings() []string { return []string{"target_power_factor"} }

func (m *ZeroDGPowerFactor) RequiredDeviceTypes() []model.DeviceCategory {
	return []model.DeviceCategory{model.CategoryInverter}
}

func (m *ZeroDGPowerFactor) Calculate(in Input) (Output, error) {
	load, source, err := estimateLoad(in)
	if err != nil {
		return Output{}, err
	}

	limitKW := clampKW(load, 0, in.TotalInverterKW)

	// TODO(open question 2): the exact reactive-power target (Q) for a given
	// active power P and TargetPowerFactor is left unimplemented pending
	// confirmation of the inverter's PF convention (leading vs lagging sign).
	// The action map below signals a reactive write is due; the setpoint
	// itself is reported as 0 kVAR until that convention is settled.
	q := 0.0

	return Output{
		SolarLimitKW:         limitKW,
		SolarLimitPct:        percentOfCapacity(limitKW, in.TotalInverterKW),
		LoadSource:           source,
		ReactiveSetpointKVAR: &q,
		Actions:              Actions{WriteSolarLimit: true, WriteReactiveSetpoint: true},
	}, nil
}
