package control

import "github.com/volteria/controller-core/internal/model"

// ZeroDGReactive targets zero reactive power flow through the diesel
// generator by writing an inverter reactive setpoint clamped to
// max_reactive_kvar, while still capping active export at the full
// inverter capacity (no reverse-power reserve is configurable in this
// mode — only max_reactive_kvar is configurable).
type ZeroDGReactive struct {
	MaxReactiveKVAR float64
}

func (m *ZeroDGReactive) ModeID() string { return "zero_dg_reactive" }

func (m *ZeroDGReactive) RequiredSettings() []string { return []string{"max_reactive_kvar"} }

func (m *ZeroDGReactive) RequiredDeviceTypes() []model.DeviceCategory {
	return []model.DeviceCategory{model.CategoryInverter}
}

func (m *ZeroDGReactive) Calculate(in Input) (Output, error) {
	_, source, err := estimateLoad(in)
	if err != nil {
		return Output{}, err
	}

	limitKW := in.TotalInverterKW

	// TODO(open question 2): as in ZeroDGPowerFactor, the reactive setpoint
	// that actually zeroes generator-side reactive flow depends on a site's
	// CT wiring convention not yet confirmed; reported as 0 kVAR, clamped to
	// the configured ceiling, until that's settled.
	q := clampKW(0, -m.MaxReactiveKVAR, m.MaxReactiveKVAR)

	return Output{
		SolarLimitKW:         limitKW,
		SolarLimitPct:        percentOfCapacity(limitKW, in.TotalInverterKW),
		LoadSource:           source,
		ReactiveSetpointKVAR: &q,
		Actions:              Actions{WriteSolarLimit: true, WriteReactiveSetpoint: true},
	}, nil
}
