package control

import "github.com/volteria/controller-core/internal/model"

// ZeroGeneratorFeed caps solar export so the diesel generator never sees
// reverse (negative) power flow, leaving a configurable reserve margin
type ZeroGeneratorFeed struct {
	DGReserveKW float64
}

func (m *ZeroGeneratorFeed) ModeID() string { return "zero_generator_feed" }

func (m *ZeroGeneratorFeed) RequiredSettings() []string { return []string{"dg_reserve_kw"} }

func (m *ZeroGeneratorFeed) RequiredDeviceTypes() []model.DeviceCategory {
	return []model.DeviceCategory{model.CategoryInverter}
}

// Calculate implements the headroom formula: limit_kw = clamp(estimated_load
// - dg_reserve_kw, 0, Σ inverter capacity).
func (m *ZeroGeneratorFeed) Calculate(in Input) (Output, error) {
	load, source, err := estimateLoad(in)
	if err != nil {
		return Output{}, err
	}

	headroom := load - m.DGReserveKW
	limitKW := clampKW(headroom, 0, in.TotalInverterKW)

	return Output{
		SolarLimitKW:  limitKW,
		SolarLimitPct: percentOfCapacity(limitKW, in.TotalInverterKW),
		LoadSource:    source,
		Actions:       Actions{WriteSolarLimit: true},
	}, nil
}
