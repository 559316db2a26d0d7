package control

import "github.com/volteria/controller-core/internal/model"

// PeakShaving discharges the battery to cover load above a configured
// threshold, reserving a minimum state of charge, while leaving solar
// export unconstrained at full inverter capacity.
type PeakShaving struct {
	PeakThresholdKW float64
	ReserveSOCPct   float64
}

func (m *PeakShaving) ModeID() string { return "peak_shaving" }

func (m *PeakShaving) RequiredSettings() []string {
	return []string{"peak_threshold_kw", "reserve_soc_pct"}
}

func (m *PeakShaving) RequiredDeviceTypes() []model.DeviceCategory {
	return []model.DeviceCategory{model.CategoryInverter}
}

func (m *PeakShaving) Calculate(in Input) (Output, error) {
	load, source, err := estimateLoad(in)
	if err != nil {
		return Output{}, err
	}

	excess := load - m.PeakThresholdKW
	if excess < 0 {
		excess = 0
	}

	dischargeKW := 0.0
	if excess > 0 && in.HasBatteryReading && in.BatterySOCPct > m.ReserveSOCPct {
		dischargeKW = clampKW(excess, 0, in.BatteryCapacityKW)
	}

	out := Output{
		SolarLimitKW:  in.TotalInverterKW,
		SolarLimitPct: percentOfCapacity(in.TotalInverterKW, in.TotalInverterKW),
		LoadSource:    source,
		Actions:       Actions{WriteSolarLimit: true},
	}
	if dischargeKW > 0 {
		d := dischargeKW
		out.BatteryDischargeKW = &d
		out.Actions.WriteBatteryDischarge = true
	}
	return out, nil
}
