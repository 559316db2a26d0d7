package device

import (
	"time"

	"github.com/volteria/controller-core/internal/model"
)

// Role tags the aggregation layer recognizes.
const (
	RoleSolarActivePower     = "solar_active_power"
	RoleLoadActivePower      = "load_active_power"
	RoleGeneratorActivePower = "generator_active_power"
)

// VirtualControllerDeviceID is the synthetic device id the site aggregates
// are published under so the logging service treats them the same as a
// physical device's readings.
const VirtualControllerDeviceID = "controller"

// Snapshot is one device's readings plus liveness, as input to Aggregate.
type Snapshot struct {
	Device   model.Device
	Online   bool
	Readings map[string]model.Reading // register name -> latest reading
}

// Aggregate computes the site-level rollup from live device readings by
// role-tag: only online devices contribute, and inverter
// rated capacity is summed regardless of liveness of readings (a
// configured inverter always counts toward Σ capacity once online).
func Aggregate(snapshots []Snapshot, now time.Time) model.AggregatedReading {
	agg := model.AggregatedReading{Timestamp: now}

	for _, snap := range snapshots {
		if !snap.Online {
			continue
		}

		switch snap.Device.Category {
		case model.CategoryLoadMeter:
			agg.LoadMetersOnline++
		case model.CategoryInverter:
			agg.InvertersOnline++
			if snap.Device.RatedPowerKW != nil {
				agg.TotalInverterKW += *snap.Device.RatedPowerKW
			}
		case model.CategoryGenerator:
			agg.GeneratorsOnline++
		}

		for _, reg := range snap.Device.Registers {
			if reg.RoleTag == "" {
				continue
			}
			reading, ok := snap.Readings[reg.Name]
			if !ok {
				continue
			}
			switch reg.RoleTag {
			case RoleSolarActivePower:
				agg.TotalSolarKW += reading.Value
			case RoleLoadActivePower:
				agg.TotalLoadKW += reading.Value
				agg.HasLoadMeterReading = true
			case RoleGeneratorActivePower:
				agg.TotalGeneratorKW += reading.Value
				agg.HasGeneratorReading = true
			}
		}
	}

	return agg
}

// ControllerReadings materializes the aggregate as a synthetic device's
// readings so downstream logging/alarm code treats site totals uniformly
// with physical device readings.
func ControllerReadings(agg model.AggregatedReading) map[string]model.Reading {
	mk := func(name string, value float64, unit string) model.Reading {
		return model.Reading{
			DeviceID:     VirtualControllerDeviceID,
			RegisterName: name,
			Value:        value,
			Unit:         unit,
			Timestamp:    agg.Timestamp,
			Provenance:   model.ProvenanceLive,
		}
	}
	return map[string]model.Reading{
		"total_load_kw":      mk("total_load_kw", agg.TotalLoadKW, "kW"),
		"total_solar_kw":     mk("total_solar_kw", agg.TotalSolarKW, "kW"),
		"total_generator_kw": mk("total_generator_kw", agg.TotalGeneratorKW, "kW"),
		"total_inverter_kw":  mk("total_inverter_kw", agg.TotalInverterKW, "kW"),
	}
}
