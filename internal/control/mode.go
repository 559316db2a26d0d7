// Package control implements the Control Service: the
// per-cycle decision loop that reads device aggregates, runs the
// configured operation mode, consults the safe-mode supervisor, and
// enqueues the resulting write commands. Operation modes are a closed
// tagged union — a Go interface with four
// concrete implementations selected once at config-parse time, not a
// runtime plugin registry.
package control

import (
	"errors"
	"math"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/model"
)

// ErrNoFreshEstimate is returned by a Mode's Calculate when no input source
// yields a usable reading this cycle.
var ErrNoFreshEstimate = errors.New("control: no fresh load/generation estimate available")

// Input is the per-cycle snapshot a Mode computes its output from,
// derived from the device service's published aggregates.
type Input struct {
	TotalLoadKW      float64
	TotalSolarKW     float64
	TotalGeneratorKW float64
	TotalInverterKW  float64

	HasLoadMeterReading bool
	HasGeneratorReading bool

	LoadMetersOnline int
	InvertersOnline  int
	GeneratorsOnline int

	BatterySOCPct      float64
	BatteryCapacityKW  float64
	HasBatteryReading  bool
}

// Actions signals which writes the control service must issue this cycle
type Actions struct {
	WriteSolarLimit       bool
	WriteReactiveSetpoint bool
	WriteBatteryDischarge bool
}

// Output is what a Mode's Calculate returns.
type Output struct {
	SolarLimitPct float64
	SolarLimitKW  float64
	LoadSource    string

	ReactiveSetpointKVAR *float64
	BatteryDischargeKW   *float64

	Actions Actions
}

// Mode implements one of the four pluggable control strategies.
type Mode interface {
	// ModeID returns the configured mode identifier.
	ModeID() string
	// RequiredSettings lists the config keys this mode needs populated.
	RequiredSettings() []string
	// RequiredDeviceTypes lists device categories this mode expects on site.
	RequiredDeviceTypes() []model.DeviceCategory
	// Calculate maps the cycle's Input to an Output.
	Calculate(in Input) (Output, error)
}

// NewMode selects and constructs the Mode for the given configuration.
// Unknown mode ids fall back to Zero Generator Feed with a logged warning
func NewMode(settings config.ModeSettings, log *applog.Logger) Mode {
	switch settings.Kind {
	case config.ModeZeroGeneratorFeed:
		s := settings.ZeroGeneratorFeed
		if s == nil {
			s = &config.ZeroGeneratorFeedSettings{}
		}
		return &ZeroGeneratorFeed{DGReserveKW: s.DGReserveKW}

	case config.ModeZeroDGPowerFactor:
		s := settings.ZeroDGPowerFactor
		if s == nil {
			s = &config.ZeroDGPowerFactorSettings{TargetPowerFactor: 1.0}
		}
		return &ZeroDGPowerFactor{TargetPowerFactor: s.TargetPowerFactor}

	case config.ModeZeroDGReactive:
		s := settings.ZeroDGReactive
		if s == nil {
			s = &config.ZeroDGReactiveSettings{}
		}
		return &ZeroDGReactive{MaxReactiveKVAR: s.MaxReactiveKVAR}

	case config.ModePeakShaving:
		s := settings.PeakShaving
		if s == nil {
			s = &config.PeakShavingSettings{ReserveSOCPct: 20}
		}
		return &PeakShaving{PeakThresholdKW: s.PeakThresholdKW, ReserveSOCPct: s.ReserveSOCPct}

	default:
		if log != nil {
			log.WithField("mode", settings.Kind).Warn("control: unknown operation mode, falling back to zero_generator_feed")
		}
		return &ZeroGeneratorFeed{}
	}
}

// estimateLoad implements the load-estimation fallback chain shared by
// every mode whose active-power formula depends on estimated load.
func estimateLoad(in Input) (kw float64, source string, err error) {
	if in.LoadMetersOnline > 0 && in.HasLoadMeterReading && in.TotalLoadKW > 0 {
		return in.TotalLoadKW, "load_meter", nil
	}
	if in.GeneratorsOnline > 0 && in.HasGeneratorReading && in.TotalGeneratorKW > 0 {
		return in.TotalGeneratorKW, "generator_fallback", nil
	}
	return 0, "", ErrNoFreshEstimate
}

func clampKW(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// percentOfCapacity converts a kW limit into a percentage of total inverter
// capacity, rounded to 1 decimal, with the zero-capacity boundary handled
// explicitly.
func percentOfCapacity(limitKW, capacityKW float64) float64 {
	if capacityKW <= 0 {
		return 0
	}
	pct := 100 * limitKW / capacityKW
	pct = clampKW(pct, 0, 100)
	return math.Round(pct*10) / 10
}
