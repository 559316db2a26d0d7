package config

import "fmt"

// ValidationErrors collects non-fatal configuration problems.
type ValidationErrors struct {
	Errors []string
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("config: %d validation warning(s): %v", len(v.Errors), v.Errors)
}

// Validate checks the loaded configuration against each operation mode's
// valid parameter bounds. It never returns a fatal error: each missing or
// out-of-range setting is replaced in place with a default or clamped value
// and reported as a warning, so the caller proceeds with the result.
func (c *SiteConfig) Validate() []string {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	switch OperationModeKind(c.OperationMode) {
	case ModeZeroGeneratorFeed:
		s := c.ModeSettings.ZeroGeneratorFeed
		if s == nil {
			warn("zero_generator_feed: mode_settings missing, using dg_reserve_kw=0 default")
			c.ModeSettings.ZeroGeneratorFeed = &ZeroGeneratorFeedSettings{DGReserveKW: 0}
		} else if s.DGReserveKW < 0 {
			warn("zero_generator_feed: dg_reserve_kw must be >= 0, got %v, clamping to 0", s.DGReserveKW)
			s.DGReserveKW = 0
		}

	case ModeZeroDGPowerFactor:
		s := c.ModeSettings.ZeroDGPowerFactor
		if s == nil {
			warn("zero_dg_power_factor: mode_settings missing, using target_power_factor=1.0 default")
			c.ModeSettings.ZeroDGPowerFactor = &ZeroDGPowerFactorSettings{TargetPowerFactor: 1.0}
		} else if s.TargetPowerFactor < 0 || s.TargetPowerFactor > 1 {
			warn("zero_dg_power_factor: target_power_factor must be in [0,1], got %v, clamping", s.TargetPowerFactor)
			s.TargetPowerFactor = clamp(s.TargetPowerFactor, 0, 1)
		}

	case ModeZeroDGReactive:
		s := c.ModeSettings.ZeroDGReactive
		if s == nil {
			warn("zero_dg_reactive: mode_settings missing, using max_reactive_kvar=0 default")
			c.ModeSettings.ZeroDGReactive = &ZeroDGReactiveSettings{MaxReactiveKVAR: 0}
		} else if s.MaxReactiveKVAR < 0 {
			warn("zero_dg_reactive: max_reactive_kvar must be >= 0, got %v, clamping to 0", s.MaxReactiveKVAR)
			s.MaxReactiveKVAR = 0
		}

	case ModePeakShaving:
		s := c.ModeSettings.PeakShaving
		if s == nil {
			warn("peak_shaving: mode_settings missing, using peak_threshold_kw=0/reserve_soc_pct=20 defaults")
			c.ModeSettings.PeakShaving = &PeakShavingSettings{PeakThresholdKW: 0, ReserveSOCPct: 20}
		} else if s.ReserveSOCPct < 0 || s.ReserveSOCPct > 100 {
			warn("peak_shaving: reserve_soc_pct must be in [0,100], got %v, clamping", s.ReserveSOCPct)
			s.ReserveSOCPct = clamp(s.ReserveSOCPct, 0, 100)
		}

	default:
		warn("operation_mode %q not recognized, falling back to zero_generator_feed", c.OperationMode)
		c.OperationMode = string(ModeZeroGeneratorFeed)
		c.ModeSettings = ModeSettings{Kind: ModeZeroGeneratorFeed, ZeroGeneratorFeed: &ZeroGeneratorFeedSettings{}}
	}

	if c.ControlIntervalMS != 0 && (c.ControlIntervalMS < 100 || c.ControlIntervalMS > 60000) {
		warn("control_interval_ms should be in [100,60000], got %d, defaulting to 1000", c.ControlIntervalMS)
		c.ControlIntervalMS = 1000
	}

	if c.SafeMode.TimeoutS != 0 && (c.SafeMode.TimeoutS < 5 || c.SafeMode.TimeoutS > 300) {
		warn("safe_mode_policy: timeout_s should be in [5,300], got %d", c.SafeMode.TimeoutS)
	}
	if c.SafeMode.Kind == SafeModeRollingAverage {
		if c.SafeMode.RatioThreshold <= 0 || c.SafeMode.RatioThreshold > 100 {
			warn("safe_mode_policy: ratio_threshold_pct should be in (0,100], got %v, defaulting to 80", c.SafeMode.RatioThreshold)
			c.SafeMode.RatioThreshold = 80
		}
		if c.SafeMode.MinSamples <= 0 {
			warn("safe_mode_policy: min_samples should be > 0, defaulting to 10")
			c.SafeMode.MinSamples = 10
		}
		if c.SafeMode.WindowMinutes <= 0 {
			warn("safe_mode_policy: window_minutes should be > 0, defaulting to 3")
			c.SafeMode.WindowMinutes = 3
		}
	}

	return warnings
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
