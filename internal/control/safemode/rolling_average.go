package safemode

import (
	"fmt"
	"time"
)

// RollingAverage trips safe mode only when an offline device coincides with
// a dangerously high solar-to-load ratio sustained over a rolling window
type RollingAverage struct {
	Timeout      float64 // seconds, same device-offline semantics as TimeBased
	Window       time.Duration
	ThresholdPct float64
	MinSamples   int

	samples []Sample
	state   State
}

// NewRollingAverage constructs a RollingAverage policy. window defaults to
// 3 minutes, thresholdPct to 80, minSamples to 10 when zero-valued.
func NewRollingAverage(timeoutSeconds float64, window time.Duration, thresholdPct float64, minSamples int) *RollingAverage {
	if window <= 0 {
		window = 3 * time.Minute
	}
	if thresholdPct <= 0 {
		thresholdPct = 80
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &RollingAverage{Timeout: timeoutSeconds, Window: window, ThresholdPct: thresholdPct, MinSamples: minSamples}
}

func (p *RollingAverage) Evaluate(in Input) State {
	if in.ExternalTrigger != "" {
		if !p.state.Active {
			p.state.TriggeredAt = in.Now
		}
		p.state.Active = true
		p.state.Reason = fmt.Sprintf("service %s unrecoverable", in.ExternalTrigger)
		p.state.TriggerService = in.ExternalTrigger
		return p.state
	}

	p.samples = append(p.samples, Sample{Timestamp: in.Now, LoadKW: in.LoadKW, SolarKW: in.SolarKW})
	cutoff := in.Now.Add(-p.Window)
	i := 0
	for i < len(p.samples) && p.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	p.samples = p.samples[i:]

	offline, devID := anyOffline(in.Devices, secondsToDuration(p.Timeout))

	if len(p.samples) < p.MinSamples {
		// Below minimum sample count: withhold the trigger, but a prior
		// trigger still clears once the device comes back online.
		if p.state.Active && !offline {
			p.state = State{}
		}
		return p.state
	}

	meanLoad, meanSolar := meanOf(p.samples)
	ratio := ratioPct(meanLoad, meanSolar)

	if offline && ratio >= p.ThresholdPct {
		if !p.state.Active {
			p.state.TriggeredAt = in.Now
		}
		p.state.Active = true
		p.state.Reason = fmt.Sprintf("solar %.0f%% of load while device %s offline", ratio, devID)
		p.state.TriggerService = ""
		return p.state
	}

	if !offline || ratio < p.ThresholdPct {
		p.state = State{}
	}
	return p.state
}

func meanOf(samples []Sample) (load, solar float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sumLoad, sumSolar float64
	for _, s := range samples {
		sumLoad += s.LoadKW
		sumSolar += s.SolarKW
	}
	n := float64(len(samples))
	return sumLoad / n, sumSolar / n
}

// ratioPct computes 100*solar/load with the zero-load protection from spec
// §4.6(b): zero load with positive solar is treated as the maximally
// dangerous 100%.
func ratioPct(meanLoad, meanSolar float64) float64 {
	if meanLoad == 0 {
		if meanSolar > 0 {
			return 100
		}
		return 0
	}
	return 100 * meanSolar / meanLoad
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
