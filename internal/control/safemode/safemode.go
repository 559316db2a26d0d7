// Package safemode implements the Safe-Mode Supervisor: a
// small state machine that watches device liveness and site load/solar
// ratios and, when tripped, forces the control service's solar output to
// a conservative limit regardless of the active operation mode.
package safemode

import (
	"time"
)

// State is the published safe_mode_state document.
type State struct {
	Active         bool
	TriggeredAt    time.Time
	Reason         string
	TriggerService string
}

// DeviceSnapshot is the liveness view the supervisor consults each cycle.
type DeviceSnapshot struct {
	DeviceID        string
	Online          bool
	OfflineDuration time.Duration
}

// Sample is one (timestamp, load, solar) observation fed into the
// rolling-average policy's window.
type Sample struct {
	Timestamp time.Time
	LoadKW    float64
	SolarKW   float64
}

// Input is the per-cycle evaluation input common to both policies.
type Input struct {
	Now             time.Time
	Devices         []DeviceSnapshot
	LoadKW          float64
	SolarKW         float64
	ExternalTrigger string // non-empty: service name from a shared-state safe_mode_trigger
}

// Policy decides, cycle over cycle, whether safe mode should be active.
type Policy interface {
	// Evaluate consumes one cycle's Input and returns the resulting State.
	Evaluate(in Input) State
}

// PowerLimitKW is the conservative solar limit applied while safe mode is
// active.
type PowerLimitKW struct {
	Value float64
}

// anyOffline reports whether at least one device has been offline for at
// least minDuration.
func anyOffline(devices []DeviceSnapshot, minDuration time.Duration) (bool, string) {
	for _, d := range devices {
		if !d.Online && d.OfflineDuration >= minDuration {
			return true, d.DeviceID
		}
	}
	return false, ""
}

// allOnline reports whether every monitored device is currently online.
func allOnline(devices []DeviceSnapshot) bool {
	for _, d := range devices {
		if !d.Online {
			return false
		}
	}
	return true
}
