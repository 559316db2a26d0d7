// Package alarm implements the alarm evaluator: on every
// buffer tick, match the readings/control snapshot against the configured
// alarm definitions, apply cooldowns and de-duplication, and surface
// triggered/auto-resolved alarms for the logging service to persist and
// sync.
package alarm

import (
	"fmt"
	"time"

	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/model"
)

// Snapshot is the per-tick input the evaluator reads values from.
type Snapshot struct {
	Readings  device.ReadingsDocument
	Control   model.ControlState
	Heartbeat map[string]float64
}

// ActiveAlarmLookup reports whether an unresolved local alarm already
// exists for (alarmType, deviceID) — the de-duplication check of spec
// §4.7.4 ("at most one active local row may exist").
type ActiveAlarmLookup interface {
	HasActive(alarmType, deviceID string) (bool, error)
}

// Evaluator holds the configured alarm definitions and per-key cooldown
// state. It is not safe for concurrent use from multiple goroutines;
// callers invoke Evaluate once per logging buffer tick from a single
// goroutine.
type Evaluator struct {
	defs          []model.AlarmDefinition
	lastTriggered map[string]time.Time
}

// New builds an Evaluator over the configured alarm definitions.
func New(defs []model.AlarmDefinition) *Evaluator {
	return &Evaluator{defs: defs, lastTriggered: make(map[string]time.Time)}
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Fired    []model.TriggeredAlarm
	Resolved []ResolvedAlarm
}

// ResolvedAlarm names an alarm the evaluator determined should be
// auto-resolved (its condition no longer matches).
type ResolvedAlarm struct {
	AlarmType string
	DeviceID  string
}

// Evaluate runs every enabled definition against snapshot, in declaration
// order, and returns newly triggered and newly auto-resolved alarms.
func (e *Evaluator) Evaluate(snap Snapshot, active ActiveAlarmLookup, now time.Time) (Result, error) {
	var result Result

	for _, def := range e.defs {
		if !def.Enabled {
			continue
		}
		for _, deviceID := range e.candidateDevices(def, snap) {
			key := cooldownKey(def.ID, deviceID)
			if t, ok := e.lastTriggered[key]; ok && now.Sub(t) < time.Duration(def.CooldownSeconds)*time.Second {
				continue
			}

			value, ok := extractValue(def.Source, deviceID, snap)
			if !ok {
				continue
			}
			cond, matched := firstMatchingCondition(def.Conditions, value)

			alarmType := def.ID
			hasActive, err := active.HasActive(alarmType, deviceID)
			if err != nil {
				return result, err
			}

			if matched {
				if hasActive {
					continue
				}
				result.Fired = append(result.Fired, model.TriggeredAlarm{
					DefinitionID: def.ID,
					AlarmType:    alarmType,
					Severity:     cond.Severity,
					Message:      cond.Message,
					Condition:    conditionText(cond, value),
					DeviceID:     deviceID,
					Timestamp:    now,
				})
				e.lastTriggered[key] = now
				continue
			}

			if hasActive {
				result.Resolved = append(result.Resolved, ResolvedAlarm{AlarmType: alarmType, DeviceID: deviceID})
			}
		}
	}

	return result, nil
}

// candidateDevices returns the device ids a definition evaluates against:
// the bound device if one is configured, otherwise every device present
// in the snapshot.
// Calculated/heartbeat sources are always site-scoped ("" device id).
func (e *Evaluator) candidateDevices(def model.AlarmDefinition, snap Snapshot) []string {
	if def.Source.Kind == model.SourceCalculated || def.Source.Kind == model.SourceHeartbeat {
		return []string{""}
	}
	if def.Source.DeviceID != "" {
		return []string{def.Source.DeviceID}
	}
	ids := make([]string, 0, len(snap.Readings.Devices))
	for id := range snap.Readings.Devices {
		ids = append(ids, id)
	}
	return ids
}

// extractValue reads the referenced value from the snapshot. ok is
// false when the value isn't available this tick (e.g. device offline, or
// register not yet read), in which case the definition is skipped rather
// than treated as a non-match.
func extractValue(src model.AlarmSource, deviceID string, snap Snapshot) (float64, bool) {
	switch src.Kind {
	case model.SourceRegister:
		dev, ok := snap.Readings.Devices[deviceID]
		if !ok || !dev.Online {
			return 0, false
		}
		reading, ok := dev.Readings[src.RegisterName]
		if !ok {
			return 0, false
		}
		return reading.Value, true

	case model.SourceDeviceInfo:
		dev, ok := snap.Readings.Devices[deviceID]
		if !ok {
			return 0, false
		}
		switch src.FieldName {
		case "online":
			if dev.Online {
				return 1, true
			}
			return 0, true
		case "consecutive_failures":
			return float64(dev.Status.ConsecutiveFailures), true
		default:
			return 0, false
		}

	case model.SourceCalculated:
		switch src.FieldName {
		case "total_load_kw":
			return snap.Control.TotalLoadKW, true
		case "total_solar_kw":
			return snap.Control.TotalSolarKW, true
		case "total_generator_kw":
			return snap.Control.TotalGeneratorKW, true
		case "solar_limit_pct":
			return snap.Control.SolarLimitPct, true
		case "solar_limit_kw":
			return snap.Control.SolarLimitKW, true
		case "execution_time_ms":
			return float64(snap.Control.ExecutionTimeMS), true
		case "inverters_online":
			return float64(snap.Control.InvertersOnline), true
		case "load_meters_online":
			return float64(snap.Control.LoadMetersOnline), true
		case "generators_online":
			return float64(snap.Control.GeneratorsOnline), true
		default:
			return 0, false
		}

	case model.SourceHeartbeat:
		v, ok := snap.Heartbeat[src.FieldName]
		return v, ok

	default:
		return 0, false
	}
}

// firstMatchingCondition returns the first condition (in declaration
// order) whose operator evaluates true for value.
func firstMatchingCondition(conditions []model.Condition, value float64) (model.Condition, bool) {
	for _, c := range conditions {
		if c.Operator.Evaluate(value, c.Threshold) {
			return c, true
		}
	}
	return model.Condition{}, false
}

// conditionText renders the matched condition for the alarms table's
// condition column.
func conditionText(c model.Condition, value float64) string {
	return fmt.Sprintf("%s %s %.2f (value=%.2f)", "value", c.Operator, c.Threshold, value)
}

func cooldownKey(defID, deviceID string) string {
	if deviceID == "" {
		return defID + "|global"
	}
	return defID + "|" + deviceID
}
