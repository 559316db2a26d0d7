package cloudsync

import (
	"context"
	"time"
)

// PushResolution notifies the cloud that the controller auto-resolved an
// alarm locally, PATCHing the matching still-open cloud row. deviceID may be empty for unbound alarm types.
func (e *Engine) PushResolution(ctx context.Context, alarmType, deviceID, resolvedAt string) error {
	return e.client.resolveUpstream(ctx, e.siteID, alarmType, deviceID, resolvedAt)
}

// ResyncResolvedAlarms polls the cloud for alarms resolved in the last 24h
// and applies matching resolutions to the local store, skipping alarm
// types the controller itself owns to avoid the
// observe-condition-persists → re-create → cloud-resolve → re-create
// oscillation.
func (e *Engine) ResyncResolvedAlarms(ctx context.Context, controllerOwnedTypes map[string]bool) (int, error) {
	since := time.Now().Add(-24 * time.Hour)

	resolved, err := e.client.resolvedAlarmsSince(ctx, e.siteID, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, r := range resolved {
		if controllerOwnedTypes[r.AlarmType] {
			continue
		}
		deviceID := ""
		if r.DeviceID != nil {
			deviceID = *r.DeviceID
		}

		row, err := e.store.ActiveAlarm(ctx, e.siteID, r.AlarmType, deviceID)
		if err != nil {
			return applied, err
		}
		if row == nil {
			continue
		}
		if row.CreatedAt > r.ResolvedAt {
			// Locally created after the cloud resolution timestamp: the
			// resolved row refers to an earlier occurrence, not this one.
			continue
		}
		if err := e.store.ResolveAlarm(ctx, row.ID, r.ResolvedAt); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
