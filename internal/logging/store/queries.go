package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/volteria/controller-core/internal/apperr"
)

// sqlxIn expands a `?` IN-clause placeholder and rebinds it to the
// driver's bindvar style (sqlite uses `?`, same as sqlx's default, but this
// keeps the call site driver-agnostic).
func sqlxIn(query string, syncedAt string, ids []string) (string, []any, error) {
	q, args, err := sqlx.In(query, syncedAt, ids)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.QUESTION, q), args, nil
}

// PendingDeviceReadingsCount returns the number of unsynced device_readings
// rows.
func (s *Store) PendingDeviceReadingsCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM device_readings WHERE synced_at IS NULL`)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeService, "store: count pending readings", err)
	}
	return n, nil
}

// ActiveAlarmCount returns the number of unresolved alarms for the site,
// surfaced by the logging service's /health endpoint for the system
// service's heartbeat payload.
func (s *Store) ActiveAlarmCount(ctx context.Context, siteID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM alarms WHERE site_id = ? AND resolved = 0`, siteID)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeService, "store: count active alarms", err)
	}
	return n, nil
}

// PendingDeviceReadingsNewestFirst returns up to limit unsynced readings,
// newest timestamp first.
func (s *Store) PendingDeviceReadingsNewestFirst(ctx context.Context, limit int) ([]DeviceReadingRow, error) {
	var rows []DeviceReadingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM device_readings WHERE synced_at IS NULL ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: select pending readings (newest)", err)
	}
	return rows, nil
}

// PendingDeviceReadingsOldestFirst returns up to limit unsynced readings,
// oldest timestamp first.
func (s *Store) PendingDeviceReadingsOldestFirst(ctx context.Context, limit int) ([]DeviceReadingRow, error) {
	var rows []DeviceReadingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM device_readings WHERE synced_at IS NULL ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: select pending readings (oldest)", err)
	}
	return rows, nil
}

// PendingControlLogs returns up to limit unsynced control_logs rows, oldest
// first.
func (s *Store) PendingControlLogs(ctx context.Context, limit int) ([]ControlLogRow, error) {
	var rows []ControlLogRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM control_logs WHERE synced_at IS NULL ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: select pending control logs", err)
	}
	return rows, nil
}

// PendingAlarms returns up to limit unsynced alarms rows, oldest first.
func (s *Store) PendingAlarms(ctx context.Context, limit int) ([]AlarmRow, error) {
	var rows []AlarmRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM alarms WHERE synced_at IS NULL ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: select pending alarms", err)
	}
	return rows, nil
}

// ActiveAlarm looks up the current unresolved alarm for a (site, type,
// device) key, used for de-duplication.
func (s *Store) ActiveAlarm(ctx context.Context, siteID, alarmType, deviceID string) (*AlarmRow, error) {
	var rows []AlarmRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM alarms WHERE site_id = ? AND alarm_type = ? AND IFNULL(device_id,'') = ? AND resolved = 0
		 ORDER BY timestamp DESC LIMIT 1`, siteID, alarmType, deviceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: select active alarm", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// DeleteSyncedOlderThan deletes rows already synced and older than
// cutoffISO from all three tables.
func (s *Store) DeleteSyncedOlderThan(ctx context.Context, cutoffISO string) (int64, error) {
	var total int64
	for _, table := range []string{"control_logs", "alarms", "device_readings"} {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE synced_at IS NOT NULL AND timestamp < ?", cutoffISO)
		if err != nil {
			return total, apperr.Wrap(apperr.CodeService, "store: delete expired rows from "+table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
