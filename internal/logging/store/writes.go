package store

import (
	"context"
	"fmt"

	"github.com/volteria/controller-core/internal/apperr"
)

// InsertDeviceReadings writes rows in chunks of chunkSize, each chunk inside
// its own transaction with up to three retries at {0.5s,1s,2s} backoff.
// INSERT OR IGNORE makes re-delivery of an already-synced row idempotent
// against the (device_id, register_name, timestamp) natural key.
func (s *Store) InsertDeviceReadings(ctx context.Context, rows []DeviceReadingRow) error {
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		if err := retryable(ctx, func() error { return s.insertDeviceReadingChunk(ctx, chunk) }); err != nil {
			return apperr.Wrap(apperr.CodeService, "store: insert device readings chunk", err)
		}
	}
	return nil
}

func (s *Store) insertDeviceReadingChunk(ctx context.Context, rows []DeviceReadingRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `INSERT OR IGNORE INTO device_readings
		(id, site_id, device_id, register_name, value, unit, timestamp, source, synced_at, created_at)
		VALUES (:id, :site_id, :device_id, :register_name, :value, :unit, :timestamp, :source, :synced_at, :created_at)`

	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("insert device_reading %s/%s: %w", row.DeviceID, row.RegisterName, err)
		}
	}
	return tx.Commit()
}

// InsertControlLog writes one control_logs row.
func (s *Store) InsertControlLog(ctx context.Context, row ControlLogRow) error {
	const q = `INSERT OR IGNORE INTO control_logs
		(id, timestamp, site_id, total_load_kw, load_min, load_max, solar_output_kw, solar_min,
		 solar_max, dg_power_kw, solar_limit_pct, solar_limit_kw, safe_mode_active, config_mode,
		 operation_mode, load_meters_online, inverters_online, generators_online, execution_time_ms,
		 device_readings_json, synced_at, created_at)
		VALUES (:id, :timestamp, :site_id, :total_load_kw, :load_min, :load_max, :solar_output_kw, :solar_min,
		 :solar_max, :dg_power_kw, :solar_limit_pct, :solar_limit_kw, :safe_mode_active, :config_mode,
		 :operation_mode, :load_meters_online, :inverters_online, :generators_online, :execution_time_ms,
		 :device_readings_json, :synced_at, :created_at)`

	err := retryable(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, q, row)
		return err
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeService, "store: insert control_log", err)
	}
	return nil
}

// InsertAlarm writes one alarms row.
func (s *Store) InsertAlarm(ctx context.Context, row AlarmRow) error {
	const q = `INSERT INTO alarms
		(id, alarm_uuid, site_id, alarm_type, device_id, device_name, message, condition, severity,
		 timestamp, acknowledged, acknowledged_by, acknowledged_at, resolved, resolved_at,
		 controller_owned, synced_at, created_at)
		VALUES (:id, :alarm_uuid, :site_id, :alarm_type, :device_id, :device_name, :message, :condition, :severity,
		 :timestamp, :acknowledged, :acknowledged_by, :acknowledged_at, :resolved, :resolved_at,
		 :controller_owned, :synced_at, :created_at)`

	err := retryable(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, q, row)
		return err
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeService, "store: insert alarm", err)
	}
	return nil
}

// ResolveAlarm marks an alarm resolved locally (controller-side auto
// resolution).
func (s *Store) ResolveAlarm(ctx context.Context, id string, resolvedAt string) error {
	const q = `UPDATE alarms SET resolved = 1, resolved_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, resolvedAt, id)
	if err != nil {
		return apperr.Wrap(apperr.CodeService, "store: resolve alarm", err)
	}
	return nil
}

// MarkReadingsSynced flags device_readings rows as synced by id.
func (s *Store) MarkReadingsSynced(ctx context.Context, ids []string, syncedAt string) error {
	return s.markSynced(ctx, "device_readings", ids, syncedAt)
}

// MarkControlLogsSynced flags control_logs rows as synced by id.
func (s *Store) MarkControlLogsSynced(ctx context.Context, ids []string, syncedAt string) error {
	return s.markSynced(ctx, "control_logs", ids, syncedAt)
}

// MarkAlarmsSynced flags alarms rows as synced by id.
func (s *Store) MarkAlarmsSynced(ctx context.Context, ids []string, syncedAt string) error {
	return s.markSynced(ctx, "alarms", ids, syncedAt)
}

// markSynced updates synced_at for a batch of ids, chunked to respect
// SQLite's 999-parameter-per-statement limit.
func (s *Store) markSynced(ctx context.Context, table string, ids []string, syncedAt string) error {
	const maxParams = 900 // leaves room for syncedAt itself
	for start := 0; start < len(ids); start += maxParams {
		end := start + maxParams
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query, args, err := sqlxIn(fmt.Sprintf("UPDATE %s SET synced_at = ? WHERE id IN (?)", table), syncedAt, chunk)
		if err != nil {
			return apperr.Wrap(apperr.CodeService, "store: build mark-synced query", err)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return apperr.Wrap(apperr.CodeService, "store: mark synced", err)
		}
	}
	return nil
}
