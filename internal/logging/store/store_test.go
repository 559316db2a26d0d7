package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLocked = errors.New("database is locked")

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newWithDB(db, t.TempDir()), mock
}

func TestInsertDeviceReadings_WritesChunkInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := make([]DeviceReadingRow, 3)
	for i := range rows {
		rows[i] = DeviceReadingRow{ID: "r" + string(rune('a'+i)), SiteID: "site1", DeviceID: "inv1", RegisterName: "p", Value: 1, Timestamp: "2026-01-01T00:00:00Z", Source: "live", CreatedAt: "2026-01-01T00:00:00Z"}
	}

	mock.ExpectBegin()
	for range rows {
		mock.ExpectExec("INSERT OR IGNORE INTO device_readings").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.InsertDeviceReadings(ctx, rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDeviceReadings_RetriesTransientFailureThenSucceeds(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := []DeviceReadingRow{{ID: "r1", SiteID: "site1", DeviceID: "inv1", RegisterName: "p", Value: 1, Timestamp: "t", Source: "live", CreatedAt: "t"}}

	// First attempt fails inside the transaction.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO device_readings").WillReturnError(errLocked)
	mock.ExpectRollback()

	// Second attempt (after 0.5s backoff) succeeds.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO device_readings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.InsertDeviceReadings(ctx, rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingDeviceReadingsCount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM device_readings").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.PendingDeviceReadingsCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestMarkReadingsSynced(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE device_readings SET synced_at").WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.MarkReadingsSynced(context.Background(), []string{"a", "b"}, "2026-01-01T00:00:00Z"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
