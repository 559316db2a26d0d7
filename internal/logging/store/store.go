// Package store implements the Local Store: an embedded,
// cgo-free SQLite database holding control_logs, alarms, and
// device_readings. Grounded on the Tutu-Engine sibling example's
// infra/sqlite.Open (WAL mode, busy timeout, single-writer pool) for the
// connection setup, and system/platform/migrations.Apply's
// pattern for schema versioning.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo

	"github.com/volteria/controller-core/internal/apperr"
)

// chunkSize bounds bulk writes to stay under SQLite's per-statement
// parameter limit and bound lock duration.
const chunkSize = 1000

// retryBackoffs is the chunk-write retry schedule.
var retryBackoffs = []float64{0.5, 1, 2}

// Store wraps the embedded SQLite database.
type Store struct {
	db      *sqlx.DB
	dataDir string

	vacuumMarker string
}

// Open creates or opens the SQLite database at dataDir/volteria.db, sets
// the required durability pragmas, and applies migrations.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: create data dir", err)
	}

	dbPath := filepath.Join(dataDir, "volteria.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=busy_timeout(5000)&_pragma=auto_vacuum(INCREMENTAL)"

	rawDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeService, "store: open sqlite", err)
	}
	// modernc.org/sqlite registers itself under driver name "sqlite", which
	// sqlx's bindtype table doesn't recognize; wrapping it as "sqlite3"
	// (same `?` placeholder dialect) gets NamedExec/sqlx.In the right
	// bindvar style without changing which driver actually executes.
	db := sqlx.NewDb(rawDB, "sqlite3")
	// SQLite is single-writer; one connection avoids SQLITE_BUSY churn
	// under concurrent goroutines (matches Tutu-Engine's infra/sqlite.Open).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeService, "store: ping sqlite", err)
	}

	if err := applyMigrations(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA cache_size = -8000"); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeService, "store: set cache_size", err)
	}

	return &Store{db: db, dataDir: dataDir, vacuumMarker: filepath.Join(dataDir, ".vacuum_done")}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw *sql.DB for callers needing it (e.g. sqlmock-backed
// tests construct a Store directly via newWithDB).
func (s *Store) DB() *sql.DB { return s.db.DB }

// newWithDB wraps an already-open database handle, used by tests against
// go-sqlmock where a real file would be unnecessary I/O.
func newWithDB(db *sql.DB, dataDir string) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite3"), dataDir: dataDir, vacuumMarker: filepath.Join(dataDir, ".vacuum_done")}
}

func retryable(ctx context.Context, attempt func() error) error {
	var lastErr error
	for i := 0; i <= len(retryBackoffs); i++ {
		lastErr = attempt()
		if lastErr == nil {
			return nil
		}
		if i == len(retryBackoffs) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sleepFor(retryBackoffs[i]):
		}
	}
	return fmt.Errorf("store: exhausted retries: %w", lastErr)
}
