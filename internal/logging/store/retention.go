package store

import (
	"context"
	"os"
	"time"

	"github.com/volteria/controller-core/internal/apperr"
)

// RunRetention deletes synced rows older than retentionHours and reclaims
// space, run on the hourly scheduler tick. The
// first pass performs a full VACUUM; subsequent passes use SQLite's
// incremental_vacuum in small chunks to avoid a long stop-the-world pause.
// A filesystem marker file (.vacuum_done in the data directory) tracks
// whether the initial full VACUUM has run, surviving process restarts.
func (s *Store) RunRetention(ctx context.Context, retentionHours int) (deleted int64, err error) {
	cutoff := time.Now().Add(-time.Duration(retentionHours) * time.Hour).UTC().Format(time.RFC3339)

	deleted, err = s.DeleteSyncedOlderThan(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	if err := s.vacuum(ctx); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (s *Store) vacuum(ctx context.Context) error {
	if _, statErr := os.Stat(s.vacuumMarker); os.IsNotExist(statErr) {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return apperr.Wrap(apperr.CodeService, "store: initial full vacuum", err)
		}
		if err := os.WriteFile(s.vacuumMarker, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
			return apperr.Wrap(apperr.CodeService, "store: write vacuum marker", err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum(200)"); err != nil {
		return apperr.Wrap(apperr.CodeService, "store: incremental vacuum", err)
	}
	return nil
}
