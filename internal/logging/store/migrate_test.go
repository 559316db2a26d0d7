package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestApplyMigrations_ExecutesEveryEmbeddedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	for range entries {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, applyMigrations(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
