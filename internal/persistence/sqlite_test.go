package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
)

func TestSQLiteMigrations(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := NewSQLite(ctx, config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "t.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunSQLiteMigrations(ctx, db.DB, logger))
	// second run is a no-op
	require.NoError(t, RunSQLiteMigrations(ctx, db.DB, logger))

	for _, table := range []string{"tickets", "community_config", "ticket_history", "schema_migrations"} {
		var count int
		err := db.DB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var applied int
	require.NoError(t, db.DB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)

	var fk int
	require.NoError(t, db.DB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestLoadMigrationsSorted(t *testing.T) {
	for _, dialect := range []string{"postgres", "sqlite"} {
		ms, err := loadMigrations(dialect)
		require.NoError(t, err)
		require.NotEmpty(t, ms)
		assert.Equal(t, "001_init.sql", ms[0].version)
	}
}
