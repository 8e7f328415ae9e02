package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/persistence"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/repository/repotest"
)

func newSQLiteStore(t *testing.T) repository.Store {
	t.Helper()
	ctx := context.Background()
	db, err := persistence.NewSQLite(ctx, config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "tickets.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, persistence.RunSQLiteMigrations(ctx, db.DB, zap.NewNop()))
	return repository.NewSQLiteStore(db.DB)
}

func TestSQLiteStoreContract(t *testing.T) {
	repotest.Run(t, newSQLiteStore)
}
