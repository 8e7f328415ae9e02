package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/persistence"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/repository/repotest"
)

// newPostgresStore needs TEST_DB_DSN pointing at a disposable database; the
// ticket tables are truncated before every subtest.
func newPostgresStore(t *testing.T) repository.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	pg, err := persistence.NewPostgres(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 16}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	require.NoError(t, persistence.RunPostgresMigrations(ctx, pg.Pool, zap.NewNop()))
	_, err = pg.Pool.Exec(ctx, `TRUNCATE ticket_history, tickets, community_config RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return repository.NewPostgresStore(pg.Pool)
}

func TestPostgresStoreContract(t *testing.T) {
	if os.Getenv("TEST_DB_DSN") == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	repotest.Run(t, newPostgresStore)
}
