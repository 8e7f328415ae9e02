package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SWEEP_INACTIVITY_INTERVAL", "")
	t.Setenv("SWEEP_STALENESS_INTERVAL", "")
	t.Setenv("CLOSE_GRACE_DELAY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.InactivityInterval)
	assert.Equal(t, time.Hour, cfg.Scheduler.StalenessInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.CloseGraceDelay)
	assert.False(t, cfg.Slack.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SWEEP_INACTIVITY_INTERVAL", "90s")
	t.Setenv("SWEEP_STALENESS_INTERVAL", "120")
	t.Setenv("CLOSE_GRACE_DELAY", "0")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("SLACK_APP_TOKEN", "xapp-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Scheduler.InactivityInterval)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.StalenessInterval)
	assert.Equal(t, time.Duration(0), cfg.Scheduler.CloseGraceDelay)
	assert.True(t, cfg.Slack.Enabled())
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mysql")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "postgres")
		t.Setenv("POSTGRES_DSN", "")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("bad interval", func(t *testing.T) {
		t.Setenv("SWEEP_INACTIVITY_INTERVAL", "soon")
		_, err := Load()
		require.Error(t, err)
	})
}
