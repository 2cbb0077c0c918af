package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
telegram:
  token: "123:abc"
  admin_id: 99
  run_mode: longpoll
logging:
  level: debug
database:
  host: localhost
  user: vat
  name: vatwatch
vies:
  timeout: 15s
monitoring:
  check_interval: 30m
  notify_admin_on_unrecoverable_errors: true
http:
  listen: ":8080"
  api_token: secret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "longpoll", cfg.Telegram.RunMode)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
	assert.Equal(t, 15*time.Second, cfg.Vies.Timeout)
	assert.Equal(t, "https://ec.europa.eu/taxation_customs/vies/rest-api", cfg.Vies.BaseURL)
	assert.Equal(t, 90, cfg.Monitoring.ExpirationDays)
	assert.Equal(t, 10, cfg.Monitoring.MaxPendingPerUser)
	assert.Equal(t, 30*time.Minute, cfg.Monitoring.CheckInterval)
	assert.Same(t, &cfg.Config, cfg.CoreConfig())

	lc := cfg.Lifecycle()
	assert.Equal(t, int64(99), lc.AdminChatID)
	assert.True(t, lc.NotifyAdminOnUnrecoverable)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler().Interval)
	assert.Zero(t, cfg.Scheduler().LeaseRenewal)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("MAX_PENDING_PER_USER", "3")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3, cfg.Monitoring.MaxPendingPerUser)
	assert.Equal(t, "vatwatch:cycle:lock", cfg.Redis.LockKey)
	assert.Equal(t, 10*time.Minute, cfg.Redis.LockTTL)
	assert.Equal(t, 200*time.Second, cfg.Scheduler().LeaseRenewal)
}

func TestNormalizeRejects(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Telegram.Token = "t"
		c.Database.Host = "h"
		return c
	}

	c := base()
	c.Database.Host = ""
	assert.ErrorContains(t, Normalize(c), "database.host")

	c = base()
	c.Monitoring.NotifyAdminOnUnrecoverableErrors = true
	assert.ErrorContains(t, Normalize(c), "telegram.admin_id")

	c = base()
	c.HTTP.Listen = ":8080"
	assert.ErrorContains(t, Normalize(c), "http.api_token")

	c = base()
	c.Monitoring.ExpirationDays = -1
	assert.Error(t, Normalize(c))

	c = base()
	c.Telegram.Token = ""
	assert.ErrorContains(t, Normalize(c), "telegram token")

	assert.NoError(t, Normalize(base()))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("VATWATCH_TEST_DOTENV=yes\n"), 0o600))
	t.Setenv("VATWATCH_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("VATWATCH_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("VATWATCH_TEST_DOTENV"))
}
