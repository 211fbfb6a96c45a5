package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 7200*time.Second, cfg.Cache.TTLFor("room"))
	require.Equal(t, 3, cfg.Queue.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	require.Equal(t, 3, cfg.Queue.ConcurrencyFor("durable"))
	require.Equal(t, 2, cfg.Queue.ConcurrencyFor("analytics"))
	require.Equal(t, 5, cfg.Queue.ConcurrencyFor("notifications"))
	require.Equal(t, 1, cfg.Queue.ConcurrencyFor("unknown"))
	require.Equal(t, 10, cfg.Notify.RateLimit)
	require.Equal(t, 3, cfg.Notify.BreakerThreshold)
	require.Equal(t, 60*time.Second, cfg.Notify.BreakerCooldown)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livedesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  defaultTtl: 1h
  familyTtl:
    typing: 10s
queue:
  maxAttempts: 5
notify:
  rateLimit: 20
`), 0o644))

	t.Setenv("NOTIFY_RATE_LIMIT", "7")
	t.Setenv("DB_PATH", filepath.Join(dir, "test.db"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, time.Hour, cfg.Cache.TTLFor("room"))
	require.Equal(t, 10*time.Second, cfg.Cache.TTLFor("typing"))
	require.Equal(t, 5, cfg.Queue.MaxAttempts)
	require.Equal(t, 7, cfg.Notify.RateLimit)
	require.Equal(t, filepath.Join(dir, "test.db"), cfg.Database.Path)
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.Backend = "memcached"
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Database.Driver = "libsql"
	require.Error(t, cfg.Validate())

	cfg.Database.TursoURL = "libsql://example.turso.io"
	require.NoError(t, cfg.Validate())
}
