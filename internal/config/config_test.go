package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverLibSQL, cfg.Store.Driver)
	assert.Equal(t, "file:procflow.db", cfg.Store.DSN)
	assert.Equal(t, BackendStore, cfg.Scheduler.Backend)
	assert.Equal(t, "@every 30s", cfg.Scheduler.Spec)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, int64(10*1024*1024), cfg.HTTP.MaxResponseBody)
	assert.True(t, cfg.MCP.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
  write_timeout: 1m
store:
  driver: postgres
  dsn: postgres://procflow@db/procflow
redis:
  addr: redis:6379
scheduler:
  backend: redis
  spec: "*/5 * * * *"
log:
  level: debug
  format: json
dedup:
  ttl: 2h
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://procflow@db/procflow", cfg.Store.DSN)
	assert.Equal(t, BackendRedis, cfg.Scheduler.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Spec)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2*time.Hour, cfg.Dedup.TTL)
	// Untouched keys keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store:\n  dsn: file:from-file.db\n")
	t.Setenv("PROCFLOW_STORE_DSN", "file:from-env.db")
	t.Setenv("PROCFLOW_SCHEDULER_WORKERS", "9")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "file:from-env.db", cfg.Store.DSN)
	assert.Equal(t, 9, cfg.Scheduler.Workers)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad driver", "store:\n  driver: mysql\n", "store.driver"},
		{"redis without addr", "scheduler:\n  backend: redis\n", "redis.addr is required"},
		{"bad backend", "scheduler:\n  backend: kafka\n", "scheduler.backend"},
		{"no workers", "scheduler:\n  workers: 0\n", "scheduler.workers"},
		{"zero ttl", "dedup:\n  ttl: 0s\n", "dedup.ttl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeFile(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
