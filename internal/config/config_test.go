package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Realtime.ColdStartDelayMS)
	assert.Equal(t, 3, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 3000, cfg.Realtime.ReconnectDelayMS)
	assert.Equal(t, 300, cfg.Cache.ExpirySeconds)
	assert.Equal(t, 100, cfg.Anomalies.Limit)
	assert.Equal(t, 10, cfg.Anomalies.RecentLimit)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_ParsesYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: "https://vms.example.com/api"
  timeout_ms: 2500
realtime:
  retry_delay_ms: 500
cache:
  backend: redis
  redis_addr: "cache:6379"
anomalies:
  limit: 50
`), 0o600))

	t.Setenv("MONITOR_REDIS_ADDR", "override:6380")
	t.Setenv("MONITOR_TOKEN", "abc")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://vms.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 2500*time.Millisecond, Millis(cfg.API.TimeoutMS))
	assert.Equal(t, 500, cfg.Realtime.RetryDelayMS)
	assert.Equal(t, 2000, cfg.Realtime.ColdStartDelayMS, "unset keys keep defaults")
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "override:6380", cfg.Cache.RedisAddr)
	assert.Equal(t, "abc", cfg.Auth.Token)
	assert.Equal(t, 50, cfg.Anomalies.Limit)
	assert.Equal(t, "wss://vms.example.com/ws", cfg.RealtimeURL())
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "api: [unterminated"},
		{"relative base url", "api:\n  base_url: \"/api\""},
		{"bad backend", "cache:\n  backend: disk"},
		{"http realtime url", "realtime:\n  url: \"http://x\""},
		{"zero attempts", "realtime:\n  max_attempts: 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "monitor.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
