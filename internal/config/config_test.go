package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("SESSION_ROLE", "")
	t.Setenv("TITIPANQ_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "admin", cfg.Session.Role)
	assert.Equal(t, "titipanq/pickups", cfg.MQTT.Topic)
	assert.Equal(t, "@daily", cfg.ExpireCron)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://titipanq.example/api/v1")
	t.Setenv("API_TIMEOUT_SECONDS", "5")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("SESSION_ROLE", "")
	t.Setenv("TITIPANQ_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://titipanq.example/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
}

func TestLoad_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "titipanq.yaml")
	content := `
api:
  base_url: http://registry.local/api/v1
  retry_count: 0
session:
  role: user
redis:
  enabled: true
  cache_ttl_seconds: 15
expire_cron: "0 2 * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TITIPANQ_CONFIG", path)
	t.Setenv("SESSION_ROLE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://registry.local/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 0, cfg.API.RetryCount)
	assert.Equal(t, "user", cfg.Session.Role)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 15*time.Second, cfg.CacheTTL)
	assert.Equal(t, "0 2 * * *", cfg.ExpireCron)
}

func TestLoad_InvalidRole(t *testing.T) {
	t.Setenv("SESSION_ROLE", "operator")
	t.Setenv("TITIPANQ_CONFIG", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_ROLE")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("TITIPANQ_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}
