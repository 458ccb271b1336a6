package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QBITTORRENT_URL", "http://localhost:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.QBittorrent.URL)
	assert.Equal(t, 9091, cfg.Bridge.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sync.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Sync.ErrorBackoff)
	assert.Equal(t, 10*time.Second, cfg.Sync.StartupTimeout)
	assert.Equal(t, 30*time.Second, cfg.Cache.DetailTTL)
	assert.False(t, cfg.Bridge.AuthEnabled())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("QBITTORRENT_URL", "http://qbt.local:9000")
	t.Setenv("BRIDGE_PORT", "9999")
	t.Setenv("SYNC_POLL_INTERVAL", "3s")
	t.Setenv("BRIDGE_AUTH_USERNAME", "user")
	t.Setenv("BRIDGE_AUTH_PASSWORD", "pass")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://qbt.local:9000", cfg.QBittorrent.URL)
	assert.Equal(t, 9999, cfg.Bridge.Port)
	assert.Equal(t, 3*time.Second, cfg.Sync.PollInterval)
	assert.True(t, cfg.Bridge.AuthEnabled())
	assert.Equal(t, "0.0.0.0:9999", cfg.Bridge.ListenAddr())
}

func TestValidateRejectsMissingURL(t *testing.T) {
	cfg := &Config{
		Bridge:  BridgeConfig{Host: "0.0.0.0", Port: 9091},
		Sync:    SyncConfig{PollInterval: time.Second},
		Cache:   CacheConfig{DetailTTL: time.Second},
		Logging: LoggingConfig{Level: "warn"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL")
}

func TestValidateRejectsHalfConfiguredAuth(t *testing.T) {
	t.Setenv("QBITTORRENT_URL", "http://localhost:8080")
	t.Setenv("BRIDGE_AUTH_USERNAME", "user")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	t.Setenv("QBITTORRENT_URL", "http://localhost:8080")
	t.Setenv("LOG_LEVEL", "shouty")

	_, err := LoadConfig()
	require.Error(t, err)
}
