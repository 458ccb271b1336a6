package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Bridge      BridgeConfig      `json:"bridge"`
	QBittorrent QBittorrentConfig `json:"qbittorrent"`
	Sync        SyncConfig        `json:"sync"`
	Cache       CacheConfig       `json:"cache"`
	Logging     LoggingConfig     `json:"logging"`
}

// BridgeConfig holds settings for the Transmission RPC endpoint
type BridgeConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	AuthUsername string `json:"auth_username"` // optional basic auth, empty disables
	AuthPassword string `json:"auth_password"`
}

// QBittorrentConfig holds upstream qBittorrent WebUI client configuration
type QBittorrentConfig struct {
	URL            string        `json:"url"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// SyncConfig holds background sync loop configuration
type SyncConfig struct {
	PollInterval   time.Duration `json:"poll_interval"`
	ErrorBackoff   time.Duration `json:"error_backoff"`
	StartupTimeout time.Duration `json:"startup_timeout"`
}

// CacheConfig holds detail cache configuration
type CacheConfig struct {
	DetailTTL       time.Duration `json:"detail_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`    // megabytes
	MaxBackups int    `json:"max_backups"` // number of backup files
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`    // compress rotated files
	ToStdout   bool   `json:"to_stdout"`   // also log to stdout
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("QBITTORRENT_URL", "http://localhost:8080")
	v.SetDefault("QBITTORRENT_USERNAME", "admin")
	v.SetDefault("QBITTORRENT_PASSWORD", "")
	v.SetDefault("QBITTORRENT_REQUEST_TIMEOUT", 30*time.Second)

	v.SetDefault("BRIDGE_HOST", "0.0.0.0")
	v.SetDefault("BRIDGE_PORT", 9091)
	v.SetDefault("BRIDGE_AUTH_USERNAME", "")
	v.SetDefault("BRIDGE_AUTH_PASSWORD", "")

	v.SetDefault("SYNC_POLL_INTERVAL", 1500*time.Millisecond)
	v.SetDefault("SYNC_ERROR_BACKOFF", 5*time.Second)
	v.SetDefault("SYNC_STARTUP_TIMEOUT", 10*time.Second)

	v.SetDefault("CACHE_DETAIL_TTL", 30*time.Second)
	v.SetDefault("CACHE_CLEANUP_INTERVAL", 10*time.Minute)

	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE", 30)
	v.SetDefault("LOG_COMPRESS", true)
	v.SetDefault("LOG_TO_STDOUT", true)
}

// LoadConfig loads configuration from the environment (and an optional .env
// file in the working directory). Environment variables win over defaults.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists; system env vars are fine on their own
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	config := &Config{
		Bridge: BridgeConfig{
			Host:         v.GetString("BRIDGE_HOST"),
			Port:         v.GetInt("BRIDGE_PORT"),
			AuthUsername: v.GetString("BRIDGE_AUTH_USERNAME"),
			AuthPassword: v.GetString("BRIDGE_AUTH_PASSWORD"),
		},
		QBittorrent: QBittorrentConfig{
			URL:            v.GetString("QBITTORRENT_URL"),
			Username:       v.GetString("QBITTORRENT_USERNAME"),
			Password:       v.GetString("QBITTORRENT_PASSWORD"),
			RequestTimeout: v.GetDuration("QBITTORRENT_REQUEST_TIMEOUT"),
		},
		Sync: SyncConfig{
			PollInterval:   v.GetDuration("SYNC_POLL_INTERVAL"),
			ErrorBackoff:   v.GetDuration("SYNC_ERROR_BACKOFF"),
			StartupTimeout: v.GetDuration("SYNC_STARTUP_TIMEOUT"),
		},
		Cache: CacheConfig{
			DetailTTL:       v.GetDuration("CACHE_DETAIL_TTL"),
			CleanupInterval: v.GetDuration("CACHE_CLEANUP_INTERVAL"),
		},
		Logging: LoggingConfig{
			Level:      v.GetString("LOG_LEVEL"),
			File:       v.GetString("LOG_FILE"),
			MaxSize:    v.GetInt("LOG_MAX_SIZE"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAge:     v.GetInt("LOG_MAX_AGE"),
			Compress:   v.GetBool("LOG_COMPRESS"),
			ToStdout:   v.GetBool("LOG_TO_STDOUT"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	if c.QBittorrent.URL == "" {
		return fmt.Errorf("QBITTORRENT_URL is required")
	}

	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("invalid bridge port: %d", c.Bridge.Port)
	}

	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync poll interval must be greater than 0, got: %s", c.Sync.PollInterval)
	}

	if c.Cache.DetailTTL <= 0 {
		return fmt.Errorf("detail cache TTL must be greater than 0, got: %s", c.Cache.DetailTTL)
	}

	// Basic auth needs both halves or neither
	if (c.Bridge.AuthUsername == "") != (c.Bridge.AuthPassword == "") {
		return fmt.Errorf("BRIDGE_AUTH_USERNAME and BRIDGE_AUTH_PASSWORD must be set together")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.Logging.Level)
	}

	return nil
}

// ListenAddr returns the host:port string the RPC server binds to
func (b *BridgeConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// AuthEnabled reports whether the RPC endpoint requires basic auth
func (b *BridgeConfig) AuthEnabled() bool {
	return b.AuthUsername != "" && b.AuthPassword != ""
}
