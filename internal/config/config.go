// Package config provides configuration management for the application
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// ProviderConfig holds the video provider credentials and endpoint
type ProviderConfig struct {
	// AppID is the numeric application id issued by the provider
	AppID        string
	ServerSecret string
	BaseURL      string
	TokenTTL     time.Duration
}

// DecryptConfig holds configuration for the parameter decryption collaborator
type DecryptConfig struct {
	URL     string
	Timeout time.Duration
}

// SessionConfig holds timings of the consultation session lifecycle
type SessionConfig struct {
	// JoinFallbackWindow bounds the wait for a join callback before the single optimistic check
	JoinFallbackWindow time.Duration
	PollInterval       time.Duration
	PostCallScripts    string
	// Retention bounds how long an ended or unwatched page session is kept; zero keeps them
	// until the page closes them
	Retention time.Duration
}

// RedisConfig holds Redis/Valkey configuration
type RedisConfig struct {
	Enabled bool
	// URI is prioritized if provided, otherwise individual connection parameters are used
	URI       string
	Host      string
	Port      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	// PageCacheTTL bounds how long a decrypted parameter bundle survives for reloads
	PageCacheTTL  time.Duration
	RoomStatusTTL time.Duration
}

// LedgerConfig holds configuration of the consultation outcome ledger
type LedgerConfig struct {
	// Path of the sqlite database; empty disables the ledger
	Path string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string
}

// Config is the complete process configuration
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Decrypt  DecryptConfig
	Session  SessionConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Log      LogConfig
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")

	v.SetDefault("PROVIDER_APP_ID", "")
	v.SetDefault("PROVIDER_SERVER_SECRET", "")
	v.SetDefault("PROVIDER_BASE_URL", "http://localhost:9090")
	v.SetDefault("PROVIDER_TOKEN_TTL", "2h")

	v.SetDefault("DECRYPT_URL", "http://localhost:5000/api/decrypt")
	v.SetDefault("DECRYPT_TIMEOUT", "10s")

	v.SetDefault("JOIN_FALLBACK_WINDOW", "8s")
	v.SetDefault("ROOM_STATUS_POLL_INTERVAL", "2s")
	v.SetDefault("POSTCALL_SCRIPTS", "")
	v.SetDefault("SESSION_RETENTION", "2m")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_URI", "")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_USERNAME", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "teleconsult:")
	v.SetDefault("PAGE_CACHE_TTL", "12h")
	v.SetDefault("ROOM_STATUS_TTL", "1m")

	v.SetDefault("LEDGER_PATH", "teleconsult.db")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
		},
		Provider: ProviderConfig{
			AppID:        strings.TrimSpace(v.GetString("PROVIDER_APP_ID")),
			ServerSecret: v.GetString("PROVIDER_SERVER_SECRET"),
			BaseURL:      strings.TrimRight(v.GetString("PROVIDER_BASE_URL"), "/"),
			TokenTTL:     v.GetDuration("PROVIDER_TOKEN_TTL"),
		},
		Decrypt: DecryptConfig{
			URL:     v.GetString("DECRYPT_URL"),
			Timeout: v.GetDuration("DECRYPT_TIMEOUT"),
		},
		Session: SessionConfig{
			JoinFallbackWindow: v.GetDuration("JOIN_FALLBACK_WINDOW"),
			PollInterval:       v.GetDuration("ROOM_STATUS_POLL_INTERVAL"),
			PostCallScripts:    v.GetString("POSTCALL_SCRIPTS"),
			Retention:          v.GetDuration("SESSION_RETENTION"),
		},
		Redis: RedisConfig{
			Enabled:       v.GetBool("REDIS_ENABLED"),
			URI:           v.GetString("REDIS_URI"),
			Host:          v.GetString("REDIS_HOST"),
			Port:          v.GetString("REDIS_PORT"),
			Username:      v.GetString("REDIS_USERNAME"),
			Password:      v.GetString("REDIS_PASSWORD"),
			DB:            v.GetInt("REDIS_DB"),
			KeyPrefix:     v.GetString("REDIS_KEY_PREFIX"),
			PageCacheTTL:  v.GetDuration("PAGE_CACHE_TTL"),
			RoomStatusTTL: v.GetDuration("ROOM_STATUS_TTL"),
		},
		Ledger: LedgerConfig{
			Path: v.GetString("LEDGER_PATH"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if cfg.Session.JoinFallbackWindow <= 0 {
		return nil, fmt.Errorf("JOIN_FALLBACK_WINDOW must be positive")
	}
	if cfg.Session.PollInterval <= 0 {
		return nil, fmt.Errorf("ROOM_STATUS_POLL_INTERVAL must be positive")
	}
	if cfg.Session.Retention < 0 {
		return nil, fmt.Errorf("SESSION_RETENTION must not be negative")
	}
	if cfg.Decrypt.URL == "" {
		return nil, fmt.Errorf("DECRYPT_URL is required")
	}

	return cfg, nil
}

// IsProviderConfigValid checks that both provider credentials are present and well formed
func (c ProviderConfig) IsProviderConfigValid() bool {
	if c.AppID == "" || strings.TrimSpace(c.ServerSecret) == "" {
		return false
	}
	_, err := strconv.ParseUint(c.AppID, 10, 32)
	return err == nil
}
