package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/roomsync/internal/chat"
	"go.uber.org/zap/zapcore"
)

// Cache backends.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// TokenEnv overrides server.token when set.
const TokenEnv = "ROOMSYNC_TOKEN"

// Config represents the global ~/.roomsync/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Server         ServerConfig  `toml:"server"`
	Cache          CacheConfig   `toml:"cache"`
	Sync           SyncConfig    `toml:"sync"`
	Metrics        MetricsConfig `toml:"metrics"`
	Log            LogConfig     `toml:"log"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	BaseURL         string        `toml:"base_url"`
	StreamURL       string        `toml:"stream_url"`
	Token           string        `toml:"token"`
	UserID          string        `toml:"user_id"`
	Timeout         time.Duration `toml:"timeout"`
	RetryMaxElapsed time.Duration `toml:"retry_max_elapsed"`
	BreakerFailures uint32        `toml:"breaker_failures"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown"`
}

// CacheConfig selects the persistent cache backend and freshness window.
type CacheConfig struct {
	Backend string        `toml:"backend"`
	MaxAge  time.Duration `toml:"max_age"`
}

// SyncConfig tunes the sync coordinator.
type SyncConfig struct {
	RefreshWhenFresh bool   `toml:"refresh_when_fresh"`
	MergePolicy      string `toml:"merge_policy"`
	MessagePageSize  int    `toml:"message_page_size"`
}

// MetricsConfig enables the prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:         "http://127.0.0.1:8080/api/v1",
			StreamURL:       "ws://127.0.0.1:8080/api/v1/events",
			Timeout:         15 * time.Second,
			RetryMaxElapsed: 10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend: BackendSQLite,
			MaxAge:  5 * time.Minute,
		},
		Sync: SyncConfig{
			RefreshWhenFresh: true,
			MergePolicy:      chat.LastWriterWins.String(),
			MessagePageSize:  50,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		cfg.Server.Token = tok
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := Default()
		if tok := os.Getenv(TokenEnv); tok != "" {
			d.Server.Token = tok
		}
		return &d, nil
	}
	return cfg, err
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendSQLite, BackendPebble:
	default:
		return fmt.Errorf("cache.backend %q: want %q or %q", c.Cache.Backend, BackendSQLite, BackendPebble)
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive")
	}
	if _, err := chat.ParseMergePolicy(c.Sync.MergePolicy); err != nil {
		return fmt.Errorf("sync.merge_policy: %w", err)
	}
	for key, raw := range map[string]string{"server.base_url": c.Server.BaseURL, "server.stream_url": c.Server.StreamURL} {
		if raw == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Policy returns the parsed merge policy. Call after Validate.
func (c *Config) Policy() chat.MergePolicy {
	p, _ := chat.ParseMergePolicy(c.Sync.MergePolicy)
	return p
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
