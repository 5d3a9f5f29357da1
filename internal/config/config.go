// Package config reads and writes the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration.
type Config struct {
	DataDir   string        `toml:"data_dir"`
	KeyFile   string        `toml:"key_file"`
	LogLevel  string        `toml:"log_level"`
	LogFormat string        `toml:"log_format"` // "json" (default) or "text"
	Relays    []string      `toml:"relays"`
	Clock     ClockConfig   `toml:"clock"`
	Publish   PublishConfig `toml:"publish"`
	Cache     CacheConfig   `toml:"cache"`
	Inbound   InboundConfig `toml:"inbound"`
}

// ClockConfig configures the trusted time source.
type ClockConfig struct {
	NTPServer string `toml:"ntp_server"`
	SyncOnRun bool   `toml:"sync_on_run"`
}

// PublishConfig bounds the outbound rate per relay.
type PublishConfig struct {
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// CacheConfig selects the verification cache backend.
// This uses a tagged union pattern - RedisURL selects redis, empty means memory.
type CacheConfig struct {
	RedisURL    string `toml:"redis_url,omitempty"`
	MaxEntries  int    `toml:"max_entries"`
	VerifiedTTL string `toml:"verified_ttl"` // time.ParseDuration syntax
}

// InboundConfig sizes the queue between relay connections and the reconciler.
type InboundConfig struct {
	QueueSize int `toml:"queue_size"`
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "nostr-desk.db")
}

// VerifiedTTL parses Cache.VerifiedTTL, falling back to def.
func (c *Config) VerifiedTTL(def time.Duration) time.Duration {
	if c.Cache.VerifiedTTL == "" {
		return def
	}
	d, err := time.ParseDuration(c.Cache.VerifiedTTL)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// NewConfig creates a Config rooted at baseDir with default values.
func NewConfig(baseDir string) *Config {
	return &Config{
		DataDir:   filepath.Join(baseDir, "data"),
		KeyFile:   filepath.Join(baseDir, "keys", "identity.age"),
		LogLevel:  "info",
		LogFormat: "json",
		Relays: []string{
			"wss://relay.damus.io",
			"wss://nos.lol",
			"wss://relay.primal.net",
		},
		Clock:   ClockConfig{NTPServer: "pool.ntp.org", SyncOnRun: true},
		Publish: PublishConfig{RatePerSecond: 5, Burst: 10},
		Cache:   CacheConfig{MaxEntries: 50000, VerifiedTTL: "6h"},
		Inbound: InboundConfig{QueueSize: 1024},
	}
}

// Read decodes a Config from the provided reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, replacing any existing file.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file, refusing to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Defaults returns the base directory and config path. NOSTR_DESK_CONFIG
// overrides the config path.
func Defaults() (baseDir, configPath string, err error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("locating config directory: %w", err)
	}
	baseDir = filepath.Join(dir, "nostr-desk")
	configPath = os.Getenv("NOSTR_DESK_CONFIG")
	if configPath == "" {
		configPath = filepath.Join(baseDir, "config.toml")
	}
	return baseDir, configPath, nil
}
