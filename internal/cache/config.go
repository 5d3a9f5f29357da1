package cache

import (
	"fmt"
	"time"
)

// Config selects and sizes the cache backend.
type Config struct {
	RedisURL        string        // empty selects the in-memory backend
	Prefix          string        // redis key prefix
	MaxEntries      int           // memory backend bound
	CleanupInterval time.Duration // memory backend sweep
	VerifiedTTL     time.Duration // how long a verified event id is remembered
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Prefix:          "nostr-desk:",
		MaxEntries:      50000,
		CleanupInterval: time.Minute,
		VerifiedTTL:     6 * time.Hour, // relays replay history on every reconnect
	}
}

// New creates the backend described by cfg.
func New(cfg Config) (Backend, error) {
	if cfg.RedisURL != "" {
		rc, err := NewRedisCache(cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("creating redis cache: %w", err)
		}
		return rc, nil
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return NewMemoryCache(cfg.MaxEntries, interval), nil
}
