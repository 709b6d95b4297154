package cache

import (
	"time"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Config exposes the query cache configuration.
type Config struct {
	// StaleTime is how long a fetched page stays fresh. It is the TTL of the
	// underlying freshness store.
	StaleTime          time.Duration
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration

	// RetentionWindow is how long an entry with no subscribers is kept
	// before Collect drops it.
	RetentionWindow time.Duration

	// GCInterval enables a background Collect loop when greater than zero.
	GCInterval time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.RetentionWindow = 5 * time.Minute
	cfg.GCInterval = time.Minute
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.toInternal().Validate(); err != nil {
		return err
	}
	if c.RetentionWindow < 0 {
		return &cacheinfra.ConfigError{Field: "RetentionWindow", Message: "must be non-negative"}
	}
	if c.GCInterval < 0 {
		return &cacheinfra.ConfigError{Field: "GCInterval", Message: "must be non-negative"}
	}
	return nil
}

// NewCacheService constructs the default freshness store using the provided configuration.
func NewCacheService(cfg Config) (CacheService, error) {
	return cacheinfra.NewSturdycService(cfg.toInternal())
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.StaleTime,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		StaleTime:          cfg.TTL,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
