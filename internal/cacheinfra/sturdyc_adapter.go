package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc freshness store.
// A value that is present in the store is fresh; once its TTL passes the
// query cache treats the matching entry as stale and goes back to the loader.
type Config struct {
	// Capacity defines the maximum number of pages the store keeps.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of store shards for concurrent access.
	// Must be greater than 0. Default: 64
	NumShards int

	// TTL is how long a fetched page is considered fresh.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the store sweeps expired pages.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config sized for an admin session: a few thousand
// pages, fresh for thirty seconds.
func DefaultConfig() Config {
	return Config{
		Capacity:           5000,
		NumShards:          64,
		TTL:                30 * time.Second,
		EvictionPercentage: 10,
		EvictionInterval:   0,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go straight to sturdyc.New.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// SturdycService stores fetched pages in a sturdyc client.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and builds the sturdyc client behind it.
//
// Version compatibility note: this assumes the sturdyc v1.x API.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycService{client: client}, nil
}

// GetOrFetch returns the fresh value stored under key, or calls fetchFn and
// stores its result. Concurrent calls for the same key share one fetchFn call.
// Errors are never stored.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	if fetchFn == nil {
		return nil, &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}
	v, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetchFn(ctx)
		if v == nil {
			// sturdyc rejects a nil result as an invalid type and drops err.
			v = nilValue{}
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	return unbox(v), nil
}

// Peek reports whether a fresh value is stored under key without fetching.
func (s *SturdycService) Peek(key string) (any, bool) {
	v, ok := s.client.Get(key)
	return unbox(v), ok
}

// nilValue stands in for a nil fetch result inside the sturdyc client.
type nilValue struct{}

func unbox(v any) any {
	if _, ok := v.(nilValue); ok {
		return nil
	}
	return v
}

// Delete removes a single key so the next GetOrFetch goes back to fetchFn.
func (s *SturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every key starting with prefix. Query keys are
// namespaced by resource, so this drops a whole resource in one call.
func (s *SturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes multiple keys.
func (s *SturdycService) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Keys returns a snapshot of the stored keys.
func (s *SturdycService) Keys() []string {
	return s.client.ScanKeys()
}
