package di

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/liststate"
)

// Config is the configuration of a Container.
type Config struct {
	Cache cache.Config

	// DebounceInterval and DefaultLimit seed every list controller.
	DebounceInterval time.Duration
	DefaultLimit     int
}

// DefaultConfig returns the cache and list defaults.
func DefaultConfig() Config {
	list := liststate.DefaultOptions()
	return Config{
		Cache:            cache.DefaultConfig(),
		DebounceInterval: list.DebounceInterval,
		DefaultLimit:     list.Limit,
	}
}

// Validate checks the cache and list settings.
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	opts := c.listOptions()
	return opts.Validate()
}

func (c Config) listOptions() liststate.Options {
	opts := liststate.DefaultOptions()
	opts.Limit = c.DefaultLimit
	opts.DebounceInterval = c.DebounceInterval
	return opts
}

type envConfig struct {
	StaleTime          time.Duration `mapstructure:"STALE_TIME"`
	Capacity           int           `mapstructure:"CAPACITY"`
	NumShards          int           `mapstructure:"NUM_SHARDS"`
	EvictionPercentage int           `mapstructure:"EVICTION_PERCENTAGE"`
	EvictionInterval   time.Duration `mapstructure:"EVICTION_INTERVAL"`
	RetentionWindow    time.Duration `mapstructure:"RETENTION_WINDOW"`
	GCInterval         time.Duration `mapstructure:"GC_INTERVAL"`
	DebounceInterval   time.Duration `mapstructure:"DEBOUNCE_INTERVAL"`
	DefaultLimit       int           `mapstructure:"DEFAULT_LIMIT"`
}

// LoadConfig reads overrides of DefaultConfig from environment variables
// named <PREFIX>_STALE_TIME, <PREFIX>_CAPACITY, <PREFIX>_NUM_SHARDS,
// <PREFIX>_EVICTION_PERCENTAGE, <PREFIX>_EVICTION_INTERVAL,
// <PREFIX>_RETENTION_WINDOW, <PREFIX>_GC_INTERVAL,
// <PREFIX>_DEBOUNCE_INTERVAL and <PREFIX>_DEFAULT_LIMIT. Durations use Go
// syntax ("30s", "5m").
func LoadConfig(prefix string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	if prefix != "" {
		v.SetEnvPrefix(strings.ToUpper(prefix))
	}
	v.AutomaticEnv()

	defaults := map[string]any{
		"STALE_TIME":          def.Cache.StaleTime,
		"CAPACITY":            def.Cache.Capacity,
		"NUM_SHARDS":          def.Cache.NumShards,
		"EVICTION_PERCENTAGE": def.Cache.EvictionPercentage,
		"EVICTION_INTERVAL":   def.Cache.EvictionInterval,
		"RETENTION_WINDOW":    def.Cache.RetentionWindow,
		"GC_INTERVAL":         def.Cache.GCInterval,
		"DEBOUNCE_INTERVAL":   def.DebounceInterval,
		"DEFAULT_LIMIT":       def.DefaultLimit,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
		_ = v.BindEnv(k)
	}

	var env envConfig
	if err := v.Unmarshal(&env); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg := def
	cfg.Cache.StaleTime = env.StaleTime
	cfg.Cache.Capacity = env.Capacity
	cfg.Cache.NumShards = env.NumShards
	cfg.Cache.EvictionPercentage = env.EvictionPercentage
	cfg.Cache.EvictionInterval = env.EvictionInterval
	cfg.Cache.RetentionWindow = env.RetentionWindow
	cfg.Cache.GCInterval = env.GCInterval
	cfg.DebounceInterval = env.DebounceInterval
	cfg.DefaultLimit = env.DefaultLimit

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
