package cacheinfra

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 5000 {
		t.Errorf("expected Capacity to be 5000, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 64 {
		t.Errorf("expected NumShards to be 64, got %d", cfg.NumShards)
	}

	if cfg.TTL != 30*time.Second {
		t.Errorf("expected TTL to be 30 seconds, got %v", cfg.TTL)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid default config", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantField: "Capacity"},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }, wantField: "NumShards"},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantField: "TTL"},
		{name: "eviction percentage too low", mutate: func(c *Config) { c.EvictionPercentage = 0 }, wantField: "EvictionPercentage"},
		{name: "eviction percentage too high", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantField: "EvictionPercentage"},
		{name: "negative eviction interval", mutate: func(c *Config) { c.EvictionInterval = -time.Second }, wantField: "EvictionInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T (%v)", err, err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, cfgErr.Field)
			}
		})
	}
}

func TestNewSturdycService_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 0

	svc, err := NewSturdycService(cfg)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if svc != nil {
		t.Error("expected nil service for invalid config")
	}
}

func newTestService(t *testing.T) *SturdycService {
	t.Helper()

	svc, err := NewSturdycService(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func TestSturdycService_GetOrFetch_StoresValue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "page-1", nil
	}

	for i := 0; i < 3; i++ {
		got, err := svc.GetOrFetch(ctx, "products::1", fetch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "page-1" {
			t.Fatalf("expected page-1, got %v", got)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 fetch call, got %d", n)
	}

	if _, ok := svc.Peek("products::1"); !ok {
		t.Error("expected key to be present after fetch")
	}
}

func TestSturdycService_GetOrFetch_ErrorNotStored(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := svc.GetOrFetch(ctx, "products::1", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, ok := svc.Peek("products::1"); ok {
		t.Error("failed fetch must not leave a value behind")
	}
}

func TestSturdycService_GetOrFetch_NilResult(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	v, err := svc.GetOrFetch(ctx, "products::1", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != nil || v != nil {
		t.Fatalf("expected nil value and no error, got %v, %v", v, err)
	}

	v, ok := svc.Peek("products::1")
	if !ok || v != nil {
		t.Errorf("expected a stored nil value, got %v, %v", v, ok)
	}
}

func TestSturdycService_GetOrFetch_NilFetchFn(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetOrFetch(context.Background(), "k", nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestSturdycService_GetOrFetch_ConcurrentCallsShareFetch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetOrFetch(ctx, "shared", fetch); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 fetch call, got %d", n)
	}
}

func TestSturdycService_DeleteByPrefix(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, key := range []string{"products::a", "products::b", "suppliers::a"} {
		k := key
		if _, err := svc.GetOrFetch(ctx, k, func(ctx context.Context) (any, error) { return k, nil }); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	if err := svc.DeleteByPrefix(ctx, "products::"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}

	keys := svc.Keys()
	sort.Strings(keys)
	if len(keys) != 1 || keys[0] != "suppliers::a" {
		t.Errorf("expected only suppliers::a to remain, got %v", keys)
	}
}

func TestSturdycService_DeleteAndInvalidateKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		k := key
		if _, err := svc.GetOrFetch(ctx, k, func(ctx context.Context) (any, error) { return k, nil }); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	if err := svc.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.InvalidateKeys(ctx, []string{"b"}); err != nil {
		t.Fatalf("InvalidateKeys: %v", err)
	}

	for _, k := range []string{"a", "b"} {
		if _, ok := svc.Peek(k); ok {
			t.Errorf("expected %s to be removed", k)
		}
	}
	if _, ok := svc.Peek("c"); !ok {
		t.Error("expected c to remain")
	}
}
