package di

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/liststate"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

type countingLoader struct {
	calls atomic.Int64
	cat   *testsupport.Catalogue
}

func (l *countingLoader) Load(ctx context.Context, params cache.Params) (cache.Page[Product], error) {
	l.calls.Add(1)
	return l.cat.Load(ctx, params)
}

// TestConcurrentAccess checks that concurrent readers of the same pages share
// one load per page.
func TestConcurrentAccess(t *testing.T) {
	config := testConfig()
	config.Cache.Capacity = 1000
	config.Cache.NumShards = 16
	config.Cache.StaleTime = 5 * time.Second

	container, err := NewContainer(config, WithLogger(logr.Discard()))
	if err != nil {
		t.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	products, err := NewQueryCache[Product](container)
	if err != nil {
		t.Fatalf("NewQueryCache() failed: %v", err)
	}
	loader := &countingLoader{cat: testsupport.NewCatalogue(testsupport.Products())}

	ctx := context.Background()
	const numGoroutines = 50
	const operationsPerGoroutine = 20
	const pages = 4

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*operationsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for j := 0; j < operationsPerGoroutine; j++ {
				state := liststate.State{Page: (workerID+j)%pages + 1, Limit: 3}
				if _, err := products.Load(ctx, state.Key("products"), loader.Load); err != nil {
					errs <- fmt.Errorf("worker %d operation %d Load failed: %v", workerID, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	var errorCount int
	for err := range errs {
		t.Error(err)
		errorCount++
		if errorCount > 10 {
			t.Error("... and more errors")
			break
		}
	}
	if errorCount > 0 {
		t.Fatalf("Concurrent access test failed with %d errors", errorCount)
	}

	if calls := loader.calls.Load(); calls != pages {
		t.Errorf("Expected one load per page (%d), got %d", pages, calls)
	}
}

// TestConcurrentReadInvalidate mixes readers with invalidations and checks
// every reader still gets a page.
func TestConcurrentReadInvalidate(t *testing.T) {
	container, err := NewContainer(testConfig(), WithLogger(logr.Discard()))
	if err != nil {
		t.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	products, err := NewQueryCache[Product](container)
	if err != nil {
		t.Fatalf("NewQueryCache() failed: %v", err)
	}
	loader := &countingLoader{cat: testsupport.NewCatalogue(testsupport.Products())}
	key := liststate.State{Page: 1, Limit: 10}.Key("products")

	ctx := context.Background()
	var wg sync.WaitGroup
	var failures atomic.Int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				e, err := products.Load(ctx, key, loader.Load)
				if err != nil || e.Data.Len() != 10 {
					failures.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				container.Bus().Invalidate(ctx, "products")
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if n := failures.Load(); n > 0 {
		t.Fatalf("%d reads failed", n)
	}
	if calls := loader.calls.Load(); calls < 1 || calls > 51 {
		t.Errorf("unexpected number of loads %d", calls)
	}
}

// TestStaleTimeExpiryIntegration checks that pages go stale after StaleTime.
func TestStaleTimeExpiryIntegration(t *testing.T) {
	config := testConfig()
	config.Cache.Capacity = 50
	config.Cache.NumShards = 4
	config.Cache.StaleTime = 200 * time.Millisecond
	config.Cache.EvictionInterval = 50 * time.Millisecond

	container, err := NewContainer(config, WithLogger(logr.Discard()))
	if err != nil {
		t.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	products, err := NewQueryCache[Product](container)
	if err != nil {
		t.Fatalf("NewQueryCache() failed: %v", err)
	}
	loader := &countingLoader{cat: testsupport.NewCatalogue(testsupport.Products())}
	key := liststate.State{Page: 1, Limit: 10}.Key("products")
	ctx := context.Background()

	if _, err := products.Load(ctx, key, loader.Load); err != nil {
		t.Fatalf("Initial Load failed: %v", err)
	}
	if _, err := products.Load(ctx, key, loader.Load); err != nil {
		t.Fatalf("Cached Load failed: %v", err)
	}
	if calls := loader.calls.Load(); calls != 1 {
		t.Errorf("Expected fresh page to be served from cache, got %d loads", calls)
	}

	time.Sleep(300 * time.Millisecond)

	if _, err := products.Load(ctx, key, loader.Load); err != nil {
		t.Fatalf("Post-expiry Load failed: %v", err)
	}
	if calls := loader.calls.Load(); calls != 2 {
		t.Errorf("Expected 2 loads after the page went stale, got %d", calls)
	}
}

func BenchmarkQueryKey(b *testing.B) {
	state := liststate.State{
		Page:   3,
		Limit:  25,
		Sort:   liststate.Sort{Field: "price", Direction: liststate.DirectionDesc},
		Search: "shoe",
	}

	b.Run("build", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = state.Key("products")
		}
	})

	key := state.Key("products")
	b.Run("store_key", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = key.StoreKey()
		}
	})
}

func BenchmarkCachedVsLoader(b *testing.B) {
	container, err := NewContainer(testConfig(), WithLogger(logr.Discard()))
	if err != nil {
		b.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	products, err := NewQueryCache[Product](container)
	if err != nil {
		b.Fatalf("NewQueryCache() failed: %v", err)
	}
	cat := testsupport.NewCatalogue(testsupport.Products())
	ctx := context.Background()
	key := liststate.State{Page: 1, Limit: 10}.Key("products")
	params := key.Params()

	b.Run("loader", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = cat.Load(ctx, params)
		}
	})

	if _, err := products.Load(ctx, key, cat.Load); err != nil {
		b.Fatalf("warm up failed: %v", err)
	}

	b.Run("cache_hit", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = products.Fetch(ctx, key, cat.Load)
		}
	})
}

func BenchmarkConcurrentCacheAccess(b *testing.B) {
	container, err := NewContainer(testConfig(), WithLogger(logr.Discard()))
	if err != nil {
		b.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	products, err := NewQueryCache[Product](container)
	if err != nil {
		b.Fatalf("NewQueryCache() failed: %v", err)
	}
	cat := testsupport.NewCatalogue(testsupport.Products())
	ctx := context.Background()

	keys := make([]cache.QueryKey, 4)
	for i := range keys {
		keys[i] = liststate.State{Page: i + 1, Limit: 3}.Key("products")
		if _, err := products.Load(ctx, keys[i], cat.Load); err != nil {
			b.Fatalf("warm up failed: %v", err)
		}
	}

	b.Run("concurrent_cache_hits", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				_ = products.Fetch(ctx, keys[i%len(keys)], cat.Load)
				i++
			}
		})
	})
}
