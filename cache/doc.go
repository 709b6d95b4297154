// Package cache provides a keyed cache of paginated query results for list views.
//
// # Overview
//
// The package exports the pieces a list screen needs to read a remote resource:
//
//   - QueryKey: a resource name plus scalar params, compared by deep equality
//   - Page: one page of documents with the paging counters the backend returns
//   - QueryCache: entries per key with status, staleness and subscribers
//   - CacheService: the freshness store behind a QueryCache (sturdyc by default)
//
// # Basic Usage
//
//	store, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	products, err := cache.New[Product](store, cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	key := cache.NewKey("products", cache.Params{"page": 1, "limit": 10})
//	entry := products.Fetch(ctx, key, loadProducts, cache.WithPlaceholder(skeletonPage))
//
// Fetch never blocks: it returns the current Entry and starts a load when the
// entry is stale or absent. Load does the same and waits for the result.
//
// # Freshness
//
// A page is fresh while it is present in the CacheService. The default service
// keeps pages for Config.StaleTime; Invalidate and InvalidateTag delete them so
// the next Fetch goes back to the loader. Entries that have subscribers are
// refetched immediately on invalidation.
//
// # Request Deduplication
//
// Each entry runs at most one load at a time. Fetch, Load and Prefetch calls
// made while a load is running join it instead of calling the loader again.
// When an invalidation arrives during a load, the result is stored but the
// entry stays stale, and subscribed entries are loaded once more.
//
// # Errors
//
// Loader errors are classified into network, validation and server failures
// (see Classify) and stored on the entry as a *FetchError. The last successful
// page is kept, so a list can keep rendering rows next to a retry action.
//
// # Garbage Collection
//
// Entries without subscribers that were not used for Config.RetentionWindow
// are dropped by Collect, which runs periodically when Config.GCInterval is set.
//
// # See Also
//
// The invalidation package broadcasts tags to every registered cache, and the
// listview package drives a QueryCache from list state.
package cache
