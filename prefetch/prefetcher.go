// Package prefetch warms the cache entry of the next page while the current
// one is on screen.
package prefetch

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/liststate"
)

// Option configures a Prefetcher.
type Option func(*options)

type options struct {
	logger    logr.Logger
	pageParam string
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPageParam sets the name of the page param, "page" by default.
func WithPageParam(name string) Option {
	return func(o *options) {
		o.pageParam = name
	}
}

// Prefetcher issues a prefetch for page+1 after each successful fetch that
// reports a next page. Prefetches are best effort: an entry that is no longer
// needed after a sort or search change simply stays unused until collected.
type Prefetcher[T any] struct {
	cache     *cache.QueryCache[T]
	logger    logr.Logger
	pageParam string
}

// New creates a Prefetcher over c.
func New[T any](c *cache.QueryCache[T], opts ...Option) *Prefetcher[T] {
	o := options{
		logger:    logr.Discard(),
		pageParam: liststate.ParamPage,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Prefetcher[T]{cache: c, logger: o.logger, pageParam: o.pageParam}
}

// NextKey returns key with its page param incremented. It reports false when
// key has no integer page param.
func (p *Prefetcher[T]) NextKey(key cache.QueryKey) (cache.QueryKey, bool) {
	page, ok := key.IntParam(p.pageParam)
	if !ok {
		return cache.QueryKey{}, false
	}
	return key.With(p.pageParam, page+1), true
}

// Observe prefetches the page after entry when entry holds real data from a
// successful fetch and the backend reported a next page. It returns the key
// that was prefetched.
func (p *Prefetcher[T]) Observe(ctx context.Context, entry cache.Entry[T], loader cache.Loader[T]) (cache.QueryKey, bool) {
	if entry.Status != cache.StatusSuccess || !entry.HasData() || !entry.Data.HasNextPage {
		return cache.QueryKey{}, false
	}

	next, ok := p.NextKey(entry.Key)
	if !ok {
		return cache.QueryKey{}, false
	}

	p.cache.Prefetch(ctx, next, loader)
	p.logger.V(1).Info("prefetching next page", "key", next.String())
	return next, true
}

// Listener returns a cache listener that calls Observe on every update of a
// subscribed entry.
func (p *Prefetcher[T]) Listener(ctx context.Context, loader cache.Loader[T]) cache.Listener[T] {
	return func(entry cache.Entry[T]) {
		p.Observe(ctx, entry, loader)
	}
}
