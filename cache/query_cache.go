package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// ErrNoLoader is returned when a key has to be loaded but no loader was ever
// supplied for it.
var ErrNoLoader = errors.New("cache: no loader registered for key")

// ConfigError describes an invalid Config or constructor argument.
type ConfigError = cacheinfra.ConfigError

// Loader fetches one page of a resource for the given params.
type Loader[T any] func(ctx context.Context, params Params) (Page[T], error)

// Listener receives a snapshot after every state change of a subscribed entry.
// Listeners run synchronously and must not call back into the cache for the
// key they are subscribed to.
type Listener[T any] func(Entry[T])

type subscriber[T any] struct {
	id string
	fn Listener[T]
}

type entry[T any] struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	key         QueryKey
	status      Status
	data        *Page[T]
	placeholder *Page[T]
	err         *FetchError
	fetchedAt   time.Time
	touchedAt   time.Time

	// generation increases on every invalidation. A load that settles with an
	// older generation leaves the entry stale.
	generation  uint64
	invalidated bool
	// reload asks for one more load once the running one settles, even
	// without subscribers.
	reload bool

	loader      Loader[T]
	inflight    chan struct{}
	subscribers []subscriber[T]
	removed     bool
}

// QueryCache stores paginated query results keyed by QueryKey. It allows at
// most one in-flight load per key, keeps the last good page on errors and
// marks entries stale on invalidation.
type QueryCache[T any] struct {
	store   CacheService
	cfg     Config
	entries *xsync.MapOf[string, *entry[T]]

	logger logr.Logger
	tracer trace.Tracer
	now    func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a QueryCache on top of store. When cfg.GCInterval is positive a
// background loop runs Collect until Close is called.
func New[T any](store CacheService, cfg Config, opts ...Option) (*QueryCache[T], error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Message: "cannot be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &QueryCache[T]{
		store:   store,
		cfg:     cfg,
		entries: xsync.NewMapOf[string, *entry[T]](),
		logger:  o.logger,
		tracer:  o.tracer,
		now:     o.now,
		stop:    make(chan struct{}),
	}

	if cfg.GCInterval > 0 {
		c.wg.Add(1)
		go c.janitor(cfg.GCInterval)
	}

	return c, nil
}

// Fetch returns the current entry for key and, if it is stale or absent,
// starts a load. Concurrent calls for an equal key share a single loader call.
// The returned entry may carry placeholder data while the first load runs.
func (c *QueryCache[T]) Fetch(ctx context.Context, key QueryKey, loader Loader[T], opts ...FetchOption[T]) Entry[T] {
	snap, _ := c.fetch(ctx, key, loader, opts, false)
	return snap
}

// Load is Fetch followed by waiting for the in-flight load, if any, to settle.
// It returns the entry's FetchError when the load failed.
func (c *QueryCache[T]) Load(ctx context.Context, key QueryKey, loader Loader[T], opts ...FetchOption[T]) (Entry[T], error) {
	if err := key.Validate(); err != nil {
		return Entry[T]{Key: key}, err
	}

	snap, done := c.fetch(ctx, key, loader, opts, false)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
		if latest, ok := c.Peek(key); ok {
			snap = latest
		}
	}

	if snap.Status == StatusIdle && !snap.IsFetching {
		return snap, ErrNoLoader
	}
	if snap.Status == StatusError && snap.Err != nil {
		return snap, snap.Err
	}
	return snap, nil
}

// Prefetch warms the entry for key without subscribing to it. Failures are
// recorded on the entry but never reported to the caller.
func (c *QueryCache[T]) Prefetch(ctx context.Context, key QueryKey, loader Loader[T]) {
	c.fetch(ctx, key, loader, nil, true)
}

func (c *QueryCache[T]) fetch(ctx context.Context, key QueryKey, loader Loader[T], opts []FetchOption[T], quiet bool) (Entry[T], <-chan struct{}) {
	var fo FetchOptions[T]
	for _, opt := range opts {
		opt(&fo)
	}

	e := c.acquire(key)
	e.touchedAt = c.now()
	if loader != nil {
		e.loader = loader
	}
	if fo.PlaceholderData != nil && e.data == nil && e.placeholder == nil {
		e.placeholder = fo.PlaceholderData
	}

	deduped := e.inflight != nil
	started := c.startLocked(ctx, e, quiet)
	done := e.inflight
	snap := c.snapshotLocked(e)
	e.mu.Unlock()

	if deduped {
		c.logger.V(1).Info("joined in-flight load", "key", key.String())
	}
	if started {
		c.publish(e)
	}
	return snap, done
}

// Peek returns the entry for key without triggering a load.
func (c *QueryCache[T]) Peek(key QueryKey) (Entry[T], bool) {
	e, ok := c.entries.Load(key.String())
	if !ok {
		return Entry[T]{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Entry[T]{}, false
	}
	return c.snapshotLocked(e), true
}

// Subscribe registers listener on key. A subscribed entry is never collected
// and is refetched as soon as it is invalidated.
func (c *QueryCache[T]) Subscribe(key QueryKey, listener Listener[T]) *Subscription {
	id := uuid.NewString()

	e := c.acquire(key)
	e.subscribers = append(e.subscribers, subscriber[T]{id: id, fn: listener})
	e.touchedAt = c.now()
	e.mu.Unlock()

	return &Subscription{
		id:     id,
		key:    key,
		cancel: func() { c.unsubscribe(e, id) },
	}
}

func (c *QueryCache[T]) unsubscribe(e *entry[T], id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.subscribers {
		if s.id == id {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			break
		}
	}
	e.touchedAt = c.now()
}

// Invalidate marks every entry whose key satisfies match as stale and returns
// how many were marked. Entries with subscribers are refetched right away; an
// entry that is loading gets one more load once the current one settles.
func (c *QueryCache[T]) Invalidate(ctx context.Context, match func(QueryKey) bool) int {
	var touched []*entry[T]
	marked := 0

	c.entries.Range(func(_ string, e *entry[T]) bool {
		if !match(e.key) {
			return true
		}

		e.mu.Lock()
		if !e.removed {
			marked++
			e.generation++
			e.invalidated = true
			_ = c.store.Delete(ctx, e.key.StoreKey())
			if len(e.subscribers) > 0 {
				c.startLocked(ctx, e, false)
				touched = append(touched, e)
			}
		}
		e.mu.Unlock()
		return true
	})

	for _, e := range touched {
		c.publish(e)
	}
	return marked
}

// InvalidateTag marks every entry of the resource named tag as stale,
// regardless of params.
func (c *QueryCache[T]) InvalidateTag(ctx context.Context, tag string) int {
	n := c.Invalidate(ctx, MatchResource(tag))
	_ = c.store.DeleteByPrefix(ctx, ResourcePrefix(tag))

	c.logger.V(1).Info("invalidated tag", "tag", tag, "entries", n)
	return n
}

// Refetch forces a new load of key using the last loader supplied for it,
// ignoring freshness. It is the retry action after a failed fetch. When a load
// is already running, another one starts as soon as it settles.
func (c *QueryCache[T]) Refetch(ctx context.Context, key QueryKey) (Entry[T], error) {
	e := c.acquire(key)
	if e.loader == nil {
		snap := c.snapshotLocked(e)
		e.mu.Unlock()
		return snap, ErrNoLoader
	}

	e.generation++
	e.invalidated = true
	_ = c.store.Delete(ctx, e.key.StoreKey())
	if e.inflight != nil {
		e.reload = true
	}
	started := c.startLocked(ctx, e, false)
	snap := c.snapshotLocked(e)
	e.mu.Unlock()

	if started {
		c.publish(e)
	}
	return snap, nil
}

// Collect drops entries that have no subscribers, are not loading and were
// last used more than RetentionWindow ago. It returns the number dropped.
func (c *QueryCache[T]) Collect() int {
	now := c.now()
	removed := 0

	c.entries.Range(func(k string, e *entry[T]) bool {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.removed || len(e.subscribers) > 0 || e.inflight != nil {
			return true
		}
		if now.Sub(e.touchedAt) < c.cfg.RetentionWindow {
			return true
		}

		e.removed = true
		c.entries.Delete(k)
		_ = c.store.Delete(context.Background(), e.key.StoreKey())
		removed++
		return true
	})

	return removed
}

// Len returns the number of entries currently held.
func (c *QueryCache[T]) Len() int {
	return c.entries.Size()
}

// Close stops the background collector. In-flight loads are left to finish.
func (c *QueryCache[T]) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
	return nil
}

func (c *QueryCache[T]) janitor(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Collect(); n > 0 {
				c.logger.V(1).Info("collected idle entries", "count", n)
			}
		case <-c.stop:
			return
		}
	}
}

// acquire returns the live entry for key, locked.
func (c *QueryCache[T]) acquire(key QueryKey) *entry[T] {
	for {
		e, _ := c.entries.LoadOrCompute(key.String(), func() *entry[T] {
			return &entry[T]{key: key, touchedAt: c.now()}
		})
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

func (c *QueryCache[T]) isFreshLocked(e *entry[T]) bool {
	if e.invalidated || e.status != StatusSuccess {
		return false
	}
	_, ok := c.store.Peek(e.key.StoreKey())
	return ok
}

// startLocked begins a load unless one is running or the entry is fresh.
func (c *QueryCache[T]) startLocked(ctx context.Context, e *entry[T], quiet bool) bool {
	if e.inflight != nil || e.loader == nil || c.isFreshLocked(e) {
		return false
	}

	if e.data == nil {
		e.status = StatusLoading
	}
	done := make(chan struct{})
	e.inflight = done

	go c.run(context.WithoutCancel(ctx), e, e.loader, e.generation, done, quiet)
	return true
}

func (c *QueryCache[T]) run(ctx context.Context, e *entry[T], loader Loader[T], gen uint64, done chan struct{}, quiet bool) {
	key := e.key

	ctx, span := c.tracer.Start(ctx, "querycache.load", trace.WithAttributes(
		attribute.String("querycache.resource", key.Resource()),
		attribute.String("querycache.key", key.String()),
		attribute.Bool("querycache.prefetch", quiet),
	))
	defer span.End()

	page, err := GetOrFetch(ctx, c.store, key.StoreKey(), func(ctx context.Context) (page Page[T], err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("loader panic: %v", r)
			}
		}()
		return loader(ctx, key.Params())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.settle(ctx, e, gen, done, page, err, quiet)
}

func (c *QueryCache[T]) settle(ctx context.Context, e *entry[T], gen uint64, done chan struct{}, page Page[T], err error, quiet bool) {
	e.mu.Lock()

	e.inflight = nil
	if err != nil {
		e.status = StatusError
		e.err = NewFetchError(e.key.Resource(), err)
		e.placeholder = nil
	} else {
		e.data = &page
		e.placeholder = nil
		e.status = StatusSuccess
		e.err = nil
		e.fetchedAt = c.now()
	}

	// An invalidation landed while loading: the result may predate the write
	// that caused it, so the entry stays stale.
	superseded := e.generation != gen
	reload := e.reload
	e.reload = false
	if superseded {
		e.invalidated = true
		_ = c.store.Delete(ctx, e.key.StoreKey())
		if len(e.subscribers) > 0 || reload {
			c.startLocked(ctx, e, false)
		}
	} else {
		e.invalidated = false
	}
	e.mu.Unlock()

	close(done)

	switch {
	case err != nil && quiet:
		c.logger.V(1).Info("prefetch failed", "key", e.key.String(), "error", err.Error())
	case err != nil:
		c.logger.Error(err, "load failed", "key", e.key.String(), "kind", Classify(err).String())
	default:
		c.logger.V(1).Info("load settled", "key", e.key.String(), "docs", page.Len(), "superseded", superseded)
	}

	c.publish(e)
}

// publish delivers the latest snapshot to every subscriber. Deliveries for one
// entry are serialized and always carry the state at delivery time.
func (c *QueryCache[T]) publish(e *entry[T]) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	snap := c.snapshotLocked(e)
	subs := make([]subscriber[T], len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	for _, s := range subs {
		if s.fn != nil {
			s.fn(snap)
		}
	}
}

func (c *QueryCache[T]) snapshotLocked(e *entry[T]) Entry[T] {
	snap := Entry[T]{
		Key:             e.key,
		Status:          e.status,
		Err:             e.err,
		FetchedAt:       e.fetchedAt,
		IsFetching:      e.inflight != nil,
		IsStale:         !c.isFreshLocked(e),
		SubscriberCount: len(e.subscribers),
	}

	switch {
	case e.data != nil:
		snap.Data = e.data
	case e.placeholder != nil:
		snap.Data = e.placeholder
		snap.IsPlaceholder = true
	}
	return snap
}

// Subscription is a handle on a registered listener.
type Subscription struct {
	id     string
	key    QueryKey
	once   sync.Once
	cancel func()
}

// ID returns the unique id of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Key returns the subscribed key.
func (s *Subscription) Key() QueryKey {
	return s.key
}

// Close removes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
