// Package listview drives a paginated list screen: it turns list state into
// a cache subscription, prefetches the next page and projects the cached page
// into rows that carry selection and busy flags.
package listview

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/liststate"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/prefetch"
)

// ErrNotAvailable is returned when an action is invoked while its control
// would be disabled.
var ErrNotAvailable = errors.New("listview: action not available")

// Row is one rendered row.
type Row[T any] struct {
	ID   string
	Item T

	Selected bool
	// Selectable is false while the row is being deleted, after its delete
	// settled but before the page was refetched, or while only placeholder
	// data is shown.
	Selectable bool
	// Busy rows show a progress indicator instead of their actions.
	Busy bool
}

// Config wires a View.
type Config[T any] struct {
	Resource string
	Cache    *cache.QueryCache[T]
	Loader   cache.Loader[T]
	State    *liststate.Controller
	Tracker  *mutation.Tracker

	// ID extracts the row id of an item.
	ID func(T) string

	// Placeholder is rendered until the first page of a key arrives.
	Placeholder *cache.Page[T]

	// Prefetcher warms the next page; nil disables prefetching.
	Prefetcher *prefetch.Prefetcher[T]

	Logger logr.Logger
}

func (c Config[T]) validate() error {
	switch {
	case c.Resource == "":
		return errors.New("listview: resource is required")
	case c.Cache == nil:
		return errors.New("listview: cache is required")
	case c.Loader == nil:
		return errors.New("listview: loader is required")
	case c.State == nil:
		return errors.New("listview: state controller is required")
	case c.Tracker == nil:
		return errors.New("listview: mutation tracker is required")
	case c.ID == nil:
		return errors.New("listview: id func is required")
	}
	return nil
}

// View is the controller of one mounted list screen.
type View[T any] struct {
	cfg    Config[T]
	ctx    context.Context
	logger logr.Logger

	mu       sync.Mutex
	key      cache.QueryKey
	sub      *cache.Subscription
	entry    cache.Entry[T]
	closed   bool
	nextID   uint64
	watchers map[uint64]func()

	removeState   func()
	removeTracker func()
}

// New mounts a View for the current state of cfg.State and starts fetching
// its page. ctx scopes the loads started by the view.
func New[T any](ctx context.Context, cfg Config[T]) (*View[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	v := &View[T]{
		cfg:      cfg,
		ctx:      ctx,
		logger:   cfg.Logger.WithValues("resource", cfg.Resource),
		watchers: make(map[uint64]func()),
	}

	v.removeState = cfg.State.OnChange(v.onState)
	v.removeTracker = cfg.Tracker.OnChange(func(mutation.Snapshot) { v.changed() })
	v.mount(cfg.State.State())
	return v, nil
}

// Key returns the key of the page currently shown.
func (v *View[T]) Key() cache.QueryKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

// Entry returns the cache entry of the page currently shown.
func (v *View[T]) Entry() cache.Entry[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entry
}

// Err returns the error of the last fetch, if it failed.
func (v *View[T]) Err() *cache.FetchError {
	e := v.Entry()
	if e.Status != cache.StatusError {
		return nil
	}
	return e.Err
}

// Loading reports whether the view has nothing but placeholder data.
func (v *View[T]) Loading() bool {
	e := v.Entry()
	return e.Status == cache.StatusLoading || (e.Status == cache.StatusIdle && e.IsFetching)
}

// Total returns the total number of documents reported by the backend.
func (v *View[T]) Total() int {
	e := v.Entry()
	if e.Data == nil {
		return 0
	}
	return e.Data.TotalDocs
}

// PagingCounter returns the 1-based index of the first row on the page.
func (v *View[T]) PagingCounter() int {
	e := v.Entry()
	if e.Data == nil {
		return 0
	}
	return e.Data.PagingCounter
}

// Rows projects the current page with selection and busy flags.
func (v *View[T]) Rows() []Row[T] {
	e := v.Entry()
	snap := v.cfg.Tracker.Snapshot()

	pending := toSet(snap.Pending)
	selected := toSet(snap.Selected)

	docs := e.Docs()
	rows := make([]Row[T], 0, len(docs))
	for _, item := range docs {
		id := v.cfg.ID(item)
		_, isPending := pending[id]
		busy := isPending || snap.DeletingAll
		_, isSelected := selected[id]
		removed := !e.IsPlaceholder && v.cfg.Tracker.IsRemoved(id)

		rows = append(rows, Row[T]{
			ID:         id,
			Item:       item,
			Busy:       busy,
			Selected:   isSelected && !busy && !e.IsPlaceholder,
			Selectable: !busy && !e.IsPlaceholder && !removed,
		})
	}
	return rows
}

// Select selects ids that are selectable rows of the current page.
func (v *View[T]) Select(ids ...string) {
	selectable := make(map[string]struct{})
	for _, r := range v.Rows() {
		if r.Selectable {
			selectable[r.ID] = struct{}{}
		}
	}

	allowed := ids[:0:0]
	for _, id := range ids {
		if _, ok := selectable[id]; ok {
			allowed = append(allowed, id)
		}
	}
	v.cfg.Tracker.Select(allowed...)
}

// Deselect removes ids from the selection.
func (v *View[T]) Deselect(ids ...string) {
	v.cfg.Tracker.Deselect(ids...)
}

// CanDeleteSelected reports whether the bulk delete action is available.
func (v *View[T]) CanDeleteSelected() bool {
	snap := v.cfg.Tracker.Snapshot()
	return len(snap.Selected) > 0 && !snap.DeletingAll
}

// CanDeleteAll reports whether the delete-all action is available: the page
// shows real rows and nothing is selected or being deleted.
func (v *View[T]) CanDeleteAll() bool {
	e := v.Entry()
	snap := v.cfg.Tracker.Snapshot()
	return e.HasData() && len(e.Docs()) > 0 &&
		len(snap.Selected) == 0 && len(snap.Pending) == 0 && !snap.DeletingAll
}

// Delete deletes one row.
func (v *View[T]) Delete(ctx context.Context, id string) error {
	return v.cfg.Tracker.DeleteOne(ctx, id)
}

// DeleteSelected deletes every selected row in one request.
func (v *View[T]) DeleteSelected(ctx context.Context) error {
	if !v.CanDeleteSelected() {
		return mutation.ErrNothingSelected
	}
	return v.cfg.Tracker.DeleteSelected(ctx)
}

// DeleteAll deletes every row of the resource. It returns ErrNotAvailable
// unless CanDeleteAll reports true.
func (v *View[T]) DeleteAll(ctx context.Context) error {
	if !v.CanDeleteAll() {
		return ErrNotAvailable
	}
	return v.cfg.Tracker.DeleteAll(ctx)
}

// Retry refetches the current page, e.g. from the error state's retry button.
func (v *View[T]) Retry(ctx context.Context) error {
	_, err := v.cfg.Cache.Refetch(ctx, v.Key())
	return err
}

// OnChange registers fn to be called whenever rows, flags or the entry may
// have changed, and returns a function removing it.
func (v *View[T]) OnChange(fn func()) (remove func()) {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.watchers[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.watchers, id)
		v.mu.Unlock()
	}
}

// Close unmounts the view. The cache entries stay until collected.
func (v *View[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.removeState()
	v.removeTracker()
	if sub != nil {
		sub.Close()
	}
}

func (v *View[T]) onState(state liststate.State, reason liststate.Reason) {
	switch reason {
	case liststate.ReasonInput:
		return
	case liststate.ReasonSearch:
		v.cfg.Tracker.ClearSelection()
	}
	v.mount(state)
}

// mount moves the subscription to the key of state and fetches it.
func (v *View[T]) mount(state liststate.State) {
	key := state.Key(v.cfg.Resource)

	v.mu.Lock()
	if v.closed || (!v.key.IsZero() && v.key.Equal(key)) {
		v.mu.Unlock()
		return
	}
	old := v.sub
	v.key = key
	v.entry = cache.Entry[T]{Key: key}
	v.sub = v.cfg.Cache.Subscribe(key, v.onEntry)
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}

	var opts []cache.FetchOption[T]
	if v.cfg.Placeholder != nil {
		opts = append(opts, cache.WithPlaceholder(*v.cfg.Placeholder))
	}
	fetched := v.cfg.Cache.Fetch(v.ctx, key, v.cfg.Loader, opts...)
	v.logger.V(1).Info("mounted page", "key", key.String(), "status", fetched.Status.String())

	// An entry served fresh from cache publishes nothing.
	if entry, ok := v.refresh(key); ok {
		v.settled(entry)
	}
}

func (v *View[T]) onEntry(published cache.Entry[T]) {
	if entry, ok := v.refresh(published.Key); ok {
		v.settled(entry)
	}
}

// settled keeps the selection within the rows of a freshly loaded page and
// prefetches the next one.
func (v *View[T]) settled(entry cache.Entry[T]) {
	if entry.Status != cache.StatusSuccess || !entry.HasData() {
		return
	}

	ids := make([]string, 0, entry.Data.Len())
	for _, item := range entry.Docs() {
		ids = append(ids, v.cfg.ID(item))
	}
	v.cfg.Tracker.Retain(ids)

	if v.cfg.Prefetcher != nil {
		v.cfg.Prefetcher.Observe(v.ctx, entry, v.cfg.Loader)
	}
}

// refresh re-reads the entry of key from the cache if key is still mounted.
// Reading under v.mu keeps a late notification from replacing newer state.
func (v *View[T]) refresh(key cache.QueryKey) (cache.Entry[T], bool) {
	v.mu.Lock()
	if v.closed || !v.key.Equal(key) {
		v.mu.Unlock()
		return cache.Entry[T]{}, false
	}
	entry, ok := v.cfg.Cache.Peek(key)
	if ok {
		v.entry = entry
	}
	v.mu.Unlock()

	if !ok {
		return cache.Entry[T]{}, false
	}
	v.changed()
	return entry, true
}

func (v *View[T]) changed() {
	v.mu.Lock()
	watchers := make([]func(), 0, len(v.watchers))
	for _, fn := range v.watchers {
		watchers = append(watchers, fn)
	}
	v.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
