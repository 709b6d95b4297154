package mutation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-query-cache/invalidation"
)

// Snapshot is a consistent copy of the tracker sets.
type Snapshot struct {
	Pending     []string
	Selected    []string
	DeletingAll bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNoun sets the singular noun used in messages, e.g. "Product". By
// default it is derived from the resource name.
func WithNoun(noun string) Option {
	return func(t *Tracker) {
		if noun = strings.TrimSpace(noun); noun != "" {
			t.noun = noun
		}
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) {
		t.notifier = n
	}
}

// WithConfirmer sets the confirmation prompt. Without one every action is
// confirmed.
func WithConfirmer(c Confirmer) Option {
	return func(t *Tracker) {
		t.confirmer = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithTracer sets the tracer used for mutation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Tracker) {
		t.tracer = tracer
	}
}

// Tracker runs deletes and saves for one resource and keeps the pending and
// selection sets of its list view consistent with their results.
//
// Nothing is applied optimistically: rows leave the selection and the cache
// is invalidated only after the backend confirmed the write. An id that is
// pending, or was removed by a settled delete and is still shown, is never
// selectable. A delete that never returns leaves its ids
// pending; pass a context with a deadline to bound it.
type Tracker struct {
	resource    string
	noun        string
	mutator     Mutator
	invalidator Invalidator
	notifier    Notifier
	confirmer   Confirmer
	logger      logr.Logger
	tracer      trace.Tracer

	mu          sync.Mutex
	notifyMu    sync.Mutex
	pending     map[string]struct{}
	selected    map[string]struct{}
	deletingAll bool

	// removed holds ids deleted by a settled mutation until Retain sees a
	// page without them. visible is the id list of the last retained page.
	removed map[string]struct{}
	visible []string

	listeners   map[string]func(Snapshot)
}

// New creates a Tracker for resource, which is also the invalidation tag.
func New(resource string, mutator Mutator, invalidator Invalidator, opts ...Option) (*Tracker, error) {
	if strings.TrimSpace(resource) == "" {
		return nil, &ConfigError{Field: "resource", Message: "cannot be empty"}
	}
	if mutator == nil {
		return nil, &ConfigError{Field: "mutator", Message: "cannot be nil"}
	}
	if invalidator == nil {
		return nil, &ConfigError{Field: "invalidator", Message: "cannot be nil"}
	}

	t := &Tracker{
		resource:    resource,
		noun:        nounFor(resource),
		mutator:     mutator,
		invalidator: invalidator,
		logger:      logr.Discard(),
		tracer:      otel.Tracer("github.com/goliatone/go-query-cache/mutation"),
		pending:     make(map[string]struct{}),
		selected:    make(map[string]struct{}),
		removed:     make(map[string]struct{}),
		listeners:   make(map[string]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ConfigError describes an invalid constructor argument.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Resource returns the resource name.
func (t *Tracker) Resource() string {
	return t.resource
}

// Noun returns the singular noun used in messages.
func (t *Tracker) Noun() string {
	return t.noun
}

// DeleteOne confirms and deletes a single row. An id that is already pending,
// or any id while a delete-all runs, is a no-op without a prompt.
func (t *Tracker) DeleteOne(ctx context.Context, id string) error {
	if len(t.deletable([]string{id})) == 0 {
		return nil
	}
	if !t.confirm("Are you sure you want to delete this " + strings.ToLower(t.noun) + "?") {
		return ErrNotConfirmed
	}
	return t.deleteIDs(ctx, []string{id})
}

// DeleteMany confirms and deletes ids in one request.
func (t *Tracker) DeleteMany(ctx context.Context, ids []string) error {
	if len(t.deletable(ids)) == 0 {
		return nil
	}
	if !t.confirm("Are you sure you want to delete the selected " + strings.ToLower(inflection.Plural(t.noun)) + "?") {
		return ErrNotConfirmed
	}
	return t.deleteIDs(ctx, ids)
}

// DeleteSelected deletes the current selection.
func (t *Tracker) DeleteSelected(ctx context.Context) error {
	ids := t.Selected()
	if len(ids) == 0 {
		return ErrNothingSelected
	}
	return t.DeleteMany(ctx, ids)
}

// deletable returns the ids of ids that a delete would send now.
func (t *Tracker) deletable(ids []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deletableLocked(ids)
}

func (t *Tracker) deletableLocked(ids []string) []string {
	if t.deletingAll {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range dedupe(ids) {
		if _, busy := t.pending[id]; busy || id == "" {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (t *Tracker) deleteIDs(ctx context.Context, ids []string) error {
	t.mu.Lock()
	batch := t.deletableLocked(ids)
	for _, id := range batch {
		t.pending[id] = struct{}{}
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	t.changed()

	opID := uuid.NewString()
	ctx, span := t.tracer.Start(ctx, "mutation.delete", trace.WithAttributes(
		attribute.String("mutation.resource", t.resource),
		attribute.String("mutation.id", opID),
		attribute.StringSlice("mutation.ids", batch),
	))
	defer span.End()

	err := t.mutator.DeleteMany(ctx, batch)

	t.mu.Lock()
	for _, id := range batch {
		delete(t.pending, id)
		if err == nil {
			delete(t.selected, id)
			t.removed[id] = struct{}{}
		}
	}
	t.mu.Unlock()
	t.changed()

	if err != nil {
		return t.failed(span, opID, &MutationError{Op: OpDelete, Resource: t.resource, IDs: batch, Err: err})
	}

	t.invalidate(ctx)
	t.logger.V(1).Info("deleted", "resource", t.resource, "op", opID, "count", len(batch))
	t.notify(LevelSuccess, t.deletedMessage(len(batch)))
	return nil
}

// DeleteAll confirms and deletes every row of the resource. Pending and
// selected ids are cleared once it succeeds. A second call while one is
// running is a no-op.
func (t *Tracker) DeleteAll(ctx context.Context) error {
	if t.DeletingAll() {
		return nil
	}
	if !t.confirm("Are you sure you want to delete all " + strings.ToLower(inflection.Plural(t.noun)) + "?") {
		return ErrNotConfirmed
	}

	t.mu.Lock()
	if t.deletingAll {
		t.mu.Unlock()
		return nil
	}
	t.deletingAll = true
	t.mu.Unlock()
	t.changed()

	opID := uuid.NewString()
	ctx, span := t.tracer.Start(ctx, "mutation.delete_all", trace.WithAttributes(
		attribute.String("mutation.resource", t.resource),
		attribute.String("mutation.id", opID),
	))
	defer span.End()

	err := t.mutator.DeleteAll(ctx)

	t.mu.Lock()
	t.deletingAll = false
	if err == nil {
		t.pending = make(map[string]struct{})
		t.selected = make(map[string]struct{})
		for _, id := range t.visible {
			t.removed[id] = struct{}{}
		}
	}
	t.mu.Unlock()
	t.changed()

	if err != nil {
		return t.failed(span, opID, &MutationError{Op: OpDeleteAll, Resource: t.resource, Err: err})
	}

	t.invalidate(ctx)
	t.logger.V(1).Info("deleted all", "resource", t.resource, "op", opID)
	t.notify(LevelSuccess, inflection.Plural(t.noun)+" have been deleted successfully")
	return nil
}

// Save runs a create or update through fn. On success the resource tag is
// invalidated and "<Noun> has been added/updated successfully" is reported.
func (t *Tracker) Save(ctx context.Context, op Op, fn func(ctx context.Context) error) error {
	if op != OpCreate && op != OpUpdate {
		return &ConfigError{Field: "op", Message: "must be create or update"}
	}

	opID := uuid.NewString()
	ctx, span := t.tracer.Start(ctx, "mutation.save", trace.WithAttributes(
		attribute.String("mutation.resource", t.resource),
		attribute.String("mutation.id", opID),
		attribute.String("mutation.op", string(op)),
	))
	defer span.End()

	if err := fn(ctx); err != nil {
		return t.failed(span, opID, &MutationError{Op: op, Resource: t.resource, Err: err})
	}

	t.invalidate(ctx)
	verb := "updated"
	if op == OpCreate {
		verb = "added"
	}
	t.notify(LevelSuccess, t.noun+" has been "+verb+" successfully")
	return nil
}

// Select adds ids to the selection. Pending ids, removed ids and ids of a
// running delete-all cannot be selected.
func (t *Tracker) Select(ids ...string) {
	t.mu.Lock()
	changed := false
	if !t.deletingAll {
		for _, id := range ids {
			if _, busy := t.pending[id]; busy || id == "" {
				continue
			}
			if _, gone := t.removed[id]; gone {
				continue
			}
			if _, ok := t.selected[id]; !ok {
				t.selected[id] = struct{}{}
				changed = true
			}
		}
	}
	t.mu.Unlock()

	if changed {
		t.changed()
	}
}

// Deselect removes ids from the selection.
func (t *Tracker) Deselect(ids ...string) {
	t.mu.Lock()
	changed := false
	for _, id := range ids {
		if _, ok := t.selected[id]; ok {
			delete(t.selected, id)
			changed = true
		}
	}
	t.mu.Unlock()

	if changed {
		t.changed()
	}
}

// ClearSelection empties the selection.
func (t *Tracker) ClearSelection() {
	t.mu.Lock()
	changed := len(t.selected) > 0
	t.selected = make(map[string]struct{})
	t.mu.Unlock()

	if changed {
		t.changed()
	}
}

// Retain drops selected ids that are not in ids, keeping the selection a
// subset of the rows on the latest page. Removed ids absent from ids become
// selectable again should they reappear.
func (t *Tracker) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	t.mu.Lock()
	t.visible = append(t.visible[:0], ids...)
	for id := range t.removed {
		if _, ok := keep[id]; !ok {
			delete(t.removed, id)
		}
	}
	changed := false
	for id := range t.selected {
		if _, ok := keep[id]; !ok {
			delete(t.selected, id)
			changed = true
		}
	}
	t.mu.Unlock()

	if changed {
		t.changed()
	}
}

// IsPending reports whether id is being deleted.
func (t *Tracker) IsPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// IsRemoved reports whether id was deleted by a settled mutation and is
// still expected on the shown page.
func (t *Tracker) IsRemoved(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.removed[id]
	return ok
}

// IsSelected reports whether id is selected.
func (t *Tracker) IsSelected(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.selected[id]
	return ok
}

// DeletingAll reports whether a delete-all is running.
func (t *Tracker) DeletingAll() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deletingAll
}

// Selected returns the selected ids in sorted order.
func (t *Tracker) Selected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.selected)
}

// Pending returns the pending ids in sorted order.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.pending)
}

// Snapshot returns both sets as observed at one instant.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// OnChange registers fn to receive a Snapshot after every change of the
// pending or selection sets, and returns a function removing it.
func (t *Tracker) OnChange(fn func(Snapshot)) (remove func()) {
	id := uuid.NewString()
	t.mu.Lock()
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Pending:     sortedKeys(t.pending),
		Selected:    sortedKeys(t.selected),
		DeletingAll: t.deletingAll,
	}
}

func (t *Tracker) changed() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	snap := t.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (t *Tracker) confirm(message string) bool {
	if t.confirmer == nil {
		return true
	}
	return t.confirmer.Confirm(message)
}

func (t *Tracker) invalidate(ctx context.Context) {
	tags := append([]string{t.resource}, invalidation.TagsFromContext(ctx)...)
	t.invalidator.Invalidate(ctx, tags...)
}

func (t *Tracker) failed(span trace.Span, opID string, err *MutationError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	t.logger.Error(err, "mutation failed", "resource", t.resource, "op", opID, "ids", err.IDs)
	t.notify(LevelError, err.Message())
	return err
}

func (t *Tracker) notify(level Level, message string) {
	if t.notifier != nil {
		t.notifier.Notify(level, message)
	}
}

func (t *Tracker) deletedMessage(n int) string {
	if n == 1 {
		return t.noun + " has been deleted successfully"
	}
	return inflection.Plural(t.noun) + " have been deleted successfully"
}

// nounFor turns a resource name like "products" into "Product".
func nounFor(resource string) string {
	singular := inflection.Singular(strings.TrimSpace(resource))
	r, size := utf8.DecodeRuneInString(singular)
	if r == utf8.RuneError {
		return singular
	}
	return string(unicode.ToUpper(r)) + singular[size:]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
