package invalidation

import (
	"context"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Target is anything holding entries that can be marked stale by tag.
// *cache.QueryCache satisfies it for every element type.
type Target interface {
	InvalidateTag(ctx context.Context, tag string) int
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, tag string) int

func (f TargetFunc) InvalidateTag(ctx context.Context, tag string) int {
	return f(ctx, tag)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for broadcast records.
func WithLogger(logger logr.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithTracer sets the tracer used for broadcast spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Bus) {
		b.tracer = tracer
	}
}

// Bus broadcasts invalidation tags to every registered target. A tag matches
// the entries whose resource name equals it; tags never cascade.
type Bus struct {
	targets *xsync.MapOf[string, Target]
	logger  logr.Logger
	tracer  trace.Tracer
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		targets: xsync.NewMapOf[string, Target](),
		logger:  logr.Discard(),
		tracer:  otel.Tracer("github.com/goliatone/go-query-cache/invalidation"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds target to the bus and returns a function removing it again.
func (b *Bus) Register(target Target) (unregister func()) {
	if target == nil {
		return func() {}
	}
	id := uuid.NewString()
	b.targets.Store(id, target)
	return func() {
		b.targets.Delete(id)
	}
}

// Len returns the number of registered targets.
func (b *Bus) Len() int {
	return b.targets.Size()
}

// Invalidate marks every entry under each tag stale in every registered target
// and returns the total number of entries marked. Targets are called
// synchronously, so a fetch issued after Invalidate returns observes the
// invalidation.
func (b *Bus) Invalidate(ctx context.Context, tags ...string) int {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return 0
	}

	ctx, span := b.tracer.Start(ctx, "invalidation.broadcast", trace.WithAttributes(
		attribute.StringSlice("invalidation.tags", tags),
	))
	defer span.End()

	total := 0
	b.targets.Range(func(_ string, target Target) bool {
		for _, tag := range tags {
			total += target.InvalidateTag(ctx, tag)
		}
		return true
	})

	span.SetAttributes(attribute.Int("invalidation.entries", total))
	b.logger.V(1).Info("broadcast invalidation", "tags", tags, "entries", total)
	return total
}

// normalizeTags trims, drops empties and dedupes, keeping a stable order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return dedupeSorted(out)
}

func dedupeSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
