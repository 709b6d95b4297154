package invalidation

import (
	"context"
)

type tagsContextKey struct{}

// WithTags attaches extra tags to ctx. Mutations invalidate them together
// with their own resource, e.g. saving a supplier can also refresh product
// lists that embed supplier names.
func WithTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	combined := normalizeTags(append(TagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, tagsContextKey{}, combined)
}

// TagsFromContext returns a copy of the tags attached with WithTags.
func TagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(tagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}
