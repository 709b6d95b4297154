// Package invalidation provides the tag broadcast that connects writes to
// cached reads.
//
// A Bus holds any number of targets, usually one *cache.QueryCache per
// element type. Invalidate(ctx, "products") marks every cached products page
// stale in every target, whatever its params. Targets with mounted
// subscribers refetch right away; the others reload on their next fetch.
package invalidation
