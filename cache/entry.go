package cache

import "time"

// Status is the lifecycle state of a cache entry.
type Status int

const (
	// StatusIdle means no fetch was ever started for the key.
	StatusIdle Status = iota
	// StatusLoading means the first real fetch is outstanding and no real
	// data exists yet. Placeholder data may be shown.
	StatusLoading
	// StatusSuccess means the last settled fetch succeeded.
	StatusSuccess
	// StatusError means the last settled fetch failed. Data from an earlier
	// success is kept.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a point-in-time view of a cache entry.
type Entry[T any] struct {
	Key    QueryKey
	Status Status

	// Data is the last successful page, or the placeholder page while
	// IsPlaceholder is true. Nil when neither exists.
	Data *Page[T]
	Err  *FetchError

	FetchedAt time.Time

	IsPlaceholder   bool
	IsFetching      bool
	IsStale         bool
	SubscriberCount int
}

// HasData reports whether the entry holds real, fetched data.
func (e Entry[T]) HasData() bool {
	return e.Data != nil && !e.IsPlaceholder
}

// Docs returns the documents of the current page, or nil.
func (e Entry[T]) Docs() []T {
	if e.Data == nil {
		return nil
	}
	return e.Data.Docs
}
