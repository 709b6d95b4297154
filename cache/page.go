package cache

// Page is one page of a paginated list result.
// Pages are treated as immutable once handed to the cache.
type Page[T any] struct {
	Docs          []T  `json:"docs"`
	TotalDocs     int  `json:"totalDocs"`
	PagingCounter int  `json:"pagingCounter"`
	HasNextPage   bool `json:"hasNextPage"`
}

// NewPage builds a Page for the given 1-based page number and page size.
func NewPage[T any](docs []T, totalDocs, page, limit int) Page[T] {
	if page < 1 {
		page = 1
	}
	offset := 0
	if limit > 0 {
		offset = (page - 1) * limit
	}

	return Page[T]{
		Docs:          docs,
		TotalDocs:     totalDocs,
		PagingCounter: offset + 1,
		HasNextPage:   limit > 0 && offset+len(docs) < totalDocs,
	}
}

// Len returns the number of documents on the page.
func (p Page[T]) Len() int {
	return len(p.Docs)
}
