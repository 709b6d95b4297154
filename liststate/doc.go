// Package liststate holds the paging, sort and search state of a list view
// and derives the canonical cache key from it.
//
// A Controller applies the rules of the admin lists: a new page size, sort or
// search term returns to page 1, page and size changes scroll to the top, and
// typed search text is debounced before it reaches a query.
package liststate
