package liststate

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-query-cache/cache"
)

// Param names of the canonical list query.
const (
	ParamPage   = "page"
	ParamLimit  = "limit"
	ParamSort   = "sort"
	ParamSearch = "search"
)

// Direction is the sort direction of a column.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionAsc
	DirectionDesc
)

// Next returns the direction after one more click on the same column:
// none, ascending, descending, none.
func (d Direction) Next() Direction {
	switch d {
	case DirectionNone:
		return DirectionAsc
	case DirectionAsc:
		return DirectionDesc
	default:
		return DirectionNone
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionAsc:
		return "asc"
	case DirectionDesc:
		return "desc"
	default:
		return "none"
	}
}

// Sort is the active sort column. The zero value means unsorted.
type Sort struct {
	Field     string
	Direction Direction
}

// IsZero reports whether no sort is applied.
func (s Sort) IsZero() bool {
	return s.Field == "" || s.Direction == DirectionNone
}

// Param encodes the sort as a query value: "price" ascending, "-price"
// descending, empty when unsorted.
func (s Sort) Param() string {
	if s.IsZero() {
		return ""
	}
	if s.Direction == DirectionDesc {
		return "-" + s.Field
	}
	return s.Field
}

// ParseSort decodes a value produced by Sort.Param.
func ParseSort(v string) Sort {
	v = strings.TrimSpace(v)
	switch {
	case v == "" || v == "-":
		return Sort{}
	case strings.HasPrefix(v, "-"):
		return Sort{Field: v[1:], Direction: DirectionDesc}
	default:
		return Sort{Field: v, Direction: DirectionAsc}
	}
}

// State is the list state of one view session.
type State struct {
	Page  int
	Limit int
	Sort  Sort

	// RawSearch is the text as typed. Search is the debounced term that
	// actually drives queries.
	RawSearch string
	Search    string
}

// Params derives the canonical query params. Sort and search are omitted
// when empty so that equal lists share a cache entry.
func (s State) Params() cache.Params {
	params := cache.Params{
		ParamPage:  s.Page,
		ParamLimit: s.Limit,
	}
	if sort := s.Sort.Param(); sort != "" {
		params[ParamSort] = sort
	}
	if s.Search != "" {
		params[ParamSearch] = s.Search
	}
	return params
}

// Key returns the cache key of the current page of resource.
func (s State) Key(resource string) cache.QueryKey {
	return cache.NewKey(resource, s.Params())
}

// NextPageKey returns the key of the page after the current one with the
// same limit, sort and search.
func (s State) NextPageKey(resource string) cache.QueryKey {
	next := s
	next.Page++
	return next.Key(resource)
}

// Validate checks the paging bounds.
func (s State) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Page, validation.Required, validation.Min(1)),
		validation.Field(&s.Limit, validation.Required, validation.Min(1)),
	)
}

// FromKey rebuilds the query part of a State from a key built by State.Key.
func FromKey(key cache.QueryKey) State {
	s := State{Page: 1}
	if page, ok := key.IntParam(ParamPage); ok {
		s.Page = page
	}
	if limit, ok := key.IntParam(ParamLimit); ok {
		s.Limit = limit
	}
	if v, ok := key.Param(ParamSort); ok {
		if sort, ok := v.(string); ok {
			s.Sort = ParseSort(sort)
		}
	}
	if v, ok := key.Param(ParamSearch); ok {
		if search, ok := v.(string); ok {
			s.Search = search
			s.RawSearch = search
		}
	}
	return s
}
