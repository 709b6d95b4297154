package liststate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/goliatone/go-query-cache/debounce"
)

// Reason tells listeners what changed.
type Reason string

const (
	ReasonPage       Reason = "page"
	ReasonPagination Reason = "pagination"
	ReasonLimit      Reason = "limit"
	ReasonSort       Reason = "sort"
	// ReasonInput is a keystroke; only RawSearch changed.
	ReasonInput Reason = "input"
	// ReasonSearch is a new debounced search term. Page is back to 1 and
	// views drop their selection.
	ReasonSearch Reason = "search"
)

// Listener receives the state after each change. Listeners must not call
// setters of the Controller that notified them.
type Listener func(State, Reason)

type listener struct {
	id uint64
	fn Listener
}

// Controller owns the State of one list view. All setters are safe for
// concurrent use; listeners are called outside the state lock, one change at
// a time.
type Controller struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	state     State
	listeners []listener
	nextID    uint64

	search      *debounce.Debouncer[string]
	scrollToTop func()
	logger      logr.Logger
}

// NewController creates a Controller from validated options.
func NewController(opts Options) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("liststate: invalid options: %w", err)
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	c := &Controller{
		state: State{
			Page:  opts.Page,
			Limit: opts.Limit,
			Sort:  opts.Sort,
		},
		scrollToTop: opts.ScrollToTop,
		logger:      opts.Logger,
	}
	c.search = debounce.New(opts.DebounceInterval, c.applySearch)
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers fn and returns a function removing it.
func (c *Controller) OnChange(fn Listener) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetPage moves to page and scrolls to the top.
func (c *Controller) SetPage(page int) error {
	if page < 1 {
		return fmt.Errorf("liststate: page must be at least 1, got %d", page)
	}
	c.update(ReasonPage, true, func(s *State) bool {
		if s.Page == page {
			return false
		}
		s.Page = page
		return true
	})
	return nil
}

// SetLimit changes the page size. The page goes back to 1.
func (c *Controller) SetLimit(limit int) error {
	if limit < 1 {
		return fmt.Errorf("liststate: limit must be at least 1, got %d", limit)
	}
	c.update(ReasonLimit, true, func(s *State) bool {
		if s.Limit == limit {
			return false
		}
		s.Limit = limit
		s.Page = 1
		return true
	})
	return nil
}

// SetPagination applies a page and page size change from a pager control.
// A new size always starts again from page 1.
func (c *Controller) SetPagination(page, size int) error {
	if page < 1 || size < 1 {
		return fmt.Errorf("liststate: invalid pagination page=%d size=%d", page, size)
	}
	c.update(ReasonPagination, true, func(s *State) bool {
		if s.Limit != size {
			s.Limit = size
			s.Page = 1
			return true
		}
		if s.Page == page {
			return false
		}
		s.Page = page
		return true
	})
	return nil
}

// ToggleSort handles a click on the header of field. Clicking the active
// column cycles its direction, clicking another column sorts it ascending.
// The page goes back to 1.
func (c *Controller) ToggleSort(field string) {
	field = strings.TrimSpace(field)
	if field == "" {
		return
	}
	c.update(ReasonSort, false, func(s *State) bool {
		next := Sort{Field: field, Direction: DirectionAsc}
		if s.Sort.Field == field {
			next.Direction = s.Sort.Direction.Next()
		}
		if next.Direction == DirectionNone {
			next = Sort{}
		}
		s.Sort = next
		s.Page = 1
		return true
	})
}

// SetSearchInput records typed text. The active search term follows once the
// input has been quiet for the debounce interval.
func (c *Controller) SetSearchInput(raw string) {
	changed := false
	c.update(ReasonInput, false, func(s *State) bool {
		if s.RawSearch == raw {
			return false
		}
		s.RawSearch = raw
		changed = true
		return true
	})
	if changed {
		c.search.Push(raw)
	}
}

// FlushSearch applies pending search input right away, as on pressing enter.
func (c *Controller) FlushSearch() {
	c.search.Flush()
}

// Reset returns to page 1 with no sort and no search, keeping the page size.
func (c *Controller) Reset() {
	c.search.Cancel()
	c.update(ReasonSearch, true, func(s *State) bool {
		*s = State{Page: 1, Limit: s.Limit}
		return true
	})
}

// Close stops the debounce timer. Pending input is dropped.
func (c *Controller) Close() {
	c.search.Stop()
}

func (c *Controller) applySearch(raw string) {
	term := strings.TrimSpace(raw)
	c.update(ReasonSearch, false, func(s *State) bool {
		if s.Search == term {
			return false
		}
		s.Search = term
		s.Page = 1
		return true
	})
}

// update applies fn under the state lock and, when it reports a change,
// notifies listeners with the resulting state.
func (c *Controller) update(reason Reason, scroll bool, fn func(*State) bool) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if !fn(&c.state) {
		c.mu.Unlock()
		return
	}
	state := c.state
	listeners := make([]listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.logger.V(1).Info("list state changed",
		"reason", string(reason),
		"page", state.Page,
		"limit", state.Limit,
		"sort", state.Sort.Param(),
		"search", state.Search,
	)

	if scroll && c.scrollToTop != nil {
		c.scrollToTop()
	}
	for _, l := range listeners {
		l.fn(state, reason)
	}
}
