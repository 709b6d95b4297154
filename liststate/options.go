package liststate

import (
	"time"

	"github.com/go-logr/logr"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Options configures a Controller.
type Options struct {
	// Page and Limit are the initial paging values.
	Page  int
	Limit int

	// Sort is the initial sort, zero for unsorted.
	Sort Sort

	// DebounceInterval is the quiet period before typed search text becomes
	// the active search term.
	DebounceInterval time.Duration

	// ScrollToTop is called after the page or the page size changed.
	ScrollToTop func()

	Logger logr.Logger
}

// DefaultOptions returns the paging used by the admin list views.
func DefaultOptions() Options {
	return Options{
		Page:             1,
		Limit:            10,
		DebounceInterval: 400 * time.Millisecond,
		Logger:           logr.Discard(),
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Page, validation.Required, validation.Min(1)),
		validation.Field(&o.Limit, validation.Required, validation.Min(1)),
		validation.Field(&o.DebounceInterval, validation.Required, validation.Min(time.Millisecond)),
	)
}
