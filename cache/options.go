package cache

import (
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-query-cache/cache"

type options struct {
	logger logr.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a QueryCache.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets the tracer used for loader spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithClock replaces time.Now, mostly for retention tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func defaultOptions() options {
	return options{
		logger: logr.Discard(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// FetchOptions tune a single Fetch call.
type FetchOptions[T any] struct {
	// PlaceholderData is shown while the first real fetch is outstanding.
	PlaceholderData *Page[T]
}

// FetchOption configures FetchOptions.
type FetchOption[T any] func(*FetchOptions[T])

// WithPlaceholder supplies placeholder data for a key that has never been fetched.
func WithPlaceholder[T any](page Page[T]) FetchOption[T] {
	return func(o *FetchOptions[T]) {
		p := page
		o.PlaceholderData = &p
	}
}
