package di

import (
	"errors"
	"log"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/invalidation"
	"github.com/goliatone/go-query-cache/liststate"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/repoloader"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger replaces the default stderr logger.
func WithLogger(logger logr.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// Container wires the shared pieces of a session: one freshness store and
// one invalidation bus for every resource cache.
// Create it at login and Close it at logout.
type Container struct {
	config Config
	store  cache.CacheService
	bus    *invalidation.Bus
	logger logr.Logger

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewContainer creates a container with the provided configuration.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config: config,
		logger: stdr.New(log.New(os.Stderr, "", log.LstdFlags)),
	}
	for _, opt := range opts {
		opt(c)
	}

	store, err := cache.NewCacheService(config.Cache)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.bus = invalidation.New(invalidation.WithLogger(c.logger.WithName("invalidation")))

	return c, nil
}

// NewContainerWithDefaults creates a container using DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

// CacheService returns the shared freshness store.
func (c *Container) CacheService() cache.CacheService {
	return c.store
}

// Bus returns the shared invalidation bus.
func (c *Container) Bus() *invalidation.Bus {
	return c.bus
}

// Logger returns the container logger.
func (c *Container) Logger() logr.Logger {
	return c.logger
}

// Config returns a copy of the configuration.
func (c *Container) Config() Config {
	return c.config
}

// Close stops every cache created by the container. It is safe to call more
// than once.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Container) track(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("di: container is closed")
	}
	c.closers = append(c.closers, fn)
	return nil
}

// NewQueryCache creates a cache on the shared store and registers it with
// the bus. Use one cache per resource element type.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewQueryCache[Product](container)
func NewQueryCache[T any](c *Container) (*cache.QueryCache[T], error) {
	qc, err := cache.New[T](c.store, c.config.Cache, cache.WithLogger(c.logger.WithName("querycache")))
	if err != nil {
		return nil, err
	}

	unregister := c.bus.Register(qc)
	if err := c.track(func() error {
		unregister()
		return qc.Close()
	}); err != nil {
		unregister()
		_ = qc.Close()
		return nil, err
	}
	return qc, nil
}

// NewListController creates a list state controller with the configured page
// size and debounce interval.
func (c *Container) NewListController(scrollToTop func()) (*liststate.Controller, error) {
	opts := c.config.listOptions()
	opts.ScrollToTop = scrollToTop
	opts.Logger = c.logger.WithName("liststate")
	return liststate.NewController(opts)
}

// NewTracker creates a mutation tracker for resource that invalidates through
// the shared bus.
func (c *Container) NewTracker(resource string, mutator mutation.Mutator, opts ...mutation.Option) (*mutation.Tracker, error) {
	opts = append([]mutation.Option{mutation.WithLogger(c.logger.WithName("mutation"))}, opts...)
	return mutation.New(resource, mutator, c.bus, opts...)
}

// Resource bundles what a list screen over a repository needs.
type Resource[T any] struct {
	Name    string
	Cache   *cache.QueryCache[T]
	Source  *repoloader.Source[T]
	Tracker *mutation.Tracker
}

// NewResource wires a repository into a cache, a loader and a mutation
// tracker for resource.
func NewResource[T any](c *Container, resource string, repo repository.Repository[T], cfg repoloader.Config, opts ...mutation.Option) (*Resource[T], error) {
	if cfg.Resource == "" {
		cfg.Resource = resource
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = c.config.DefaultLimit
	}

	qc, err := NewQueryCache[T](c)
	if err != nil {
		return nil, err
	}
	src := repoloader.New(repo, cfg)

	tracker, err := c.NewTracker(resource, src, opts...)
	if err != nil {
		return nil, err
	}

	return &Resource[T]{Name: resource, Cache: qc, Source: src, Tracker: tracker}, nil
}
