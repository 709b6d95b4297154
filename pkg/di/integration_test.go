package di

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	repository "github.com/goliatone/go-repository-bun"
	perrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/listview"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/prefetch"
	"github.com/goliatone/go-query-cache/repoloader"
)

type Product = testsupport.Product

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	cfg := testConfig()
	cfg.DebounceInterval = time.Hour
	container, err := NewContainer(cfg, WithLogger(logr.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })
	return container
}

func waitUntil(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func ids(rows []listview.Row[Product]) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestIntegration_ListScreen(t *testing.T) {
	container := newTestContainer(t)
	ctx := context.Background()

	products, err := NewQueryCache[Product](container)
	require.NoError(t, err)

	cat := testsupport.NewCatalogue(testsupport.Products())

	state, err := container.NewListController(nil)
	require.NoError(t, err)
	defer state.Close()

	var mu sync.Mutex
	var messages []string
	tracker, err := container.NewTracker("products", cat, mutation.WithNotifier(mutation.NotifierFunc(func(level mutation.Level, message string) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, message)
	})))
	require.NoError(t, err)

	placeholder := testsupport.PlaceholderProducts(2)
	view, err := listview.New(ctx, listview.Config[Product]{
		Resource:    "products",
		Cache:       products,
		Loader:      cat.Load,
		State:       state,
		Tracker:     tracker,
		ID:          testsupport.ProductID,
		Placeholder: &placeholder,
		Prefetcher:  prefetch.New(products),
	})
	require.NoError(t, err)
	defer view.Close()

	waitUntil(t, "first page", func() bool {
		e := view.Entry()
		return e.Status == cache.StatusSuccess && !e.IsFetching && e.Data.Len() == 10
	})
	assert.Equal(t, 12, view.Total())

	// The next page is warmed in the background.
	waitUntil(t, "prefetch of page 2", func() bool {
		e, ok := products.Peek(state.State().NextPageKey("products"))
		return ok && e.Status == cache.StatusSuccess
	})

	state.ToggleSort("price")
	state.ToggleSort("price")
	state.SetSearchInput("  shoe ")
	state.FlushSearch()

	waitUntil(t, "search results", func() bool {
		e := view.Entry()
		return e.Status == cache.StatusSuccess && !e.IsFetching && view.Total() == 2
	})
	assert.Equal(t, []string{"p09", "p06"}, ids(view.Rows()))
	assert.Equal(t, "shoe", state.State().Search)

	view.Select("p09")
	require.True(t, view.CanDeleteSelected())
	require.NoError(t, view.DeleteSelected(ctx))

	waitUntil(t, "page after delete", func() bool {
		e := view.Entry()
		return e.Status == cache.StatusSuccess && !e.IsFetching && view.Total() == 1
	})
	assert.Equal(t, []string{"p06"}, ids(view.Rows()))
	assert.Empty(t, tracker.Selected())

	mu.Lock()
	assert.Equal(t, []string{"Product has been deleted successfully"}, messages)
	mu.Unlock()
}

func TestIntegration_InvalidationReachesEveryCache(t *testing.T) {
	container := newTestContainer(t)
	ctx := context.Background()

	cat := testsupport.NewCatalogue(testsupport.Products())
	first, err := NewQueryCache[Product](container)
	require.NoError(t, err)
	second, err := NewQueryCache[Product](container)
	require.NoError(t, err)

	key := cache.NewKey("products", cache.Params{"page": 1, "limit": 10})
	_, err = first.Load(ctx, key, cat.Load)
	require.NoError(t, err)
	_, err = second.Load(ctx, key, cat.Load)
	require.NoError(t, err)
	// Both caches sit on the container store, so the second one is served
	// the page the first one fetched.
	require.Equal(t, 1, cat.LoadCount())

	tracker, err := container.NewTracker("products", cat)
	require.NoError(t, err)
	require.NoError(t, tracker.DeleteOne(ctx, "p01"))

	e, err := first.Load(ctx, key, cat.Load)
	require.NoError(t, err)
	assert.Equal(t, 11, e.Data.TotalDocs)

	e, err = second.Load(ctx, key, cat.Load)
	require.NoError(t, err)
	assert.Equal(t, 11, e.Data.TotalDocs)
	assert.Equal(t, 2, cat.LoadCount())
}

// productRepository serves List from a fixed slice; the criteria are only
// recorded because rendering them needs a database.
type productRepository struct {
	repository.Repository[Product]

	mu       sync.Mutex
	products []Product
	lists    int
	deletes  int
	listErr  error
}

func (r *productRepository) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	return append([]Product(nil), r.products...), len(r.products), nil
}

func (r *productRepository) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	r.products = r.products[1:]
	return nil
}

func TestIntegration_NewResource(t *testing.T) {
	container := newTestContainer(t)
	ctx := context.Background()

	repo := &productRepository{products: testsupport.Products()[:3]}
	res, err := NewResource[Product](container, "products", repo, repoloader.Config{
		SearchColumns: []string{"name"},
	})
	require.NoError(t, err)
	assert.Equal(t, "products", res.Name)
	assert.Equal(t, "Product", res.Tracker.Noun())

	state, err := container.NewListController(nil)
	require.NoError(t, err)
	defer state.Close()

	key := state.State().Key("products")
	e, err := res.Cache.Load(ctx, key, res.Source.Load)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Data.TotalDocs)
	assert.False(t, e.Data.HasNextPage)

	require.NoError(t, res.Tracker.DeleteOne(ctx, "p01"))
	assert.Equal(t, 1, repo.deletes)

	e, err = res.Cache.Load(ctx, key, res.Source.Load)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Data.TotalDocs)
	assert.Equal(t, 2, repo.lists)
}

func TestIntegration_NewResourceErrors(t *testing.T) {
	container := newTestContainer(t)
	ctx := context.Background()

	repo := &productRepository{
		products: testsupport.Products()[:3],
		listErr:  perrors.New(perrors.CodeUnavailable, "database is restarting"),
	}
	res, err := NewResource[Product](container, "products", repo, repoloader.Config{})
	require.NoError(t, err)

	key := cache.NewKey("products", cache.Params{"page": 1, "limit": 10})
	_, err = res.Cache.Load(ctx, key, res.Source.Load)
	require.Error(t, err)

	var fe *cache.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, cache.KindServer, fe.Kind)
	assert.Equal(t, "database is restarting", fe.Message())

	// Invalid list params never reach the repository.
	bad := cache.NewKey("products", cache.Params{"page": 0, "limit": 10})
	_, err = res.Cache.Load(ctx, bad, res.Source.Load)
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, cache.KindValidation, fe.Kind)
	assert.Equal(t, 1, repo.lists)
}
