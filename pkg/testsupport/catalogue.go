package testsupport

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/liststate"
)

//go:embed testdata/products.json
var productsJSON []byte

// Product is the row type used across the package tests and the example.
type Product struct {
	ID       string  `json:"_id"`
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Price    float64 `json:"price"`
	Supplier string  `json:"supplier"`
}

// ProductID returns the row id of p.
func ProductID(p Product) string {
	return p.ID
}

// Products returns the product fixture set.
func Products() []Product {
	var products []Product
	if err := json.Unmarshal(productsJSON, &products); err != nil {
		panic(fmt.Sprintf("testsupport: invalid products fixture: %v", err))
	}
	return products
}

// PlaceholderProducts returns a skeleton page of n empty rows.
func PlaceholderProducts(n int) cache.Page[Product] {
	docs := make([]Product, n)
	for i := range docs {
		docs[i] = Product{ID: fmt.Sprintf("placeholder-%d", i+1)}
	}
	return cache.Page[Product]{Docs: docs}
}

// Catalogue is an in-memory products backend. Load serves pages the way the
// REST list endpoint does and DeleteMany/DeleteAll satisfy mutation.Mutator.
// Failures and blocking can be injected per operation.
type Catalogue struct {
	mu       sync.Mutex
	products []Product

	loads   []cache.Params
	deletes [][]string
	wipes   int

	loadErr   error
	deleteErr error

	loadGate   chan struct{}
	deleteGate chan struct{}
}

// NewCatalogue returns a Catalogue seeded with products.
func NewCatalogue(products []Product) *Catalogue {
	return &Catalogue{products: append([]Product(nil), products...)}
}

// Load implements cache.Loader[Product].
func (c *Catalogue) Load(ctx context.Context, params cache.Params) (cache.Page[Product], error) {
	c.mu.Lock()
	c.loads = append(c.loads, params)
	gate, err := c.loadGate, c.loadErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return cache.Page[Product]{}, ctx.Err()
		}
	}
	if err != nil {
		return cache.Page[Product]{}, err
	}

	state := liststate.FromKey(cache.NewKey("products", params))
	if state.Limit <= 0 {
		state.Limit = 10
	}

	c.mu.Lock()
	matched := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if state.Search == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(state.Search)) {
			matched = append(matched, p)
		}
	}
	c.mu.Unlock()

	sortProducts(matched, state.Sort)

	start := (state.Page - 1) * state.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + state.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return cache.NewPage(matched[start:end], len(matched), state.Page, state.Limit), nil
}

// DeleteMany removes ids.
func (c *Catalogue) DeleteMany(ctx context.Context, ids []string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, append([]string(nil), ids...))
	gate, err := c.deleteGate, c.deleteErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.products[:0]
	for _, p := range c.products {
		if _, ok := drop[p.ID]; !ok {
			kept = append(kept, p)
		}
	}
	c.products = kept
	return nil
}

// DeleteAll removes every product.
func (c *Catalogue) DeleteAll(ctx context.Context) error {
	c.mu.Lock()
	c.wipes++
	gate, err := c.deleteGate, c.deleteErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.products = nil
	c.mu.Unlock()
	return nil
}

// FailLoads makes every following Load return err; nil restores it.
func (c *Catalogue) FailLoads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadErr = err
}

// FailDeletes makes every following delete return err; nil restores it.
func (c *Catalogue) FailDeletes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErr = err
}

// BlockLoads makes loads wait until the returned function is called.
func (c *Catalogue) BlockLoads() (release func()) {
	return c.block(&c.loadGate)
}

// BlockDeletes makes deletes wait until the returned function is called.
func (c *Catalogue) BlockDeletes() (release func()) {
	return c.block(&c.deleteGate)
}

func (c *Catalogue) block(gate *chan struct{}) func() {
	ch := make(chan struct{})
	c.mu.Lock()
	*gate = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if *gate == ch {
				*gate = nil
			}
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Loads returns the params of every Load call so far.
func (c *Catalogue) Loads() []cache.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cache.Params(nil), c.loads...)
}

// LoadCount returns how many times Load was called.
func (c *Catalogue) LoadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loads)
}

// Deletes returns the id batches of every DeleteMany call so far.
func (c *Catalogue) Deletes() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.deletes...)
}

// Wipes returns how many times DeleteAll was called.
func (c *Catalogue) Wipes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wipes
}

// Len returns the number of stored products.
func (c *Catalogue) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.products)
}

func sortProducts(products []Product, s liststate.Sort) {
	if s.IsZero() {
		return
	}

	less := func(a, b Product) bool {
		switch s.Field {
		case "price":
			return a.Price < b.Price
		case "sku":
			return a.SKU < b.SKU
		case "supplier":
			return a.Supplier < b.Supplier
		default:
			return a.Name < b.Name
		}
	}

	sort.SliceStable(products, func(i, j int) bool {
		if s.Direction == liststate.DirectionDesc {
			return less(products[j], products[i])
		}
		return less(products[i], products[j])
	})
}
