package cache

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQueryKey_Equality(t *testing.T) {
	a := NewKey("products", Params{"page": 1, "limit": 10, "search": "abc"})
	b := NewKey("products", Params{"search": "abc", "limit": 10, "page": 1})

	if !a.Equal(b) {
		t.Errorf("expected keys with equal params to match:\n%s\n%s", a, b)
	}
	if a.StoreKey() != b.StoreKey() {
		t.Error("expected equal store keys")
	}

	tests := []struct {
		name  string
		other QueryKey
	}{
		{"different page", a.With("page", 2)},
		{"string page", a.With("page", "1")},
		{"missing search", a.Without("search")},
		{"different resource", NewKey("suppliers", a.Params())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if a.Equal(tt.other) {
				t.Errorf("expected %s != %s", a, tt.other)
			}
			if a.StoreKey() == tt.other.StoreKey() {
				t.Error("expected distinct store keys")
			}
		})
	}
}

func TestQueryKey_ParamsAreCopied(t *testing.T) {
	params := Params{"page": 1}
	key := NewKey("products", params)

	params["page"] = 5
	if v, _ := key.IntParam("page"); v != 1 {
		t.Errorf("key must not observe caller mutations, got page %d", v)
	}

	got := key.Params()
	got["page"] = 9
	if v, _ := key.IntParam("page"); v != 1 {
		t.Errorf("Params() must return a copy, got page %d", v)
	}

	if diff := cmp.Diff(Params{"page": 1}, key.Params()); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryKey_IntParam(t *testing.T) {
	key := NewKey("products", Params{
		"page":   int64(3),
		"limit":  "25",
		"ratio":  2.5,
		"search": "abc",
	})

	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"page", 3, true},
		{"limit", 25, true},
		{"ratio", 2, false},
		{"search", 0, false},
		{"missing", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := key.IntParam(tt.name)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("IntParam(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestQueryKey_StoreKeyHasResourcePrefix(t *testing.T) {
	key := NewKey("products", Params{"page": 1})
	if !strings.HasPrefix(key.StoreKey(), ResourcePrefix("products")) {
		t.Errorf("store key %q lacks resource prefix", key.StoreKey())
	}
	if strings.HasPrefix(key.StoreKey(), ResourcePrefix("product")) {
		t.Error("prefix must not match a shorter resource name")
	}
}

func TestMatchResource(t *testing.T) {
	match := MatchResource("products")

	if !match(NewKey("products", Params{"page": 4, "search": "x"})) {
		t.Error("expected products key to match regardless of params")
	}
	if match(NewKey("suppliers", nil)) {
		t.Error("expected suppliers key not to match")
	}
}

func TestQueryKey_Zero(t *testing.T) {
	var zero QueryKey
	if !zero.IsZero() {
		t.Error("expected zero key")
	}
	if NewKey("products", nil).IsZero() {
		t.Error("expected initialised key not to be zero")
	}
	if err := zero.Validate(); err == nil {
		t.Error("expected zero key to fail validation")
	}
}

func TestNewPage(t *testing.T) {
	tests := []struct {
		name        string
		docs        []int
		total       int
		page, limit int
		counter     int
		hasNext     bool
	}{
		{"first page", []int{1, 2}, 5, 1, 2, 1, true},
		{"middle page", []int{3, 4}, 5, 2, 2, 3, true},
		{"last page", []int{5}, 5, 3, 2, 5, false},
		{"empty", nil, 0, 1, 10, 1, false},
		{"page below one", []int{1}, 3, 0, 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage(tt.docs, tt.total, tt.page, tt.limit)
			if p.PagingCounter != tt.counter {
				t.Errorf("PagingCounter = %d, want %d", p.PagingCounter, tt.counter)
			}
			if p.HasNextPage != tt.hasNext {
				t.Errorf("HasNextPage = %v, want %v", p.HasNextPage, tt.hasNext)
			}
			if p.Len() != len(tt.docs) || p.TotalDocs != tt.total {
				t.Errorf("unexpected page %+v", p)
			}
		})
	}
}
