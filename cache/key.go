package cache

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

var keySerializer = NewDefaultKeySerializer()

// Params are the query parameters of a QueryKey. Values must be scalars:
// strings, booleans, integers or floats.
type Params map[string]any

// QueryKey identifies a cached query: a resource name plus its parameters.
// Two keys are equal iff the resource matches and the parameters are deep-equal.
type QueryKey struct {
	resource  string
	params    Params
	canonical string
}

// NewKey builds a QueryKey. The params map is copied.
func NewKey(resource string, params Params) QueryKey {
	cp := make(Params, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return QueryKey{
		resource:  resource,
		params:    cp,
		canonical: keySerializer.SerializeKey(resource, map[string]any(cp)),
	}
}

// Resource returns the resource name, which doubles as the invalidation tag.
func (k QueryKey) Resource() string {
	return k.resource
}

// Params returns a copy of the key parameters.
func (k QueryKey) Params() Params {
	cp := make(Params, len(k.params))
	for name, v := range k.params {
		cp[name] = v
	}
	return cp
}

// Param returns a single parameter value.
func (k QueryKey) Param(name string) (any, bool) {
	v, ok := k.params[name]
	return v, ok
}

// IntParam returns a parameter as an int, accepting any integer kind or a
// numeric string.
func (k QueryKey) IntParam(name string) (int, bool) {
	v, ok := k.params[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// With returns a copy of the key with name set to value.
func (k QueryKey) With(name string, value any) QueryKey {
	params := k.Params()
	params[name] = value
	return NewKey(k.resource, params)
}

// Without returns a copy of the key with name removed.
func (k QueryKey) Without(name string) QueryKey {
	params := k.Params()
	delete(params, name)
	return NewKey(k.resource, params)
}

// Equal reports whether both keys address the same query.
func (k QueryKey) Equal(other QueryKey) bool {
	return k.canonical == other.canonical
}

// IsZero reports whether the key was never initialised.
func (k QueryKey) IsZero() bool {
	return k.canonical == ""
}

// String returns the canonical form of the key.
func (k QueryKey) String() string {
	return k.canonical
}

// StoreKey returns the compact key used in the freshness store. It keeps the
// resource as a prefix so a whole resource can be dropped by prefix.
func (k QueryKey) StoreKey() string {
	return ResourcePrefix(k.resource) + strconv.FormatUint(xxhash.Sum64String(k.canonical), 16)
}

// Validate checks that the key has a resource name and scalar parameters.
func (k QueryKey) Validate() error {
	if k.resource == "" {
		return fmt.Errorf("cache: query key has no resource")
	}
	for name, v := range k.params {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("cache: param %q of %s has non-scalar type %T", name, k.resource, v)
		}
	}
	return nil
}

// ResourcePrefix returns the store key prefix shared by every key of resource.
func ResourcePrefix(resource string) string {
	return resource + KeySeparator
}

// MatchResource returns a predicate matching every key under the given tag,
// regardless of params.
func MatchResource(tag string) func(QueryKey) bool {
	return func(k QueryKey) bool {
		return k.resource == tag
	}
}
