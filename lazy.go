package detach

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Lazy is implemented by references whose value may not have been fetched yet.
// IsInitialized must answer without fetching.
type Lazy interface {
	IsInitialized() bool
}

// Proxy stands in for an entity whose state may not be loaded.
//
// Identifier is the only piece of state a walk reads from an uninitialized
// proxy. TargetType is the declared entity struct type; nil means the
// proxy's own pointee type (see ProxyState). Target returns the materialized
// implementation once initialized, or nil when the proxy is its own target.
type Proxy interface {
	Lazy
	Identifier() any
	TargetType() reflect.Type
	Target() any
}

// LazyCollection wraps a slice, set or map fetched on demand.
// Unwrap returns the plain container once initialized and nil before.
type LazyCollection interface {
	Lazy
	Unwrap() any
}

// RefillableCollection is a LazyCollection whose contents can be swapped
// for a plain container of the type Unwrap returns. A walk uses it to drop
// duplicates from a loaded collection that its slot type keeps in place.
type RefillableCollection interface {
	LazyCollection
	Refill(plain any) error
}

func refillMismatch(want, got any) error {
	return fmt.Errorf("%w: cannot refill %T with %T", ErrReflectiveAccess, want, got)
}

// ProxyState gives an entity type proxy behaviour when embedded, so pointer
// fields of the entity's own type can carry unloaded references:
//
//	type Customer struct {
//	    detach.ProxyState
//	    Oid  string
//	    Name string
//	}
//
//	order.Customer = &Customer{ProxyState: detach.NewProxyState("42")}
//
// The zero value is a loaded, ordinary entity.
type ProxyState struct {
	pending    bool
	identifier any
}

// NewProxyState returns the state of an unloaded reference to identifier
func NewProxyState(identifier any) ProxyState {
	return ProxyState{pending: true, identifier: identifier}
}

func (p *ProxyState) IsInitialized() bool      { return !p.pending }
func (p *ProxyState) Identifier() any          { return p.identifier }
func (p *ProxyState) TargetType() reflect.Type { return nil }
func (p *ProxyState) Target() any              { return nil }

// MarkLoaded flips the state once the owning entity has been populated
func (p *ProxyState) MarkLoaded() {
	p.pending = false
}

// LazySlice is an ordered collection fetched on demand
type LazySlice[T any] struct {
	items  []T
	loaded bool
}

// NewLazySlice returns an initialized lazy slice holding items
func NewLazySlice[T any](items ...T) *LazySlice[T] {
	return &LazySlice[T]{items: items, loaded: true}
}

// UnloadedSlice returns a lazy slice that has not been fetched
func UnloadedSlice[T any]() *LazySlice[T] {
	return &LazySlice[T]{}
}

func (s *LazySlice[T]) IsInitialized() bool { return s.loaded }

func (s *LazySlice[T]) Unwrap() any {
	if !s.loaded {
		return nil
	}
	return s.items
}

// Load populates the collection, as a fetch would
func (s *LazySlice[T]) Load(items []T) {
	s.items = items
	s.loaded = true
}

// Refill replaces the elements of a loaded slice
func (s *LazySlice[T]) Refill(plain any) error {
	items, ok := plain.([]T)
	if !ok {
		return refillMismatch(s, plain)
	}
	s.items = items
	return nil
}

// Items returns the loaded elements, nil before Load
func (s *LazySlice[T]) Items() []T {
	return s.items
}

// MarshalJSON encodes the elements; an unloaded slice encodes as null
func (s *LazySlice[T]) MarshalJSON() ([]byte, error) {
	if !s.loaded {
		return []byte("null"), nil
	}
	return json.Marshal(s.items)
}

// LazySet is an unordered collection fetched on demand
type LazySet[T comparable] struct {
	members map[T]struct{}
	loaded  bool
}

// NewLazySet returns an initialized lazy set holding members
func NewLazySet[T comparable](members ...T) *LazySet[T] {
	m := make(map[T]struct{}, len(members))
	for _, member := range members {
		m[member] = struct{}{}
	}
	return &LazySet[T]{members: m, loaded: true}
}

// UnloadedSet returns a lazy set that has not been fetched
func UnloadedSet[T comparable]() *LazySet[T] {
	return &LazySet[T]{}
}

func (s *LazySet[T]) IsInitialized() bool { return s.loaded }

func (s *LazySet[T]) Unwrap() any {
	if !s.loaded {
		return nil
	}
	return s.members
}

// Refill replaces the members of a loaded set
func (s *LazySet[T]) Refill(plain any) error {
	members, ok := plain.(map[T]struct{})
	if !ok {
		return refillMismatch(s, plain)
	}
	s.members = members
	return nil
}

// Len returns the number of members, zero before loading
func (s *LazySet[T]) Len() int {
	return len(s.members)
}

// MarshalJSON encodes the members as an array; an unloaded set encodes as null
func (s *LazySet[T]) MarshalJSON() ([]byte, error) {
	if !s.loaded {
		return []byte("null"), nil
	}
	members := make([]T, 0, len(s.members))
	for member := range s.members {
		members = append(members, member)
	}
	return json.Marshal(members)
}

// LazyMap is a keyed collection fetched on demand
type LazyMap[K comparable, V any] struct {
	entries map[K]V
	loaded  bool
}

// NewLazyMap returns an initialized lazy map holding entries
func NewLazyMap[K comparable, V any](entries map[K]V) *LazyMap[K, V] {
	return &LazyMap[K, V]{entries: entries, loaded: true}
}

// UnloadedMap returns a lazy map that has not been fetched
func UnloadedMap[K comparable, V any]() *LazyMap[K, V] {
	return &LazyMap[K, V]{}
}

func (m *LazyMap[K, V]) IsInitialized() bool { return m.loaded }

func (m *LazyMap[K, V]) Unwrap() any {
	if !m.loaded {
		return nil
	}
	return m.entries
}

// Refill replaces the entries of a loaded map
func (m *LazyMap[K, V]) Refill(plain any) error {
	entries, ok := plain.(map[K]V)
	if !ok {
		return refillMismatch(m, plain)
	}
	m.entries = entries
	return nil
}

// MarshalJSON encodes the entries; an unloaded map encodes as null
func (m *LazyMap[K, V]) MarshalJSON() ([]byte, error) {
	if !m.loaded {
		return []byte("null"), nil
	}
	return json.Marshal(m.entries)
}
