package detach

import "reflect"

// IdentityHasher maps an object address to the key of its memo bucket.
// Distinct objects may share a key; the visited set resolves them by
// reference identity.
type IdentityHasher func(addr uintptr) uint64

// AddressHasher keys objects by their address
func AddressHasher(addr uintptr) uint64 {
	return uint64(addr)
}

// identity is a reference to one object. Two identities are the same object
// only when address, type and (for slices) length all match: a struct and its
// first field share an address, as do zero-size values.
type identity struct {
	addr uintptr
	typ  reflect.Type
	n    int
}

// identityOf returns the identity of the object v refers to.
// Values without one (scalars, nil references, unaddressable structs) report false.
func identityOf(v reflect.Value) (identity, bool) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return identity{}, false
		}
		// Keyed by pointee so &x and an addressable x are one object
		return identity{addr: v.Pointer(), typ: v.Type().Elem()}, true
	case reflect.Map:
		if v.IsNil() {
			return identity{}, false
		}
		return identity{addr: v.Pointer(), typ: v.Type()}, true
	case reflect.Slice:
		if v.Len() == 0 {
			return identity{}, false
		}
		return identity{addr: v.Pointer(), typ: v.Type(), n: v.Len()}, true
	case reflect.Struct, reflect.Array:
		if v.CanAddr() {
			return identity{addr: v.UnsafeAddr(), typ: v.Type()}, true
		}
	}
	return identity{}, false
}

// visitedSet is the memo table of one walk
type visitedSet struct {
	hash       IdentityHasher
	primary    map[uint64]identity
	collisions map[uint64][]identity

	// onCollision observes every key collision; seen reports whether the
	// colliding object had already been walked
	onCollision func(key uint64, id, first identity, seen bool)
	collided    int
}

func newVisitedSet(hash IdentityHasher) *visitedSet {
	if hash == nil {
		hash = AddressHasher
	}
	return &visitedSet{
		hash:       hash,
		primary:    make(map[uint64]identity),
		collisions: make(map[uint64][]identity),
	}
}

// shouldSkip reports whether id was already recorded, recording it when not.
// Recording happens before the caller walks the children, so a reference
// back to an ancestor that is still being expanded is skipped.
func (s *visitedSet) shouldSkip(id identity) bool {
	key := s.hash(id.addr)
	first, ok := s.primary[key]
	if !ok {
		s.primary[key] = id
		return false
	}
	if first == id {
		return true
	}

	seen := false
	for _, other := range s.collisions[key] {
		if other == id {
			seen = true
			break
		}
	}
	if s.onCollision != nil {
		s.onCollision(key, id, first, seen)
	}
	if seen {
		return true
	}
	s.collisions[key] = append(s.collisions[key], id)
	s.collided++
	return false
}

// contains reports whether id was recorded, without recording it
func (s *visitedSet) contains(id identity) bool {
	key := s.hash(id.addr)
	first, ok := s.primary[key]
	if !ok {
		return false
	}
	if first == id {
		return true
	}
	for _, other := range s.collisions[key] {
		if other == id {
			return true
		}
	}
	return false
}

// size is the number of distinct objects recorded
func (s *visitedSet) size() int {
	n := len(s.primary)
	for _, list := range s.collisions {
		n += len(list)
	}
	return n
}

// clear drops every entry so the graph is not retained past the walk
func (s *visitedSet) clear() {
	clear(s.primary)
	clear(s.collisions)
}
