package detach

import (
	"encoding/binary"
	"hash/fnv"
	"reflect"
	"sync"
)

// defaultRootStripes is the stripe count of a Detacher's root locks
const defaultRootStripes = 32

// rootLocks serializes walks that start at the same root. Roots are keyed
// by address and hashed onto a fixed set of mutexes, so unrelated roots
// rarely contend and the table never grows.
//
// Walks over different roots that share a subgraph are not serialized.
type rootLocks struct {
	stripes []sync.Mutex
	count   uint32
}

func newRootLocks(stripeCount int) *rootLocks {
	if stripeCount <= 0 {
		stripeCount = defaultRootStripes
	}
	return &rootLocks{
		stripes: make([]sync.Mutex, stripeCount),
		count:   uint32(stripeCount),
	}
}

// lock acquires the stripe for root and returns the matching unlock.
// Roots without an address (nil, by-value structs, scalars) get a no-op:
// the walk only ever mutates a copy of them.
func (rl *rootLocks) lock(root reflect.Value) func() {
	addr, ok := rootAddress(root)
	if !ok {
		return func() {}
	}
	idx := rl.stripeIndex(addr)
	rl.stripes[idx].Lock()
	return rl.stripes[idx].Unlock
}

// stripeIndex hashes addr with FNV-1a
func (rl *rootLocks) stripeIndex(addr uintptr) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))
	h := fnv.New32a()
	h.Write(buf[:])
	return h.Sum32() % rl.count
}

func rootAddress(v reflect.Value) (uintptr, bool) {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	}
	return 0, false
}
