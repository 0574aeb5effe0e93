// Copyright 2026 The opus3d Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package swiss is a Swiss Table hash map with explicitly managed storage.
// See https://abseil.io/about/design/swisstables and
// https://faultlore.com/blah/hashbrown-tldr/ for background.
//
// # Swiss Tables
//
// Swiss tables are open-addressing hash tables that keep a separate metadata
// array with one "control byte" per slot. 7 bits of the control byte are
// taken from hash(key) and the remaining bit distinguishes full slots from
// empty and deleted ones. The metadata array allows a probe to compare a
// whole group of slots against the wanted key's tag with a single vector
// compare before touching any key.
//
// # Layout
//
// A Map's capacity N is always a power of two and at least 16. The table is
// a single storage block obtained from a memory.Allocator holding N+16
// control bytes, padding up to the alignment of Slot[K,V], and then N slots.
// The 16 control bytes past the end are always empty and never name a real
// slot. When Slot[K,V] contains Go pointers the slots cannot live in memory
// the garbage collector does not scan, so they are kept in a separate Go
// slice and the block holds only the control bytes.
//
// # Probing
//
// Groups are 16 slots wide and aligned on a 16 slot boundary. A probe starts
// at the group containing h1(hash) mod N and walks groups linearly,
// wrapping at N. Within a group the control bytes are compared against the
// wanted tag and against the empty marker. Candidate slots are handed to a
// visitor which decides whether the probe is over. An empty slot ends the
// probe: no key can live further along a chain that had room for it.
//
// Deletion always leaves a tombstone (ctrlDeleted). Tombstones never end a
// probe and are reused by later insertions. They are dropped when the table
// is rehashed, which happens on insertion once live slots plus tombstones
// reach 3/4 of the capacity. The table doubles when the live slots alone
// warrant it and is rebuilt at the same capacity otherwise.
package swiss

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/opus3d/foundation/errcode"
	"github.com/opus3d/foundation/hashfn"
	"github.com/opus3d/foundation/internal/simd"
	"github.com/opus3d/foundation/memory"
	"github.com/rs/zerolog"
)

const (
	invariants = errcode.Invariants

	groupSize = simd.Width
	// minCapacity is the capacity of the smallest table.
	minCapacity = groupSize

	// maxLoadNum/maxLoadDen is the fill ratio, tombstones included, that
	// triggers a rehash.
	maxLoadNum = 3
	maxLoadDen = 4

	ctrlEmpty   ctrl = 0b10000000
	ctrlDeleted ctrl = 0b11111110
)

// Each slot in the hash table has a control byte which can have one of three
// states: empty, deleted and full. They have the following bit patterns:
//
//	  empty: 1 0 0 0 0 0 0 0
//	deleted: 1 1 1 1 1 1 1 0
//	   full: 0 h h h h h h h  // h represents the H2 hash bits
type ctrl uint8

func (c ctrl) full() bool {
	return c&ctrlEmpty == 0
}

// Slot holds a key and value.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// Map is an unordered map from keys to values with Put, Find, Get, Delete,
// and All operations. Storage is obtained from the memory.Allocator passed
// to New and must be released with Close.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	hash      hashfn.Hasher[K]
	allocator memory.Allocator
	logger    zerolog.Logger
	storage[K, V]
	// The number of full slots.
	used int
	// The number of deleted slots.
	tombstones int
}

// New constructs a Map with initialCapacity slots, allocating its storage
// from alloc. The capacity is rounded up to a power of two, and is at least
// 16. Like any table, the map rehashes once 3/4 of its slots are in use, so
// it holds fewer than initialCapacity entries before growing. An allocation
// failure is returned.
func New[K comparable, V any](
	alloc memory.Allocator, initialCapacity int, options ...option[K, V],
) (*Map[K, V], error) {
	if alloc == nil {
		return nil, errors.AssertionFailedf("swiss: nil allocator")
	}
	m := &Map[K, V]{
		allocator: alloc,
		logger:    zerolog.Nop(),
	}
	for _, op := range options {
		op.apply(m)
	}
	if m.hash == nil {
		m.hash = hashfn.Default[K]()
	}

	capacity := normalizeCapacity(initialCapacity)
	st, err := newStorage[K, V](alloc, capacity)
	if err != nil {
		return nil, errors.Wrapf(err, "swiss: allocating map of capacity %d", capacity)
	}
	m.storage = st
	m.checkInvariants()
	return m, nil
}

// MustNew is New for callers that cannot continue without the map. An
// allocation failure goes through errcode.Panic.
func MustNew[K comparable, V any](
	alloc memory.Allocator, initialCapacity int, options ...option[K, V],
) *Map[K, V] {
	m, err := New[K, V](alloc, initialCapacity, options...)
	if err != nil {
		errcode.Panic("swiss: constructing map", err)
	}
	return m
}

// Close releases the map's storage back to its allocator. Close is
// idempotent. A closed map is empty with zero capacity; a subsequent Put
// allocates fresh storage.
func (m *Map[K, V]) Close() {
	m.storage.release(m.allocator)
	m.used = 0
	m.tombstones = 0
}

// Put inserts an entry into the map, overwriting the value of an existing
// entry with the same key. If the table has to grow and its allocator
// cannot serve the new storage, Put panics through errcode.Panic. Use TryPut
// to handle allocation failure.
func (m *Map[K, V]) Put(key K, value V) {
	if err := m.TryPut(key, value); err != nil {
		errcode.Panic("swiss: growing map during insert", err)
	}
}

// TryPut is Put returning growth failures instead of panicking. On failure
// the map is unchanged.
func (m *Map[K, V]) TryPut(key K, value V) error {
	// Growth is decided before probing so that the probe below always finds
	// room.
	if err := m.maybeGrow(); err != nil {
		return err
	}

	h := m.hash(key)
	v := insertVisitor[K, V]{m: m, key: key, value: value}
	probe(m, h, &v)
	if v.found {
		return nil
	}

	if *m.ctrls.At(v.index) == ctrlDeleted {
		m.tombstones--
	}
	slot := m.slots.At(v.index)
	slot.key = key
	slot.value = value
	_, h2 := hashfn.Split(h)
	m.setCtrl(v.index, ctrl(h2))
	m.used++
	m.checkInvariants()
	return nil
}

// Find returns a pointer to the value stored for key, or nil if the key is
// not present. The pointer is valid until the next Put, Delete, Rehash,
// Clear or Close.
func (m *Map[K, V]) Find(key K) *V {
	if m.used == 0 || m.capacity == 0 {
		return nil
	}
	v := findVisitor[K, V]{m: m, key: key}
	probe(m, m.hash(key), &v)
	if !v.found {
		return nil
	}
	return &m.slots.At(v.index).value
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if p := m.Find(key); p != nil {
		return *p, true
	}
	return value, false
}

// Delete deletes the entry corresponding to the specified key from the map
// and reports whether it was present. The slot becomes a tombstone.
func (m *Map[K, V]) Delete(key K) bool {
	if m.used == 0 || m.capacity == 0 {
		return false
	}
	v := eraseVisitor[K, V]{m: m, key: key}
	probe(m, m.hash(key), &v)
	if v.erased {
		m.used--
		m.tombstones++
	}
	m.checkInvariants()
	return v.erased
}

// Rehash rebuilds the table with room for newCapacity slots, dropping every
// tombstone. newCapacity is rounded up to a power of two of at least 16 and
// must be at least twice the number of entries. On allocation failure the
// map is unchanged and the error is returned.
func (m *Map[K, V]) Rehash(newCapacity int) error {
	errcode.Assert(newCapacity >= 2*m.used,
		"swiss: rehash capacity %d below twice the size %d", newCapacity, m.used)
	return m.rehash(normalizeCapacity(newCapacity))
}

// Clear removes every entry while keeping the storage.
func (m *Map[K, V]) Clear() {
	if m.capacity == 0 {
		return
	}
	clear(m.slots.Slice(0, m.capacity))
	m.resetCtrls()
	m.used = 0
	m.tombstones = 0
	m.checkInvariants()
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. All has the shape of an
// iter.Seq2[K, V] so the map can be ranged over:
//
//	for k, v := range m.All {
//	  fmt.Printf("%v: %v\n", k, v)
//	}
//
// The map can be mutated during iteration, though there is no guarantee that
// the mutations will be visible to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the capacity, controls, and slots so that iteration remains
	// valid if the map is rehashed during iteration. The old storage may
	// have been released, so iteration stops if the map moves. A LIFO
	// allocator can hand a released block straight back to a smaller table,
	// so the capacity is compared too.
	st := m.storage
	for i := uintptr(0); i < st.capacity; i++ {
		if m.storage.capacity != st.capacity ||
			unsafe.SliceData(m.storage.block) != unsafe.SliceData(st.block) {
			return
		}
		if st.ctrls.At(i).full() {
			s := st.slots.At(i)
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Cap returns the number of slots in the table.
func (m *Map[K, V]) Cap() int {
	return int(m.capacity)
}

// Tombstones returns the number of deleted slots awaiting reclamation.
func (m *Map[K, V]) Tombstones() int {
	return m.tombstones
}

// Allocator returns the allocator the map's storage comes from.
func (m *Map[K, V]) Allocator() memory.Allocator {
	return m.allocator
}

// maybeGrow rehashes the table if one more insertion would take live slots
// plus tombstones to 3/4 of the capacity. The table doubles if the live
// slots alone would exceed half the capacity, and is rebuilt in place
// otherwise, which reclaims the tombstones.
func (m *Map[K, V]) maybeGrow() error {
	capacity := int(m.capacity)
	if (m.used+m.tombstones+1)*maxLoadDen < capacity*maxLoadNum {
		return nil
	}
	newCapacity := m.capacity
	if (m.used+1)*2 > capacity {
		newCapacity = 2 * m.capacity
	}
	return m.rehash(normalizeCapacity(int(newCapacity)))
}

// rehash builds a table of newCapacity slots, re-inserts every live entry
// into it and releases the old storage. newCapacity must already be
// normalized.
func (m *Map[K, V]) rehash(newCapacity uintptr) error {
	st, err := newStorage[K, V](m.allocator, newCapacity)
	if err != nil {
		m.logger.Debug().Err(err).
			Uint64("capacity", uint64(m.capacity)).
			Uint64("new-capacity", uint64(newCapacity)).
			Msg("rehash failed")
		return errors.Wrapf(err, "swiss: rehashing to capacity %d", newCapacity)
	}

	old := m.storage
	m.storage = st
	m.logger.Debug().
		Uint64("capacity", uint64(old.capacity)).
		Uint64("new-capacity", uint64(newCapacity)).
		Int("used", m.used).
		Int("tombstones", m.tombstones).
		Msg("rehash")
	m.tombstones = 0

	for i := uintptr(0); i < old.capacity; i++ {
		if !old.ctrls.At(i).full() {
			continue
		}
		s := old.slots.At(i)
		m.uncheckedPut(m.hash(s.key), s.key, s.value)
	}
	old.release(m.allocator)

	m.checkInvariants()
	return nil
}

// uncheckedPut inserts an entry known not to be in the table into a slot
// known to exist. Used while rebuilding the table.
func (m *Map[K, V]) uncheckedPut(h uint64, key K, value V) {
	var v placeVisitor
	probe(m, h, &v)
	s := m.slots.At(v.index)
	s.key = key
	s.value = value
	_, h2 := hashfn.Split(h)
	m.setCtrl(v.index, ctrl(h2))
}

// setCtrl sets the control byte at index i. Indexes at or past the capacity
// are never written: the tail control bytes stay empty.
func (m *Map[K, V]) setCtrl(i uintptr, c ctrl) {
	*m.ctrls.At(i) = c
}

// normalizeCapacity rounds n up to a power of two no smaller than
// minCapacity.
func normalizeCapacity(n int) uintptr {
	if n <= minCapacity {
		return minCapacity
	}
	return uintptr(memory.NextPowerOfTwo(uint64(n)))
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if m.capacity == 0 {
			if m.used != 0 || m.tombstones != 0 {
				m.invariantFailed("empty storage holds used=%d tombstones=%d", m.used, m.tombstones)
			}
			return
		}
		if m.capacity < minCapacity || m.capacity&(m.capacity-1) != 0 {
			m.invariantFailed("capacity %d is not a power of two >= %d", m.capacity, minCapacity)
		}
		// The tail control bytes are never written.
		tail := simd.Load((*[groupSize]uint8)(unsafe.Pointer(m.ctrls.At(m.capacity))))
		if mask := tail.Equal(simd.Broadcast(uint8(ctrlEmpty))).MoveMask(); mask != 1<<groupSize-1 {
			m.invariantFailed("tail ctrls not empty: %x", tail)
		}

		// For every full slot, verify we can retrieve the key using Find and
		// that the control byte holds the key's tag. Count the used, deleted
		// and empty slots.
		var used, deleted, empty int
		for i := uintptr(0); i < m.capacity; i++ {
			c := *m.ctrls.At(i)
			switch {
			case c == ctrlDeleted:
				deleted++
			case c == ctrlEmpty:
				empty++
			case c.full():
				s := m.slots.At(i)
				h := m.hash(s.key)
				h1, h2 := hashfn.Split(h)
				if c != ctrl(h2) {
					m.invariantFailed("slot(%d): ctrl %02x does not match h2=%02x", i, c, h2)
				}
				if p := m.Find(s.key); p != &s.value {
					m.invariantFailed("slot(%d): %v not found [h2=%02x h1=%07x]", i, s.key, h2, h1)
				}
				used++
			default:
				m.invariantFailed("ctrl(%d): invalid control byte %02x", i, c)
			}
		}

		if used != m.used {
			m.invariantFailed("found %d used slots, but used count is %d", used, m.used)
		}
		if deleted != m.tombstones {
			m.invariantFailed("found %d deleted slots, but tombstone count is %d", deleted, m.tombstones)
		}
		if empty == 0 {
			m.invariantFailed("no empty slot")
		}
	}
}

func (m *Map[K, V]) invariantFailed(format string, args ...interface{}) {
	errcode.Panic(fmt.Sprintf("invariant failed: "+format, args...)+"\n"+m.debugString(), nil)
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  tombstones=%d\n", m.capacity, m.used, m.tombstones)
	for i := uintptr(0); i < m.capacity+groupSize && m.capacity > 0; i++ {
		switch c := *m.ctrls.At(i); {
		case c == ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case c == ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		case c.full() && i < m.capacity:
			s := m.slots.At(i)
			_, h2 := hashfn.Split(m.hash(s.key))
			fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x h2=%02x]\n", i, s.key, c, h2)
		default:
			fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
		}
	}
	return buf.String()
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}
