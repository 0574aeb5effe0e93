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

package swiss

import (
	"math/bits"
	"unsafe"

	"github.com/opus3d/foundation/hashfn"
	"github.com/opus3d/foundation/internal/simd"
)

// probeVisitor receives the slots a probe examines. onMatch is called for
// every slot whose control byte equals the key's tag, lowest index first, and
// ends the probe by returning true. onEmpty is called with the first empty
// slot of the first group that has one; the probe ends there.
type probeVisitor interface {
	onMatch(i uintptr) bool
	onEmpty(i uintptr)
}

// deletedVisitor is implemented by visitors that want to see tombstones.
// onDeleted is called for the tombstones of a group that precede the probe's
// stopping point, after the group's matches.
type deletedVisitor interface {
	onDeleted(i uintptr)
}

// probe walks the groups of m's table starting at the group chosen by h1(h),
// reporting slots to p. Groups are 16 aligned and visited linearly, wrapping
// at the capacity.
func probe[K comparable, V any, P probeVisitor](m *Map[K, V], h uint64, p P) {
	h1, h2 := hashfn.Split(h)
	mask := m.capacity - 1
	g := uintptr(h1) & mask &^ (groupSize - 1)
	dv, observesDeleted := any(p).(deletedVisitor)

	for n := uintptr(0); ; n += groupSize {
		if invariants && n >= m.capacity {
			m.invariantFailed("probe for h1=%x h2=%02x visited every group without finding an empty slot", h1, h2)
		}
		group := simd.Load((*[groupSize]uint8)(unsafe.Pointer(m.ctrls.At(g))))

		match := group.Match(h2)
		for match != 0 {
			if p.onMatch(g + uintptr(simd.NextMatch(&match))) {
				return
			}
		}

		empty := group.Match(uint8(ctrlEmpty))
		if observesDeleted {
			deleted := group.Match(uint8(ctrlDeleted))
			if empty != 0 {
				// Only tombstones before the first empty slot are on the
				// probe path.
				deleted &= empty&-empty - 1
			}
			for deleted != 0 {
				dv.onDeleted(g + uintptr(simd.NextMatch(&deleted)))
			}
		}
		if empty != 0 {
			p.onEmpty(g + uintptr(bits.TrailingZeros16(empty)))
			return
		}
		g = (g + groupSize) & mask
	}
}

// findVisitor stops at the first slot holding key.
type findVisitor[K comparable, V any] struct {
	m     *Map[K, V]
	key   K
	index uintptr
	found bool
}

func (v *findVisitor[K, V]) onMatch(i uintptr) bool {
	if v.m.slots.At(i).key == v.key {
		v.index = i
		v.found = true
		return true
	}
	return false
}

func (v *findVisitor[K, V]) onEmpty(uintptr) {}

// insertVisitor overwrites the value of a matching slot in place. Otherwise
// it picks the insertion index: the first tombstone on the probe path if
// there is one, else the empty slot that ended the probe.
type insertVisitor[K comparable, V any] struct {
	m         *Map[K, V]
	key       K
	value     V
	index     uintptr
	found     bool
	tombstone bool
}

func (v *insertVisitor[K, V]) onMatch(i uintptr) bool {
	s := v.m.slots.At(i)
	if s.key == v.key {
		s.value = v.value
		v.found = true
		return true
	}
	return false
}

func (v *insertVisitor[K, V]) onDeleted(i uintptr) {
	if !v.tombstone {
		v.index = i
		v.tombstone = true
	}
}

func (v *insertVisitor[K, V]) onEmpty(i uintptr) {
	if !v.tombstone {
		v.index = i
	}
}

// eraseVisitor turns the slot holding key into a tombstone. Tombstones are
// passed over like any other non-matching slot.
type eraseVisitor[K comparable, V any] struct {
	m      *Map[K, V]
	key    K
	erased bool
}

func (v *eraseVisitor[K, V]) onMatch(i uintptr) bool {
	s := v.m.slots.At(i)
	if s.key != v.key {
		return false
	}
	*s = Slot[K, V]{}
	v.m.setCtrl(i, ctrlDeleted)
	v.erased = true
	return true
}

func (v *eraseVisitor[K, V]) onEmpty(uintptr) {
	v.erased = false
}

// placeVisitor finds the first free slot for a key known to be absent from a
// table without tombstones.
type placeVisitor struct {
	index uintptr
}

func (v *placeVisitor) onMatch(uintptr) bool { return false }

func (v *placeVisitor) onEmpty(i uintptr) { v.index = i }
