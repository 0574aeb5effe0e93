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
	"reflect"
	"unsafe"

	"github.com/opus3d/foundation/errcode"
	"github.com/opus3d/foundation/internal/simd"
	"github.com/opus3d/foundation/memory"
)

// storage is the backing memory of a table: capacity+groupSize control bytes
// followed by capacity slots.
type storage[K comparable, V any] struct {
	// block is the allocator block. It holds the control bytes and, when
	// Slot[K,V] is pointer free, the slots.
	block []byte
	// ctrls is capacity+groupSize in length.
	ctrls unsafeSlice[ctrl]
	// slots is capacity in length.
	slots unsafeSlice[Slot[K, V]]
	// gcSlots backs slots when Slot[K,V] contains pointers, keeping them
	// visible to the garbage collector.
	gcSlots []Slot[K, V]
	// The total number of slots (always 2^N). The capacity is used as a mask
	// to quickly compute i%N using a bitwise & operation.
	capacity uintptr
}

// storageLayout returns the offset of the slots within the block, the size
// of the block and its alignment for a table of the given capacity. When
// Slot[K,V] holds pointers the block holds only control bytes.
func storageLayout[K comparable, V any](capacity uintptr) (slotsOffset, size, align uintptr) {
	var s Slot[K, V]
	ctrlBytes := capacity + groupSize
	if !slotIsPointerFree[K, V]() {
		return 0, ctrlBytes, groupSize
	}
	align = max(uintptr(groupSize), unsafe.Alignof(s))
	slotsOffset = memory.AlignUp(ctrlBytes, unsafe.Alignof(s))
	return slotsOffset, slotsOffset + capacity*unsafe.Sizeof(s), align
}

// StorageBlockSize returns the number of bytes a table of the given capacity
// requests from its allocator.
func StorageBlockSize[K comparable, V any](capacity int) int {
	_, size, _ := storageLayout[K, V](normalizeCapacity(capacity))
	return int(size)
}

func newStorage[K comparable, V any](
	alloc memory.Allocator, capacity uintptr,
) (storage[K, V], error) {
	slotsOffset, size, align := storageLayout[K, V](capacity)
	block, err := alloc.TryAllocate(int(size), int(align))
	if err != nil {
		return storage[K, V]{}, err
	}
	errcode.Assert(len(block) >= int(size), "swiss: allocator returned %d bytes, want %d", len(block), size)

	st := storage[K, V]{
		block:    block,
		ctrls:    makeUnsafeSlice(unsafeConvertSlice[ctrl](block)),
		capacity: capacity,
	}
	switch {
	case slotsOffset == 0:
		st.gcSlots = make([]Slot[K, V], capacity)
		st.slots = makeUnsafeSlice(st.gcSlots)
	case slotsOffset == size:
		// Zero-sized slots occupy no memory past the control bytes.
		st.slots = unsafeSlice[Slot[K, V]]{ptr: unsafe.Pointer(unsafe.SliceData(block))}
	default:
		st.slots = unsafeSlice[Slot[K, V]]{ptr: unsafe.Pointer(&block[slotsOffset])}
		clear(st.slots.Slice(0, capacity))
	}
	st.resetCtrls()
	return st, nil
}

// resetCtrls marks every control byte, the tail included, empty.
func (st *storage[K, V]) resetCtrls() {
	empty := simd.Broadcast(uint8(ctrlEmpty))
	for g := uintptr(0); g <= st.capacity; g += groupSize {
		empty.Store((*[groupSize]uint8)(unsafe.Pointer(st.ctrls.At(g))))
	}
}

// release hands the block back to alloc and resets st to zero capacity.
func (st *storage[K, V]) release(alloc memory.Allocator) {
	if st.capacity == 0 {
		return
	}
	if st.gcSlots != nil {
		clear(st.gcSlots)
	}
	_, _, align := storageLayout[K, V](st.capacity)
	alloc.Deallocate(st.block, int(align))
	*st = storage[K, V]{}
}

// slotIsPointerFree reports whether Slot[K,V] can live in memory the garbage
// collector does not scan.
func slotIsPointerFree[K comparable, V any]() bool {
	return !hasPointers(reflect.TypeFor[Slot[K, V]]())
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
