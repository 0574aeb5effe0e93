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
	"fmt"
	"math/rand"
	"runtime"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/opus3d/foundation/memory"
	"github.com/stretchr/testify/require"
)

// toBuiltinMap returns the elements as a map[K]V. Useful for testing.
func (m *Map[K, V]) toBuiltinMap() map[K]V {
	r := make(map[K]V)
	m.All(func(k K, v V) bool {
		r[k] = v
		return true
	})
	return r
}

// randElement returns a randomly chosen element. Iteration order is the
// slot order, so the element is picked by position.
func (m *Map[K, V]) randElement(rng *rand.Rand) (key K, value V, ok bool) {
	if m.Len() == 0 {
		return key, value, false
	}
	n := rng.Intn(m.Len())
	m.All(func(k K, v V) bool {
		if n == 0 {
			key, value, ok = k, v, true
			return false
		}
		n--
		return true
	})
	return
}

// indexOf returns the slot holding key.
func (m *Map[K, V]) indexOf(key K) (uintptr, bool) {
	v := findVisitor[K, V]{m: m, key: key}
	probe(m, m.hash(key), &v)
	return v.index, v.found
}

func newTestMap[K comparable, V any](
	t testing.TB, initialCapacity int, options ...option[K, V],
) *Map[K, V] {
	m, err := New[K, V](memory.NewHeapAllocator(), initialCapacity, options...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func constantHash(h uint64) func(int) uint64 {
	return func(int) uint64 { return h }
}

func TestInitialCapacity(t *testing.T) {
	testCases := []struct {
		initialCapacity  int
		expectedCapacity int
	}{
		{-1, 16},
		{0, 16},
		{1, 16},
		{16, 16},
		{17, 32},
		{100, 128},
		{1000, 1024},
		{1024, 1024},
	}
	for _, c := range testCases {
		t.Run(fmt.Sprint(c.initialCapacity), func(t *testing.T) {
			m := newTestMap[int, int](t, c.initialCapacity)
			require.Equal(t, c.expectedCapacity, m.Cap())
			require.Equal(t, 0, m.Len())
			require.Equal(t, 0, m.Tombstones())

			// The initial capacity counts slots: the table grows when the
			// entries reach 3/4 of it.
			fill := c.expectedCapacity * 3 / 4
			for i := 0; i < fill-1; i++ {
				m.Put(i, i)
			}
			require.Equal(t, c.expectedCapacity, m.Cap())
			m.Put(fill, fill)
			require.Equal(t, 2*c.expectedCapacity, m.Cap())
		})
	}
}

func TestStorageLayout(t *testing.T) {
	// Pointer-free slots share the block with the control bytes.
	require.True(t, slotIsPointerFree[int64, int64]())
	require.Equal(t, 16+16+16*16, StorageBlockSize[int64, int64](16))
	require.Equal(t, 64+16+64*8, StorageBlockSize[int32, bool](64))
	require.Equal(t, 32+16, StorageBlockSize[struct{}, struct{}](32))

	// Slots holding pointers are kept out of the block.
	require.False(t, slotIsPointerFree[string, int]())
	require.False(t, slotIsPointerFree[int, *int]())
	require.False(t, slotIsPointerFree[int, [2]any]())
	require.Equal(t, 32+16, StorageBlockSize[string, int](32))

	a := memory.NewHeapAllocator()
	m, err := New[int64, int64](a, 16)
	require.NoError(t, err)
	require.Equal(t, StorageBlockSize[int64, int64](16), a.BytesAllocated())
	require.Equal(t, 1, a.AllocationCount())
	require.Nil(t, m.gcSlots)
	m.Close()
	require.Equal(t, 0, a.BytesAllocated())
	require.Equal(t, 0, a.AllocationCount())
}

func TestBasic(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		const count = 100

		e := make(map[int]int)
		require.EqualValues(t, 0, m.Len())

		// Non-existent.
		for i := 0; i < count; i++ {
			_, ok := m.Get(i)
			require.False(t, ok)
			require.False(t, m.Delete(i))
		}

		// Insert.
		for i := 0; i < count; i++ {
			m.Put(i, i+count)
			e[i] = i + count
			v, ok := m.Get(i)
			require.True(t, ok)
			require.EqualValues(t, i+count, v)
			require.EqualValues(t, i+1, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Update.
		for i := 0; i < count; i++ {
			m.Put(i, i+2*count)
			e[i] = i + 2*count
			v, ok := m.Get(i)
			require.True(t, ok)
			require.EqualValues(t, i+2*count, v)
			require.EqualValues(t, count, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Delete.
		for i := 0; i < count; i++ {
			require.True(t, m.Delete(i))
			delete(e, i)
			require.EqualValues(t, count-i-1, m.Len())
			_, ok := m.Get(i)
			require.False(t, ok)
			require.False(t, m.Delete(i))
			require.Equal(t, e, m.toBuiltinMap())
		}
	}

	t.Run("normal", func(t *testing.T) {
		test(t, newTestMap[int, int](t, 0))
	})

	t.Run("degenerate", func(t *testing.T) {
		testDegenerate := func(t *testing.T, h uint64) {
			test(t, newTestMap[int, int](t, 0, WithHash[int, int](constantHash(h))))
		}

		for _, v := range []uint64{0, ^uint64(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
		for i := 0; i < 10; i++ {
			v := rand.Uint64()
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
	})
}

func TestRandom(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		e := make(map[int]int)
		for i := 0; i < 10000; i++ {
			switch r := rng.Float64(); {
			case r < 0.5: // 50% inserts
				k, v := rng.Int(), rng.Int()
				m.Put(k, v)
				e[k] = v
			case r < 0.65: // 15% updates
				if k, _, ok := m.randElement(rng); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					v := rng.Int()
					m.Put(k, v)
					e[k] = v
				}
			case r < 0.80: // 15% deletes
				if k, _, ok := m.randElement(rng); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					require.True(t, m.Delete(k))
					delete(e, k)
				}
			case r < 0.95: // 25% lookups
				if k, v, ok := m.randElement(rng); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					require.EqualValues(t, e[k], v)
					got, ok := m.Get(k)
					require.True(t, ok)
					require.EqualValues(t, e[k], got)
				}
			default: // 5% rehash and iterate
				require.NoError(t, m.Rehash(2*m.Len()))
				require.Equal(t, 0, m.Tombstones())
				require.Equal(t, e, m.toBuiltinMap())
			}
			require.EqualValues(t, len(e), m.Len())
			capacity := m.Cap()
			require.True(t, capacity >= minCapacity && capacity&(capacity-1) == 0, "capacity %d", capacity)
			require.LessOrEqual(t, m.Len()+m.Tombstones(), capacity)
		}
	}

	t.Run("normal", func(t *testing.T) {
		test(t, newTestMap[int, int](t, 0))
	})

	t.Run("degenerate", func(t *testing.T) {
		if invariants {
			t.Skip("skipped due to slowness under invariants")
		}
		for _, v := range []uint64{0, ^uint64(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				test(t, newTestMap[int, int](t, 0, WithHash[int, int](constantHash(v))))
			})
		}
	})
}

func TestProbeWrapsAround(t *testing.T) {
	// h1 selects slot 50 of 64, i.e. the last group.
	const h = 50 << 7
	m := newTestMap[int, int](t, 64, WithHash[int, int](constantHash(h)))
	for i := 0; i < 20; i++ {
		m.Put(i, i)
	}
	require.Equal(t, 64, m.Cap())
	for i := 0; i < 20; i++ {
		idx, ok := m.indexOf(i)
		require.True(t, ok)
		if i < 16 {
			require.EqualValues(t, 48+i, idx)
		} else {
			require.EqualValues(t, i-16, idx)
		}
	}
	// The tail control bytes are never used as slots.
	for i := uintptr(64); i < 64+groupSize; i++ {
		require.Equal(t, ctrlEmpty, *m.ctrls.At(i))
	}
}

func TestGrowthScenario(t *testing.T) {
	m := newTestMap[int, int](t, 16)
	require.Equal(t, 16, m.Cap())
	for i := 1; i <= 100; i++ {
		m.Put(i, i*10)
	}
	v := m.Find(50)
	require.NotNil(t, v)
	require.Equal(t, 500, *v)
	require.Equal(t, 256, m.Cap())
	require.Equal(t, 100, m.Len())
}

func TestGrowthThresholds(t *testing.T) {
	m := newTestMap[int, int](t, 16)
	// (size+tombstones+1)*4 >= capacity*3 triggers the rehash before the
	// 12th insertion.
	for i := 0; i < 11; i++ {
		m.Put(i, i)
	}
	require.Equal(t, 16, m.Cap())
	m.Put(11, 11)
	require.Equal(t, 32, m.Cap())
}

func TestEraseSkipsTombstones(t *testing.T) {
	// Every key has the same probe chain, so every lookup has to step over
	// the tombstones left by earlier deletions.
	m := newTestMap[int, int](t, 64, WithHash[int, int](constantHash(7<<7|0x11)))
	const n = 40
	for i := 0; i < n; i++ {
		m.Put(i, -i)
	}
	for i := 0; i < n; i += 2 {
		require.True(t, m.Delete(i))
	}
	require.Equal(t, n/2, m.Len())
	require.Equal(t, n/2, m.Tombstones())

	for i := 0; i < n; i++ {
		v, ok := m.Get(i)
		if i%2 == 0 {
			require.False(t, ok, "key %d", i)
			require.False(t, m.Delete(i))
		} else {
			require.True(t, ok, "key %d", i)
			require.Equal(t, -i, v)
		}
	}
	// Deleting the tail of the chain still finds it past the tombstones.
	require.True(t, m.Delete(n-1))
	_, ok := m.Get(n - 3)
	require.True(t, ok)
}

func TestTombstoneReuse(t *testing.T) {
	m := newTestMap[int, int](t, 16, WithHash[int, int](constantHash(3<<7|0x22)))
	for i := 0; i < 4; i++ {
		m.Put(i, i)
	}
	idx1, _ := m.indexOf(1)
	require.True(t, m.Delete(1))
	require.True(t, m.Delete(2))
	require.Equal(t, 2, m.Tombstones())

	// The first tombstone on the chain is preferred over the empty slot.
	m.Put(10, 10)
	idx10, ok := m.indexOf(10)
	require.True(t, ok)
	require.Equal(t, idx1, idx10)
	require.Equal(t, 1, m.Tombstones())

	// Updating an existing key past a tombstone does not consume it.
	m.Put(3, 33)
	require.Equal(t, 1, m.Tombstones())
	require.Equal(t, 4-2+1, m.Len())
	v, _ := m.Get(3)
	require.Equal(t, 33, v)
}

func TestPutDeleteChurnKeepsCapacity(t *testing.T) {
	m := newTestMap[int, int](t, 16)
	for i := 0; i < 10000; i++ {
		m.Put(i, i)
		if i >= 4 {
			require.True(t, m.Delete(i-4))
		}
		// Rehashing at the same capacity reclaims tombstones, so a small
		// live set never forces the table to grow.
		require.Equal(t, 16, m.Cap())
		require.LessOrEqual(t, m.Len()+m.Tombstones(), 12)
	}
	require.Equal(t, 4, m.Len())
}

func TestRehash(t *testing.T) {
	m := newTestMap[int, int](t, 0)
	for i := 0; i < 50; i++ {
		m.Put(i, i*i)
	}
	for i := 0; i < 50; i += 3 {
		m.Delete(i)
	}
	e := m.toBuiltinMap()
	require.NotZero(t, m.Tombstones())

	for _, c := range []int{2 * m.Len(), 4 * m.Len(), 1000, 2 * m.Len()} {
		require.NoError(t, m.Rehash(c))
		require.Equal(t, 0, m.Tombstones())
		require.Equal(t, e, m.toBuiltinMap())
		require.GreaterOrEqual(t, m.Cap(), c)
		for k, v := range e {
			got, ok := m.Get(k)
			require.True(t, ok)
			require.Equal(t, v, got)
		}
	}
	require.Equal(t, 128, m.Cap())

	require.Panics(t, func() { _ = m.Rehash(m.Len()) })
}

func TestFindMutable(t *testing.T) {
	m := newTestMap[string, int](t, 0)
	require.Nil(t, m.Find("a"))
	m.Put("a", 1)
	p := m.Find("a")
	require.NotNil(t, p)
	*p = 42
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestIterateMutate(t *testing.T) {
	m := newTestMap[int, int](t, 0)
	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	e := m.toBuiltinMap()
	require.EqualValues(t, 100, m.Len())
	require.EqualValues(t, 100, len(e))

	// Iteration stops once the map moves to new storage.
	vals := make(map[int]int)
	m.All(func(k, v int) bool {
		vals[k] = v
		require.NoError(t, m.Rehash(2*m.Cap()))
		return true
	})
	require.Len(t, vals, 1)
	for k, v := range vals {
		require.Equal(t, e[k], v)
	}

	// Mutation in place is visible.
	vals = make(map[int]int)
	for k := range m.All {
		m.Put(k, -k)
	}
	for k, v := range m.All {
		vals[k] = v
	}
	require.Len(t, vals, 100)
	for k, v := range vals {
		require.Equal(t, -k, v)
	}
}

func TestIterateStopsWhenStorageIsReused(t *testing.T) {
	// A rewound arena hands the released block straight back to the smaller
	// table built after Close.
	arena := memory.NewLinearAllocator(1 << 16)
	m, err := New[int, int](arena, 64)
	require.NoError(t, err)
	defer m.Close()
	for i := 0; i < 40; i++ {
		m.Put(i, i)
	}
	oldBlock := unsafe.SliceData(m.block)

	var seen []int
	for k := range m.All {
		seen = append(seen, k)
		if len(seen) == 1 {
			m.Close()
			arena.Reset()
			m.Put(1000, 1000)
			require.Equal(t, oldBlock, unsafe.SliceData(m.block))
			require.Equal(t, 16, m.Cap())
		}
	}
	require.Len(t, seen, 1)
	require.Equal(t, map[int]int{1000: 1000}, m.toBuiltinMap())
}

func TestClear(t *testing.T) {
	for _, count := range []int{0, 10, 1000} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			m := newTestMap[int, int](t, 0)
			for i := 0; i < count; i++ {
				m.Put(i, i)
			}
			for i := 0; i < count; i += 2 {
				m.Delete(i)
			}

			capacity := m.Cap()
			m.Clear()
			require.EqualValues(t, 0, m.Len())
			require.EqualValues(t, 0, m.Tombstones())
			require.EqualValues(t, capacity, m.Cap())

			m.All(func(k, v int) bool {
				require.Fail(t, "should not iterate")
				return true
			})
			m.Put(1, 1)
			require.Equal(t, 1, m.Len())
		})
	}
}

func TestCloseAndReuse(t *testing.T) {
	a := memory.NewHeapAllocator()
	m, err := New[int, int](a, 0)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		m.Put(i, i)
	}
	m.Close()
	m.Close()
	require.Equal(t, 0, a.AllocationCount())
	require.Equal(t, 0, m.Len())
	require.Equal(t, 0, m.Cap())
	_, ok := m.Get(1)
	require.False(t, ok)
	require.False(t, m.Delete(1))
	m.Clear()

	m.Put(1, 1)
	require.Equal(t, 16, m.Cap())
	v, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, v)
	m.Close()
	require.Equal(t, 0, a.AllocationCount())
}

type countingAllocator struct {
	memory.HeapAllocator
	alloc int
	free  int
}

func (a *countingAllocator) TryAllocate(size, alignment int) ([]byte, error) {
	a.alloc++
	return a.HeapAllocator.TryAllocate(size, alignment)
}

func (a *countingAllocator) Deallocate(b []byte, alignment int) {
	a.free++
	a.HeapAllocator.Deallocate(b, alignment)
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator{}
	m, err := New[int, int](a, 0)
	require.NoError(t, err)
	require.True(t, memory.Same(a, m.Allocator()))

	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}

	// 16 -> 32 -> 64 -> 128 -> 256
	const expected = 5
	require.EqualValues(t, expected, a.alloc)
	require.EqualValues(t, expected-1, a.free)
	require.Equal(t, StorageBlockSize[int, int](256), a.BytesAllocated())

	m.Close()

	require.EqualValues(t, expected, a.free)
	require.Equal(t, 0, a.BytesAllocated())
}

func TestOutOfMemory(t *testing.T) {
	limit := StorageBlockSize[int, int](16)

	t.Run("new", func(t *testing.T) {
		a := memory.NewHeapAllocator(memory.WithLimit(limit - 1))
		_, err := New[int, int](a, 16)
		require.True(t, errors.Is(err, memory.ErrOutOfMemory))
		require.Panics(t, func() { MustNew[int, int](a, 16) })
	})

	t.Run("put", func(t *testing.T) {
		a := memory.NewHeapAllocator(memory.WithLimit(limit))
		m, err := New[int, int](a, 16)
		require.NoError(t, err)
		defer m.Close()
		for i := 0; i < 11; i++ {
			require.NoError(t, m.TryPut(i, i))
		}
		err = m.TryPut(11, 11)
		require.True(t, errors.Is(err, memory.ErrOutOfMemory), "%+v", err)
		require.Equal(t, 11, m.Len())
		require.Equal(t, 16, m.Cap())
		require.Equal(t, map[int]int{0: 0, 1: 1, 2: 2, 3: 3, 4: 4, 5: 5, 6: 6, 7: 7, 8: 8, 9: 9, 10: 10},
			m.toBuiltinMap())

		require.Panics(t, func() { m.Put(11, 11) })
		require.Equal(t, 11, m.Len())
	})

	t.Run("rehash", func(t *testing.T) {
		a := memory.NewLinearAllocator(StorageBlockSize[int, int](16) + 64)
		m, err := New[int, int](a, 16)
		require.NoError(t, err)
		m.Put(1, 1)
		err = m.Rehash(1024)
		require.True(t, errors.Is(err, memory.ErrOutOfMemory))
		v, ok := m.Get(1)
		require.True(t, ok)
		require.Equal(t, 1, v)
	})
}

func TestLinearAllocatorBacked(t *testing.T) {
	a := memory.NewLinearAllocator(1 << 16)
	m, err := New[uint32, uint32](a, 0)
	require.NoError(t, err)
	for i := uint32(0); i < 500; i++ {
		m.Put(i, i+1)
	}
	for i := uint32(0); i < 500; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i+1, v)
	}
	require.LessOrEqual(t, a.Used(), a.Capacity())
	m.Close()
	a.Reset()
}

func TestPointerSlotsSurviveGC(t *testing.T) {
	m := newTestMap[string, *[]int](t, 0)
	require.NotNil(t, m.gcSlots)
	for i := 0; i < 200; i++ {
		v := make([]int, 16)
		v[0] = i
		m.Put(fmt.Sprint("key-", i), &v)
	}
	runtime.GC()
	runtime.GC()
	for i := 0; i < 200; i++ {
		v, ok := m.Get(fmt.Sprint("key-", i))
		require.True(t, ok)
		require.Equal(t, i, (*v)[0])
	}
}

func TestZeroSizedSlots(t *testing.T) {
	m := newTestMap[struct{}, struct{}](t, 0)
	_, ok := m.Get(struct{}{})
	require.False(t, ok)
	m.Put(struct{}{}, struct{}{})
	m.Put(struct{}{}, struct{}{})
	require.Equal(t, 1, m.Len())
	require.True(t, m.Delete(struct{}{}))
	require.Equal(t, 0, m.Len())
}

func TestStats(t *testing.T) {
	m := newTestMap[int, int](t, 32)
	for i := 0; i < 16; i++ {
		m.Put(i, i)
	}
	for i := 0; i < 4; i++ {
		m.Delete(i)
	}
	s := m.Stats()
	require.Equal(t, 12, s.Size)
	require.Equal(t, 32, s.Capacity)
	require.Equal(t, 4, s.Tombstones)
	require.InDelta(t, 4.0/32, s.TombstonesCapacityRatio, 1e-6)
	require.InDelta(t, 4.0/12, s.TombstonesSizeRatio, 1e-6)
	require.Equal(t, StorageBlockSize[int, int](32), s.StorageBytes)
}

func TestDebugString(t *testing.T) {
	m := newTestMap[int, int](t, 16)
	m.Put(1, 1)
	m.Put(2, 2)
	m.Delete(2)
	s := m.debugString()
	require.Contains(t, s, "capacity=16  used=1  tombstones=1")
	require.Contains(t, s, "deleted")
	require.Contains(t, s, "empty")
}
