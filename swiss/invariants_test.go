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

//go:build invariants

package swiss

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// requireInvariantPanic runs fn and requires it to fail an invariant check
// whose message contains substr.
func requireInvariantPanic(t *testing.T, substr string, fn func()) {
	t.Helper()
	var r interface{}
	func() {
		defer func() { r = recover() }()
		fn()
	}()
	require.NotNil(t, r, "expected a panic")
	err, ok := r.(error)
	require.True(t, ok, "panic value %v is not an error", r)
	require.True(t, errors.HasAssertionFailure(err))
	require.Contains(t, err.Error(), substr)
}

// A table without an empty control byte would send a lookup of an absent key
// round the table forever. Invariant builds stop after capacity slots.
func TestLookupWithoutEmptySlotPanics(t *testing.T) {
	for _, hash := range []uint64{0, 50 << 7, 0xfff << 7} {
		m := newTestMap[int, int](t, 64, WithHash[int, int](constantHash(hash)))
		for i := 0; i < 10; i++ {
			m.Put(i, i)
		}
		for i := uintptr(0); i < m.capacity; i++ {
			if !m.ctrls.At(i).full() {
				*m.ctrls.At(i) = ctrlDeleted
			}
		}

		const stuck = "without finding an empty slot"
		requireInvariantPanic(t, stuck, func() { m.Find(100) })
		requireInvariantPanic(t, stuck, func() { m.Delete(100) })
		requireInvariantPanic(t, stuck, func() { m.Put(100, 100) })
		// Present keys are still found before the bound is reached.
		require.NotNil(t, m.Find(3))
	}
}

func TestCheckInvariantsDetectsCorruption(t *testing.T) {
	m := newTestMap[int, int](t, 16)
	m.Put(1, 1)
	*m.ctrls.At(m.capacity + 3) = ctrlDeleted
	requireInvariantPanic(t, "tail ctrls not empty", m.checkInvariants)
	*m.ctrls.At(m.capacity + 3) = ctrlEmpty

	m.tombstones++
	requireInvariantPanic(t, "tombstone count", m.checkInvariants)
	m.tombstones--
	m.checkInvariants()
}
