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

package hashfn

import (
	"fmt"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	h1, h2 := Split(0xFFFF_FFFF_FFFF_FFFF)
	require.EqualValues(t, 0x7F, h2)
	require.EqualValues(t, uint64(1)<<57-1, h1)

	h1, h2 = Split(0x1234_5678_9ABC_DEF0)
	require.EqualValues(t, 0x70, h2)
	require.EqualValues(t, uint64(0x1234_5678_9ABC_DEF0)>>7, h1)
}

func TestHashersDeterministic(t *testing.T) {
	d := Default[string]()
	require.Equal(t, d("engine"), d("engine"))
	require.Equal(t, String()("engine"), String()("engine"))
	require.Equal(t, Bytes()([]byte("engine")), Bytes()([]byte("engine")))
	require.Equal(t, Murmur3String()("engine"), Murmur3String()("engine"))
	require.Equal(t, Uint64()(42), Uint64()(42))

	type point struct{ x, y int32 }
	p := Default[point]()
	require.Equal(t, p(point{1, 2}), p(point{1, 2}))
}

// The low 7 bits of a hash become the control tag; every tag should be
// reachable from a modest number of sequential keys.
func TestHashersSpreadTags(t *testing.T) {
	def := Default[int]()
	hashers := map[string]func(i int) uint64{
		"default": func(i int) uint64 { return def(i) },
		"xxh3":    func(i int) uint64 { return String()(fmt.Sprint(i)) },
		"xxhash":  func(i int) uint64 { return Bytes()([]byte(fmt.Sprint(i))) },
		"murmur3": func(i int) uint64 { return Murmur3String()(fmt.Sprint(i)) },
		"uint64":  func(i int) uint64 { return Uint64()(uint64(i)) },
	}
	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			var tags [128]bool
			var ones int
			for i := 0; i < 4096; i++ {
				v := h(i)
				_, h2 := Split(v)
				tags[h2] = true
				ones += bits.OnesCount64(v)
			}
			for tag, seen := range tags {
				require.True(t, seen, "tag %02x never produced", tag)
			}
			// Roughly half of all bits set.
			require.InDelta(t, 32, float64(ones)/4096, 2)
		})
	}
}
