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

// Package hashfn provides the hash capability used by the swiss map and a
// handful of stock hashers.
//
// A Hasher determines both where a key's probe sequence starts (the high 57
// bits, h1) and the 7-bit tag stored in its control byte (the low 7 bits,
// h2), so every bit of the result should be well mixed.
package hashfn

import (
	"encoding/binary"
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// Hasher hashes a key to 64 bits. Equal keys must hash equally.
type Hasher[K any] func(key K) uint64

// Default returns a hasher for any comparable type built on the runtime's
// map hash. Each call draws a new random seed.
func Default[K comparable]() Hasher[K] {
	seed := maphash.MakeSeed()
	return func(key K) uint64 {
		return maphash.Comparable(seed, key)
	}
}

// String hashes strings with XXH3.
func String() Hasher[string] {
	return xxh3.HashString
}

// Bytes hashes byte slices with XXH64.
func Bytes() Hasher[[]byte] {
	return xxhash.Sum64
}

// Murmur3String hashes strings with the 64-bit half of MurmurHash3 x64_128.
func Murmur3String() Hasher[string] {
	return func(s string) uint64 {
		return murmur3.Sum64(unsafe.Slice(unsafe.StringData(s), len(s)))
	}
}

// Uint64 hashes integers by running XXH3 over their little-endian encoding.
func Uint64() Hasher[uint64] {
	return func(v uint64) uint64 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return xxh3.Hash(b[:])
	}
}

// Split divides h into the probe seed h1 (the upper 57 bits) and the control
// tag h2 (the lower 7 bits).
func Split(h uint64) (h1 uint64, h2 uint8) {
	return h >> 7, uint8(h & 0x7f)
}
