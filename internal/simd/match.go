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

package simd

import (
	"encoding/binary"
	"math/bits"
)

const (
	lsbs = 0x0101010101010101
	low7 = 0x7f7f7f7f7f7f7f7f
	// gather moves bit 8i of a word to bit 56+i.
	gather = 0x0102040810204080
)

// backend names the implementation behind Match.
var backend = "swar"

// Backend names the implementation Match dispatches to.
func Backend() string {
	return backend
}

// NextMatch returns the index of the lowest set bit of *m and clears it. *m
// must be non-zero.
func NextMatch(m *uint16) int {
	i := bits.TrailingZeros16(*m)
	*m &= *m - 1
	return i
}

// matchByteSWAR matches eight lanes at a time in a general purpose register.
// Unlike the classic has-zero-byte trick it is exact: no lane reports a match
// it does not have.
func matchByteSWAR(p *[Width]uint8, b uint8) uint16 {
	pat := lsbs * uint64(b)
	lo := zeroBytes(binary.LittleEndian.Uint64(p[:8]) ^ pat)
	hi := zeroBytes(binary.LittleEndian.Uint64(p[8:]) ^ pat)
	return uint16(lo) | uint16(hi)<<8
}

// zeroBytes returns an 8-bit mask of the zero bytes of x.
func zeroBytes(x uint64) uint8 {
	y := (x & low7) + low7
	y = ^(y | x | low7)
	return uint8(((y >> 7) * gather) >> 56)
}
