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

// Package simd is a small 128-bit lane abstraction. Uint8x16 is a value type
// holding sixteen byte lanes. The operations follow the SSE instruction
// semantics they are named after. They are written in portable Go, except
// Match which dispatches to a vector implementation when the CPU supports
// one.
package simd

// Width is the number of lanes in a Uint8x16.
const Width = 16

// Uint8x16 holds sixteen byte lanes.
type Uint8x16 [Width]uint8

// Broadcast returns a vector with every lane set to b.
func Broadcast(b uint8) Uint8x16 {
	var v Uint8x16
	for i := range v {
		v[i] = b
	}
	return v
}

// Load returns the vector stored at p.
func Load(p *[Width]uint8) Uint8x16 {
	return Uint8x16(*p)
}

// Store writes v to p.
func (v Uint8x16) Store(p *[Width]uint8) {
	*p = v
}

// Equal sets each lane to 0xFF where v and o are equal and 0x00 elsewhere
// (PCMPEQB).
func (v Uint8x16) Equal(o Uint8x16) Uint8x16 {
	for i := range v {
		if v[i] == o[i] {
			v[i] = 0xFF
		} else {
			v[i] = 0
		}
	}
	return v
}

// MoveMask gathers the high bit of every lane into bit i of the result
// (PMOVMSKB).
func (v Uint8x16) MoveMask() uint16 {
	var m uint16
	for i := range v {
		m |= uint16(v[i]>>7) << i
	}
	return m
}

// Match returns a mask with bit i set iff lane i equals b. It is
// v.Equal(Broadcast(b)).MoveMask() in a single step.
func (v Uint8x16) Match(b uint8) uint16 {
	return matchByte((*[Width]uint8)(&v), b)
}
