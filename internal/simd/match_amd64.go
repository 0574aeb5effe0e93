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

//go:build amd64 && !nosimd

package simd

import (
	"unsafe"

	"github.com/dolthub/swiss/simd"
	"golang.org/x/sys/cpu"
)

var hasSSE2 = cpu.X86.HasSSE2

func init() {
	if hasSSE2 {
		backend = "sse2"
	}
}

func matchByte(p *[Width]uint8, b uint8) uint16 {
	if hasSSE2 {
		return matchByteSSE(p, b)
	}
	return matchByteSWAR(p, b)
}

func matchByteSSE(p *[Width]uint8, b uint8) uint16 {
	return simd.MatchMetadata((*[Width]int8)(unsafe.Pointer(p)), int8(b))
}
