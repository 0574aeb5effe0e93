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

package memory

import (
	"unsafe"

	"github.com/opus3d/foundation/errcode"
	"github.com/rs/zerolog/log"
)

// Marker is a position in a LinearAllocator that can be rewound to.
type Marker int

// LinearAllocator is a bump-pointer arena over a fixed reservation.
// Individual blocks are never freed; the arena is rewound as a whole with
// Reset or ResetTo. It is not safe for concurrent use.
type LinearAllocator struct {
	buf    []byte
	offset int
	// last is the offset of the most recent allocation, or -1.
	last int
	peak int
}

var _ Allocator = (*LinearAllocator)(nil)

// NewLinearAllocator reserves capacity bytes and returns an empty arena over
// them.
func NewLinearAllocator(capacity int) *LinearAllocator {
	return NewLinearAllocatorOver(make([]byte, capacity))
}

// NewLinearAllocatorOver returns an arena serving blocks from buf. The caller
// keeps ownership of buf and must keep it alive while the arena is in use.
func NewLinearAllocatorOver(buf []byte) *LinearAllocator {
	return &LinearAllocator{buf: buf, last: -1}
}

// Capacity returns the size of the reservation.
func (a *LinearAllocator) Capacity() int { return len(a.buf) }

// Used returns the number of bytes consumed, including alignment padding.
func (a *LinearAllocator) Used() int { return a.offset }

// PeakUsed returns the high-water mark of Used since construction.
func (a *LinearAllocator) PeakUsed() int { return a.peak }

// Marker returns the current position.
func (a *LinearAllocator) Marker() Marker { return Marker(a.offset) }

// ResetTo rewinds the arena to m. Blocks allocated after m must no longer be
// used.
func (a *LinearAllocator) ResetTo(m Marker) {
	errcode.Assert(int(m) >= 0 && int(m) <= a.offset, "marker %d beyond arena offset %d", m, a.offset)
	a.offset = int(m)
	a.last = -1
}

// Reset rewinds the arena to empty.
func (a *LinearAllocator) Reset() {
	a.offset = 0
	a.last = -1
}

// TryAllocate implements Allocator.
func (a *LinearAllocator) TryAllocate(size, alignment int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if alignment <= 0 {
		alignment = 1
	}
	errcode.Assert(IsPowerOfTwo(alignment), "alignment %d is not a power of two", alignment)
	if size < 0 || len(a.buf) == 0 {
		return nil, newError(OutOfMemory)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buf)))
	start := int(AlignUp(base+uintptr(a.offset), uintptr(alignment)) - base)
	if start > len(a.buf) || size > len(a.buf)-start {
		log.Debug().Int("size", size).Int("used", a.offset).Int("capacity", len(a.buf)).
			Msg("linear allocator exhausted")
		return nil, newError(OutOfMemory)
	}
	end := start + size
	a.last = start
	a.offset = end
	if end > a.peak {
		a.peak = end
	}
	return a.buf[start:end:end], nil
}

// Deallocate implements Allocator. It is a no-op.
func (a *LinearAllocator) Deallocate(b []byte, alignment int) {}

// TryResize implements Allocator. Only the most recent allocation can be
// resized, and only in place.
func (a *LinearAllocator) TryResize(b []byte, newSize, alignment int) ([]byte, error) {
	if b == nil {
		return a.TryAllocate(newSize, alignment)
	}
	if a.last < 0 || unsafe.SliceData(b) != &a.buf[a.last] {
		return nil, newError(AllocatorNoResize)
	}
	if newSize < 0 || newSize > len(a.buf)-a.last {
		return nil, newError(OutOfMemory)
	}
	end := a.last + newSize
	a.offset = end
	if end > a.peak {
		a.peak = end
	}
	return a.buf[a.last:end:end], nil
}
