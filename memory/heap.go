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
	"sync/atomic"
	"unsafe"

	"github.com/opus3d/foundation/errcode"
	"github.com/rs/zerolog/log"
)

const (
	ptrSize = int(unsafe.Sizeof(uintptr(0)))
	// maxAllocSize bounds a single request so that size+alignment arithmetic
	// cannot overflow.
	maxAllocSize = 1 << 47
)

// HeapAllocator serves blocks from the Go heap. Blocks are over-allocated and
// sliced so that the returned block honors the requested alignment. It is
// safe for concurrent use.
type HeapAllocator struct {
	limit int64
	bytes atomic.Int64
	count atomic.Int64
}

var _ Allocator = (*HeapAllocator)(nil)

// HeapOption configures a HeapAllocator.
type HeapOption func(*HeapAllocator)

// WithLimit caps the number of bytes the allocator will have outstanding at
// once. Requests beyond the cap fail with ErrOutOfMemory. A limit <= 0 means
// unlimited.
func WithLimit(bytes int) HeapOption {
	return func(a *HeapAllocator) {
		a.limit = int64(bytes)
	}
}

// NewHeapAllocator returns a HeapAllocator configured with opts.
func NewHeapAllocator(opts ...HeapOption) *HeapAllocator {
	a := &HeapAllocator{}
	for _, op := range opts {
		op(a)
	}
	return a
}

// Limit returns the configured byte limit, or 0 if unlimited.
func (a *HeapAllocator) Limit() int {
	return int(a.limit)
}

// BytesAllocated returns the number of bytes currently outstanding.
func (a *HeapAllocator) BytesAllocated() int {
	return int(a.bytes.Load())
}

// AllocationCount returns the number of blocks currently outstanding.
func (a *HeapAllocator) AllocationCount() int {
	return int(a.count.Load())
}

// TryAllocate implements Allocator.
func (a *HeapAllocator) TryAllocate(size, alignment int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	alignment = heapAlignment(alignment)
	if size < 0 || size > maxAllocSize {
		log.Debug().Int("size", size).Msg("heap allocation size out of range")
		return nil, newError(OutOfMemory)
	}
	if a.limit > 0 {
		if n := a.bytes.Add(int64(size)); n > a.limit {
			a.bytes.Add(-int64(size))
			log.Debug().Int("size", size).Int64("limit", a.limit).Msg("heap allocator limit reached")
			return nil, newError(OutOfMemory)
		}
	} else {
		a.bytes.Add(int64(size))
	}
	a.count.Add(1)

	buf := make([]byte, size+alignment-1)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	off := int(AlignUp(base, uintptr(alignment)) - base)
	return buf[off : off+size : off+size], nil
}

// Deallocate implements Allocator. The block is released to the garbage
// collector once no references remain.
func (a *HeapAllocator) Deallocate(b []byte, alignment int) {
	if b == nil {
		return
	}
	a.bytes.Add(-int64(len(b)))
	a.count.Add(-1)
}

// TryResize implements Allocator by allocating a new block and copying.
func (a *HeapAllocator) TryResize(b []byte, newSize, alignment int) ([]byte, error) {
	if b == nil {
		return a.TryAllocate(newSize, alignment)
	}
	if newSize == 0 {
		a.Deallocate(b, alignment)
		return nil, nil
	}
	nb, err := a.TryAllocate(newSize, alignment)
	if err != nil {
		return nil, err
	}
	copy(nb, b)
	a.Deallocate(b, alignment)
	return nb, nil
}

// heapAlignment rounds alignment up to at least the pointer size. Alignments
// that are not a power of two are a programming error.
func heapAlignment(alignment int) int {
	if alignment < ptrSize {
		alignment = ptrSize
	}
	errcode.Assert(IsPowerOfTwo(alignment), "alignment %d is not a power of two", alignment)
	return alignment
}
