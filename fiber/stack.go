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

package fiber

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/opus3d/foundation/errcode"
	"github.com/opus3d/foundation/memory"
)

// stackAlign is the alignment of the top of a fiber stack.
const stackAlign = 16

// stackTop returns the address one past the highest 16-byte aligned byte of
// stack, or 0 for an empty stack.
func stackTop(stack []byte) uintptr {
	if len(stack) == 0 {
		return 0
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(stack)))
	return memory.AlignDown(base+uintptr(len(stack)), stackAlign)
}

// scratch serves fiber-local memory from a fiber's stack buffer, growing
// downward from the aligned top. Blocks are released in LIFO order: freeing
// the most recent block returns its space, freeing any other block is a
// no-op until everything above it has been freed.
type scratch struct {
	stack []byte
	// top is the offset in stack of the lowest byte handed out.
	top int
	// marks holds the value of top before each live allocation.
	marks []scratchMark
}

type scratchMark struct {
	offset int
	prev   int
}

var _ memory.Allocator = (*scratch)(nil)

func newScratch(stack []byte) *scratch {
	s := &scratch{stack: stack}
	if len(stack) > 0 {
		base := uintptr(unsafe.Pointer(unsafe.SliceData(stack)))
		s.top = int(stackTop(stack) - base)
	}
	return s
}

// TryAllocate implements memory.Allocator.
func (s *scratch) TryAllocate(size, alignment int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if alignment <= 0 {
		alignment = 1
	}
	errcode.Assert(memory.IsPowerOfTwo(alignment), "alignment %d is not a power of two", alignment)
	if size < 0 || size > s.top {
		return nil, errors.Wrapf(memory.ErrOutOfMemory, "fiber: %d bytes of stack scratch left, %d requested", s.top, size)
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(s.stack)))
	start := memory.AlignDown(base+uintptr(s.top-size), uintptr(alignment))
	if start < base {
		return nil, errors.Wrapf(memory.ErrOutOfMemory, "fiber: %d bytes of stack scratch left, %d requested", s.top, size)
	}
	off := int(start - base)
	s.marks = append(s.marks, scratchMark{offset: off, prev: s.top})
	s.top = off
	return s.stack[off : off+size : off+size], nil
}

// Deallocate implements memory.Allocator.
func (s *scratch) Deallocate(b []byte, alignment int) {
	if b == nil {
		return
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(s.stack)))
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(b))) - base)
	for i := len(s.marks) - 1; i >= 0; i-- {
		if s.marks[i].offset == off {
			s.marks[i].offset = -1
			break
		}
	}
	// Pop every freed block at the top.
	for n := len(s.marks); n > 0 && s.marks[n-1].offset < 0; n-- {
		s.top = s.marks[n-1].prev
		s.marks = s.marks[:n-1]
	}
}

// TryResize implements memory.Allocator. Stack scratch cannot resize.
func (s *scratch) TryResize(b []byte, newSize, alignment int) ([]byte, error) {
	return nil, errors.WithStack(memory.ErrNoResize)
}

// available returns the number of bytes left below the top.
func (s *scratch) available() int {
	return s.top
}
