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

// Package memory provides the allocator capability shared by the foundation
// containers, plus the two stock allocators: a Go-heap backed HeapAllocator
// and a bump-pointer LinearAllocator.
package memory

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/opus3d/foundation/errcode"
)

// Allocator is a capability for obtaining and releasing raw byte blocks. An
// Allocator does not own the memory it serves: the caller is responsible for
// handing every block back through Deallocate with the alignment it was
// allocated with.
//
// Implementations are expected to be pointer types. Two allocators are the
// same allocator (see Same) when they share the same underlying context.
type Allocator interface {
	// TryAllocate returns a block of exactly size bytes whose first byte is
	// aligned to alignment. A zero size returns a nil block and no error.
	TryAllocate(size, alignment int) ([]byte, error)
	// Deallocate releases b. Deallocating a nil block is a no-op.
	Deallocate(b []byte, alignment int)
	// TryResize grows or shrinks b to newSize bytes, preserving the common
	// prefix. Allocators without resize support return ErrNoResize.
	TryResize(b []byte, newSize, alignment int) ([]byte, error)
}

// Same reports whether a and b refer to the same allocator context.
func Same(a, b Allocator) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

// Allocate is TryAllocate for callers that treat exhaustion as fatal.
func Allocate(a Allocator, size, alignment int) []byte {
	b, err := a.TryAllocate(size, alignment)
	if err != nil {
		errcode.Panic(errors.Newf("allocating %d bytes aligned to %d", size, alignment).Error(), err)
	}
	return b
}

// ErrorCode enumerates the codes of the Memory domain.
type ErrorCode uint32

const (
	Unknown ErrorCode = iota
	OutOfMemory
	AllocatorNoResize
)

// Domain is the Memory error domain.
var Domain = errcode.Domain{
	Name:   "Memory",
	Format: formatCode,
}

var (
	// ErrOutOfMemory is reported when an allocator cannot serve a request.
	ErrOutOfMemory = errcode.Code{Domain: &Domain, Value: uint32(OutOfMemory)}
	// ErrNoResize is reported by allocators that cannot resize a block.
	ErrNoResize = errcode.Code{Domain: &Domain, Value: uint32(AllocatorNoResize)}
)

func formatCode(code uint32) string {
	switch ErrorCode(code) {
	case OutOfMemory:
		return "Out of Memory!"
	case AllocatorNoResize:
		return "Allocator lacks resize support!"
	default:
		return "Unknown Error!"
	}
}

func newError(code ErrorCode) error {
	return errors.WithStackDepth(errcode.Code{Domain: &Domain, Value: uint32(code)}, 2)
}
