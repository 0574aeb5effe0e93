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

// Package fiber implements stackful, cooperatively scheduled coroutines.
//
// A Context is the low-level primitive: a body function that can suspend
// itself with Yield and be continued with Resume, keeping its whole call
// stack intact in between. A Fiber wraps a Context around a Task that
// receives the Fiber itself.
//
// Scheduling is explicit. A context runs only between a call to Resume and
// the next Yield, or the return of its body, inside that same call. Yield
// hands control back to whoever resumed the context most recently, so
// fibers nest: a fiber may resume another fiber and is continued when that
// one yields.
//
// Contexts are not goroutine-safe. A context and everything it resumes form
// a single logical thread of control.
//
// The caller supplies a stack buffer for every context and keeps ownership of
// it. The buffer is not the memory the body's frames live on; the runtime
// manages that. It backs Scratch, a downward-growing allocator for
// fiber-local memory that lives exactly as long as the caller keeps the
// buffer.
package fiber

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/opus3d/foundation/errcode"
	"github.com/opus3d/foundation/memory"
)

// State is the lifecycle state of a Context.
type State int32

const (
	// NotStarted is the state of a context before Start.
	NotStarted State = iota
	// Suspended is the state of a started context that is not running: it
	// is waiting for its first Resume or parked at a Yield.
	Suspended
	// Running is the state of a context between Resume and Yield.
	Running
	// Finished is the state of a context whose body has returned, panicked
	// or been released.
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// errReleased unwinds the body of a context released while parked at Yield.
var errReleased = errors.New("fiber: context released")

// Context is a resumable body function with its own stack.
type Context struct {
	fc      *fcontext
	entry   func(arg any)
	arg     any
	stack   []byte
	scratch *scratch
	state   State
	// primed is set once the entry stub has handed control back to Start.
	primed bool
}

// NewContext prepares a context that will run entry(arg) on its first
// Resume. stack is the caller-owned stack buffer; see the package
// documentation. No code runs until Start.
func NewContext(stack []byte, entry func(arg any), arg any) *Context {
	errcode.Assert(entry != nil, "fiber: nil entry function")
	c := &Context{
		entry:   entry,
		arg:     arg,
		stack:   stack,
		scratch: newScratch(stack),
	}
	c.fc = makeContext(c.stub)
	return c
}

// stub is the first code to run in a context. It switches straight back to
// Start, and runs the body on the first real Resume.
func (c *Context) stub(t transfer) {
	errcode.DebugAssert(t.data == c, "fiber: entry stub started for another context")
	c.primed = true
	if _, ok := c.fc.jumpOut(nil); !ok {
		// Released before the first Resume.
		return
	}
	defer func() {
		if r := recover(); r != nil && r != errReleased {
			panic(r)
		}
	}()
	c.entry(c.arg)
	c.state = Finished
}

// Start performs the entry-stub handshake: one switch into the context and
// an immediate switch back. After Start the context is Suspended and ready
// for its first Resume. Start may be called once.
func (c *Context) Start() {
	errcode.Assert(c.state == NotStarted, "fiber: Start on %s context", c.state)
	c.state = Suspended
	if _, ok := c.fc.jump(c); !ok || !c.primed {
		c.state = Finished
		errcode.Panic("fiber: entry stub did not hand back control", nil)
	}
}

// Resume switches into the context. The first Resume starts the body;
// later ones continue it right after the Yield that suspended it. Resume
// returns when the body yields or returns. Resuming a finished context is a
// no-op. A panic in the body propagates out of Resume and finishes the
// context.
func (c *Context) Resume() {
	switch c.state {
	case Finished:
		return
	case NotStarted:
		errcode.Panic("fiber: Resume before Start", nil)
	case Running:
		errcode.Panic("fiber: Resume of a running context", nil)
	}

	c.state = Running
	finished := true
	defer func() {
		if finished {
			c.state = Finished
		}
	}()
	if _, ok := c.fc.jump(nil); ok {
		finished = false
	}
}

// Yield suspends the running context and switches back to the caller of the
// Resume that is running it. It returns when the context is next resumed.
// Yield must be called from the context's own body.
func (c *Context) Yield() {
	if c.state != Running {
		errcode.Panic(fmt.Sprintf("fiber: Yield on %s context", c.state), nil)
	}
	c.state = Suspended
	if _, ok := c.fc.jumpOut(nil); !ok {
		panic(errReleased)
	}
	c.state = Running
}

// Done reports whether the context has finished.
func (c *Context) Done() bool {
	return c.state == Finished
}

// State returns the lifecycle state of the context.
func (c *Context) State() State {
	return c.state
}

// Release abandons a context that is not running. A body parked at Yield is
// unwound, running its deferred calls, and the resources backing the
// context are returned. A context that never ran its body never will.
// Release is not cancellation: it cannot stop a running body. Releasing a
// finished context is a no-op.
func (c *Context) Release() {
	if c.state == Running {
		errcode.Panic("fiber: Release of a running context", nil)
	}
	c.state = Finished
	c.fc.abandon()
}

// StackTop returns the 16-byte aligned top of the stack buffer.
func (c *Context) StackTop() uintptr {
	return stackTop(c.stack)
}

// StackSize returns the size of the stack buffer.
func (c *Context) StackSize() int {
	return len(c.stack)
}

// Scratch returns an allocator serving fiber-local memory from the stack
// buffer, growing downward from StackTop. Blocks are returned LIFO.
func (c *Context) Scratch() memory.Allocator {
	return c.scratch
}
