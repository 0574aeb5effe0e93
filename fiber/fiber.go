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

import "github.com/opus3d/foundation/memory"

// Task is the body of a Fiber. It receives the fiber it runs on, through
// which it yields.
type Task func(f *Fiber)

// Fiber runs a Task as a coroutine.
type Fiber struct {
	ctx  *Context
	task Task
}

// New returns a fiber ready to run task on its first Resume. stack is the
// caller-owned stack buffer and must outlive the fiber.
func New(stack []byte, task Task) *Fiber {
	f := &Fiber{task: task}
	f.ctx = NewContext(stack, f.run, nil)
	f.ctx.Start()
	return f
}

func (f *Fiber) run(any) {
	f.task(f)
}

// Resume runs the task until it yields or returns. It is a no-op once the
// fiber is done.
func (f *Fiber) Resume() {
	f.ctx.Resume()
}

// Yield suspends the task until the next Resume. It must be called from the
// task.
func (f *Fiber) Yield() {
	f.ctx.Yield()
}

// Done reports whether the task has returned.
func (f *Fiber) Done() bool {
	return f.ctx.Done()
}

// State returns the lifecycle state of the fiber.
func (f *Fiber) State() State {
	return f.ctx.State()
}

// Scratch returns the fiber-local allocator backed by the stack buffer.
func (f *Fiber) Scratch() memory.Allocator {
	return f.ctx.Scratch()
}

// Context returns the underlying context.
func (f *Fiber) Context() *Context {
	return f.ctx
}

// Release abandons a fiber that is not running; see Context.Release.
func (f *Fiber) Release() {
	f.ctx.Release()
}
