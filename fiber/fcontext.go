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

import "iter"

// transfer is the payload carried across a context switch.
type transfer struct {
	data any
}

// fcontext is a resumable thread of execution. It is a thin layer over the
// runtime's coroutine switch, which iter.Pull exposes: jump switches into
// the coroutine and blocks until it switches back with jumpOut or returns.
//
// The coroutine runs on its own goroutine stack, which the runtime sizes and
// grows. Control is handed over directly; the two sides never run at the
// same time.
type fcontext struct {
	next  func() (transfer, bool)
	stop  func()
	yield func(transfer) bool
	// in is the payload of the most recent jump.
	in transfer
}

// makeContext prepares a context that will call entry on its first jump.
// Nothing runs until then.
func makeContext(entry func(t transfer)) *fcontext {
	fc := &fcontext{}
	fc.next, fc.stop = iter.Pull(func(yield func(transfer) bool) {
		fc.yield = yield
		entry(fc.in)
	})
	return fc
}

// jump switches into fc, handing it payload. It returns the payload of the
// matching jumpOut, or ok=false once fc's entry function has returned.
func (fc *fcontext) jump(payload any) (t transfer, ok bool) {
	fc.in = transfer{data: payload}
	return fc.next()
}

// jumpOut switches from inside fc back to the most recent jump, handing it
// payload. It returns the payload of the next jump, or ok=false if fc was
// abandoned while parked.
func (fc *fcontext) jumpOut(payload any) (t transfer, ok bool) {
	if !fc.yield(transfer{data: payload}) {
		return transfer{}, false
	}
	return fc.in, true
}

// abandon unwinds a parked fc: a pending jumpOut returns ok=false. A context
// that was never jumped into never runs.
func (fc *fcontext) abandon() {
	fc.stop()
}
