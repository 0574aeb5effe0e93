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

package errcode

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// MaxPanicSinks is the number of sinks RegisterPanicSink accepts.
const MaxPanicSinks = 8

// PanicSink is informed of a panic before the process unwinds. err may be nil
// when the panic carries only a message. Sinks must not retain err.
type PanicSink func(msg string, err error)

// The sink table is process-wide. Sinks are registered during start-up and
// are never unregistered, so anything a sink closes over must live until the
// process exits.
var (
	sinkMu    sync.Mutex
	sinks     [MaxPanicSinks]PanicSink
	sinkCount atomic.Int32
	inSinks   atomic.Bool
)

// RegisterPanicSink adds fn to the sinks called by Panic. It returns false if
// the table is full or a panic is in progress.
func RegisterPanicSink(fn PanicSink) bool {
	if fn == nil || inSinks.Load() {
		return false
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	n := sinkCount.Load()
	if n >= MaxPanicSinks {
		log.Warn().Int("max", MaxPanicSinks).Msg("panic sink table full, sink dropped")
		return false
	}
	sinks[n] = fn
	sinkCount.Store(n + 1)
	return true
}

// Panic reports an unrecoverable condition. Every registered sink is called
// once, the failure is logged, and then Panic panics with an assertion
// failure wrapping err. A Panic raised from inside a sink skips the sinks.
func Panic(msg string, err error) {
	if !inSinks.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("recursive panic: %s", msg))
	}
	func() {
		defer inSinks.Store(false)
		n := int(sinkCount.Load())
		for i := 0; i < n; i++ {
			sinks[i](msg, err)
		}
	}()

	ev := log.Error().Str("panic", msg)
	if c, ok := As(err); ok && c.Domain != nil {
		ev = ev.Str("domain", c.Domain.Name).Uint32("code", c.Value).Str("description", Message(c))
	}
	ev.Err(err).Msg("foundation panic")

	if err == nil {
		panic(errors.AssertionFailedf("%s", msg))
	}
	panic(errors.WithAssertionFailure(errors.WrapWithDepthf(1, err, "%s", msg)))
}

// Assert panics through Panic when cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		Panic(errors.Newf(format, args...).Error(), nil)
	}
}

// DebugAssert is Assert in builds with the invariants tag and a no-op
// otherwise.
func DebugAssert(cond bool, format string, args ...interface{}) {
	if Invariants && !cond {
		Panic(errors.Newf(format, args...).Error(), nil)
	}
}

// resetPanicSinks clears the sink table. Only tests call it.
func resetPanicSinks() {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	for i := range sinks {
		sinks[i] = nil
	}
	sinkCount.Store(0)
}
