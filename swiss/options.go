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

package swiss

import (
	"github.com/opus3d/foundation/hashfn"
	"github.com/rs/zerolog"
)

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash hashfn.Hasher[K]
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The default is hashfn.Default.
func WithHash[K comparable, V any](hash hashfn.Hasher[K]) option[K, V] {
	return hashOption[K, V]{hash}
}

type loggerOption[K comparable, V any] struct {
	logger zerolog.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	m.logger = op.logger
}

// WithLogger is an option to have a Map[K,V] log rehashes at debug level to
// logger. By default nothing is logged.
func WithLogger[K comparable, V any](logger zerolog.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}
