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

// Package errcode implements domain-scoped error codes and the process-wide
// panic path used by the foundation packages.
//
// A fallible operation returns (value, error). When the failure originates in
// a subsystem that owns an error domain (memory, platform, graphics, ...) the
// error is a Code: a pointer to the Domain plus a domain-specific number. The
// creation site is captured as a stack trace so that a Code surfacing far
// from where it was created can still be traced back.
//
// Broken invariants are never returned as values. They go through Panic, which
// informs every registered sink and then panics with an assertion failure.
package errcode

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Domain describes a category of related error codes and how to render them.
// Domains are declared as package-level variables and must outlive every Code
// that points at them.
type Domain struct {
	// Name is the human-readable name of the domain, e.g. "Memory".
	Name string
	// Format converts a domain-specific code into a readable message. It must
	// be safe to call concurrently.
	Format func(code uint32) string
}

// Code is a domain-scoped error code. Codes are small comparable values and
// two codes are equal iff they share the same Domain pointer and value.
type Code struct {
	Domain *Domain
	Value  uint32
}

var _ error = Code{}

// Error implements the error interface.
func (c Code) Error() string {
	if c.Domain == nil {
		return fmt.Sprintf("unknown domain: code %d", c.Value)
	}
	msg := "no description"
	if c.Domain.Format != nil {
		msg = c.Domain.Format(c.Value)
	}
	return fmt.Sprintf("%s: %s (code %d)", c.Domain.Name, msg, c.Value)
}

// Is reports whether target is a Code with the same domain and value.
func (c Code) Is(target error) bool {
	t, ok := target.(Code)
	return ok && t.Domain == c.Domain && t.Value == c.Value
}

// New returns the error code (domain, value) annotated with the caller's
// stack.
func New(domain *Domain, value uint32) error {
	return errors.WithStackDepth(Code{Domain: domain, Value: value}, 1)
}

// As extracts the Code carried by err, if any.
func As(err error) (Code, bool) {
	var c Code
	if err == nil {
		return c, false
	}
	if errors.As(err, &c) {
		return c, true
	}
	return c, false
}

// Message formats code using its domain's formatter. Unlike Error it does not
// include the domain name or the numeric value.
func Message(c Code) string {
	if c.Domain == nil || c.Domain.Format == nil {
		return ""
	}
	return c.Domain.Format(c.Value)
}
