// Copyright 2021 Dolthub, Inc.
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

// Package ttaerr classifies the table-tuple allocator's error conditions
// into the four kinds the allocator's design separates. A caller's bad
// input or call sequence is reported as a returned *Error of any kind;
// Invariant and Panic raise a *Error of the given kind through
// panic/recover for internal invariant breaks and unusable arguments, so
// those can't be ignored the way a plain error return could be.
package ttaerr

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/dolthub/dolt/go/store/tta/d"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// OutOfRange: an address or id passed to the allocator isn't one it
	// owns. Surfaced to the caller; allocator state is unchanged.
	OutOfRange Kind = iota
	// Underflow: an operation (pop, reserve, remove) was attempted on an
	// allocator that doesn't have enough live tuples to satisfy it.
	Underflow
	// Overflow: remove_add was called more times than reserved, or an
	// internal bookkeeping structure (DelayedRemover's holes-to-movers
	// zip) came out inconsistent.
	Overflow
	// Logic: a caller violated the allocator's state machine (double
	// freeze, double thaw, remove-from-head while frozen, two RW
	// snapshot iterators).
	Logic
)

func (k Kind) String() string {
	switch k {
	case OutOfRange:
		return "out of range"
	case Underflow:
		return "underflow"
	case Overflow:
		return "overflow"
	case Logic:
		return "logic error"
	default:
		return "unknown"
	}
}

// Error is a *ttaerr.Error: a classified, stack-trace-carrying error value.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
}

// Cause returns the underlying error, if any, that e wraps.
func (e *Error) Cause() error { return e.cause }

// Unwrap lets errors.Is/As traverse into the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds a *Error of the given kind, wrapped with a stack trace.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, msg: msg, cause: errors.New(msg)}
}

// Wrap builds a *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	te, ok := err.(*Error)
	return ok && te.Kind == kind
}

// Invariant panics with a *Error of the given kind when cond is false: a
// programming error, not a recoverable condition, but still a typed panic
// value a supervising boundary can d.Try/d.TryCatch around.
func Invariant(cond bool, kind Kind, format string, args ...interface{}) {
	if cond {
		return
	}
	e := New(kind, format, args...)
	panic(d.Wrap(e))
}

// Panic is Invariant's unconditional form, used where the bad state was
// already detected by the caller (e.g. in a default switch case).
func Panic(kind Kind, format string, args ...interface{}) {
	panic(d.Wrap(New(kind, format, args...)))
}
