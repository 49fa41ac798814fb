// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package d implements panic/recover based assertion helpers used to turn
// invariant violations into typed, catchable errors at a package boundary.
package d

import "fmt"

// wrappedError pairs a message with the error that caused it.
type wrappedError struct {
	msg   string
	cause error
}

func (e wrappedError) Error() string {
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg
}

func (e wrappedError) Cause() error {
	return e.cause
}

// WrappedError is the error Wrap returns: an error that exposes its Cause.
type WrappedError interface {
	error
	Cause() error
}

// Wrap turns err into a recoverable error carrying err as its Cause. Wrap of
// an already-wrapped error is a no-op; Wrap(nil) returns nil.
func Wrap(err error) WrappedError {
	if err == nil {
		return nil
	}
	if we, ok := err.(wrappedError); ok {
		return we
	}
	return wrappedError{err.Error(), err}
}

// Unwrap returns the Cause of a wrapped error, or err itself if it isn't one.
func Unwrap(err error) error {
	if we, ok := err.(wrappedError); ok {
		return we.cause
	}
	return err
}

// Try runs f, recovering a panic raised through Panic/PanicIfError/etc.
// (i.e. a wrappedError) and returning it as an error. With no errTypes, any
// such panic is caught; with errTypes given, only one whose Cause matches a
// listed type is caught. A raw (non-wrapped) panic, or a wrapped one that
// doesn't match, always propagates.
func Try(f func(), errTypes ...error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		we, ok := r.(wrappedError)
		if !ok {
			panic(r)
		}
		if len(errTypes) > 0 && !causeInTypes(we, errTypes...) {
			panic(r)
		}
		err = we
	}()
	f()
	return nil
}

// TryCatch runs f, recovering a panic raised through Panic/PanicIfError/etc.
// and passing it to catch. catch may itself panic (to propagate, or to
// signal "not handled") or return an error (possibly nil). A raw
// (non-wrapped) panic always propagates without reaching catch.
func TryCatch(f func(), catch func(error) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		we, ok := r.(wrappedError)
		if !ok {
			panic(r)
		}
		err = catch(we)
	}()
	f()
	return nil
}

// causeInTypes reports whether err's Cause (after unwrapping) matches the
// dynamic type of one of types. An empty types list never matches.
func causeInTypes(err error, types ...error) bool {
	if len(types) == 0 {
		return false
	}
	cause := Unwrap(err)
	for _, t := range types {
		if sameType(cause, t) {
			return true
		}
	}
	return false
}

func sameType(a, b error) bool {
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// PanicIfError panics with err, wrapped, if err is non-nil.
func PanicIfError(err error) {
	if err != nil {
		panic(Wrap(err))
	}
}

// PanicIfTrue panics if cond is true.
func PanicIfTrue(cond bool) {
	if cond {
		panic(wrappedError{"", fmt.Errorf("expected false")})
	}
}

// PanicIfFalse panics if cond is false.
func PanicIfFalse(cond bool) {
	if !cond {
		panic(wrappedError{"", fmt.Errorf("expected true")})
	}
}

// Panic panics with an error built from format and args, exactly as
// fmt.Errorf would build it.
func Panic(format string, args ...interface{}) {
	if len(args) == 0 {
		panic(wrappedError{"", fmt.Errorf("%s", format)})
	}
	panic(wrappedError{"", fmt.Errorf(format, args...)})
}

// PanicIfNotType panics unless v's dynamic type matches one of types; it
// returns v (asserted through the match) so callers can use it inline.
func PanicIfNotType(v error, types ...error) error {
	for _, t := range types {
		if sameType(v, t) {
			return v
		}
	}
	panic(wrappedError{"", fmt.Errorf("unexpected type %T", v)})
}
