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

// Package iter implements the txn, snapshot (hooked), and elastic iterator
// family that walks a chunk allocator's live tuples, plus the weak
// IteratorObserver handle and the Freeze/Thaw orchestration that ties a
// snapshot iterator's lifetime to a HookedCompactingChunks.
package iter

import "unsafe"

// Tag is a caller-supplied predicate marking whether the tuple at addr is
// eligible to be yielded by a txn or elastic iterator. A false result means
// "logically dead but not yet reclaimed": the iterator skips it rather
// than stopping.
type Tag func(addr unsafe.Pointer) bool

// All is the default Tag: every address is eligible.
func All(unsafe.Pointer) bool { return true }

// NthBit returns a Tag checking whether bit n of the tuple's first byte is
// set, for callers that flag logical deletion in a reserved bit.
func NthBit(n uint8) Tag {
	mask := byte(1) << n
	return func(addr unsafe.Pointer) bool {
		return *(*byte)(addr)&mask != 0
	}
}

func orAll(tag Tag) Tag {
	if tag == nil {
		return All
	}
	return tag
}
