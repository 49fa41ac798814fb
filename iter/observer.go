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

package iter

import (
	"unsafe"
	"weak"
)

// IteratorObserver is a non-owning handle to an active RW SnapshotIterator:
// installing it on a HookedCompactingChunks must never keep the iterator
// alive past the point the caller drops it. Built on the standard
// library's weak.Pointer, which models exactly that kind of non-owning,
// GC-aware reference.
type IteratorObserver struct {
	ptr weak.Pointer[SnapshotIterator]
}

// NewIteratorObserver wraps it as a weak handle.
func NewIteratorObserver(it *SnapshotIterator) IteratorObserver {
	return IteratorObserver{ptr: weak.Make(it)}
}

// Observe reports whether addr has already been visited by the observed
// iterator. Once the iterator has been collected (the caller dropped its
// only strong reference), this always reports false: nothing is left to
// have visited anything.
func (o IteratorObserver) Observe(addr unsafe.Pointer) bool {
	it := o.ptr.Value()
	if it == nil {
		return false
	}
	return it.Visited(addr)
}
