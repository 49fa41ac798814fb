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

package stringref

import "unsafe"

// StringRef stands in for a raw pointer to a non-inlined varchar/varbinary
// value in tuple storage, so the actual bytes can be relocated by a
// compacting pool without invalidating what the tuple holds: the tuple
// keeps a pointer to the StringRef, never to the payload directly.
//
// Two variants, selected by whether a RelocatablePool is given at Create:
//   - persistent: the payload lives in pool, which rewrites r.ptr in place
//     whenever it relocates the block (see pool.go's handle-table design).
//   - temp: the payload is held inline in temp, a plain Go slice, and
//     Destroy is a no-op: the temp slice is ordinary GC-managed memory, so
//     there is no separate arena allocation to track.
type StringRef struct {
	ptr  unsafe.Pointer
	pool RelocatablePool
	temp []byte
}

// Create builds a StringRef holding a copy of bytes. A nil pool selects
// the temp variant; a non-nil pool selects the persistent variant and the
// payload is requested from it.
func Create(pool RelocatablePool, bytes []byte) *StringRef {
	if pool == nil {
		payload := make([]byte, len(bytes))
		copy(payload, bytes)
		return &StringRef{temp: payload}
	}
	ref := &StringRef{pool: pool}
	ref.ptr = pool.Allocate(len(bytes), bytes, &ref.ptr)
	return ref
}

// IsTemp reports whether ref is the temp (inline, non-relocatable)
// variant.
func (r *StringRef) IsTemp() bool { return r.pool == nil }

// GetObject returns the payload's length and bytes. For the persistent
// variant this reads through the pool (the bytes may have moved since the
// last call); for temp it returns the inline slice directly.
func (r *StringRef) GetObject() (int, []byte) {
	if r.IsTemp() {
		return len(r.temp), r.temp
	}
	b := r.pool.Read(r.ptr)
	return len(b), b
}

// GetObjectValue returns just the payload bytes.
func (r *StringRef) GetObjectValue() []byte {
	_, b := r.GetObject()
	return b
}

// Relocate repoints r at its payload's new location after the pool moved
// the block. SlabPool rewrites the owner slot it was handed at Allocate
// directly and never calls this; it exists for pool implementations that
// notify the owning StringRef instead of writing through a raw slot.
func (r *StringRef) Relocate(newAddr unsafe.Pointer) { r.ptr = newAddr }

// Destroy releases ref. For the temp variant this is a no-op (the inline
// payload is an ordinary GC-managed slice); for the persistent variant it
// frees the block
// from the owning pool, which may in turn relocate another live block and
// rewrite that block's own owner StringRef — see pool.go's SlabPool.Free.
func Destroy(ref *StringRef) {
	if ref == nil || ref.IsTemp() {
		return
	}
	ref.pool.Free(ref.ptr)
	ref.ptr = nil
}
