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

package tta

import (
	"unsafe"

	"github.com/dolthub/dolt/go/store/tta/ttaerr"
)

// EagerNonCompactingChunk tracks explicitly-freed slots on an in-chunk
// free-list stack, trading a little bookkeeping for immediate reuse of any
// hole (not just the tail).
type EagerNonCompactingChunk struct {
	*ChunkHolder
	free []unsafe.Pointer
}

func newEagerChunk(id uint64, tupleSize, chunkSize int, backend ChunkBackend) *EagerNonCompactingChunk {
	return &EagerNonCompactingChunk{ChunkHolder: newChunkHolder(id, tupleSize, chunkSize, backend)}
}

func (c *EagerNonCompactingChunk) Allocate() unsafe.Pointer {
	if n := len(c.free); n > 0 {
		addr := c.free[n-1]
		c.free = c.free[:n-1]
		return addr
	}
	return c.ChunkHolder.Allocate()
}

// Full is true only when the bump pointer is exhausted and no hole is
// available for reuse.
func (c *EagerNonCompactingChunk) Full() bool {
	return c.ChunkHolder.Full() && len(c.free) == 0
}

func (c *EagerNonCompactingChunk) Free(addr unsafe.Pointer) {
	if ptrAdd(addr, c.TupleSize()) == c.RangeNext() {
		c.setNext(addr)
	} else {
		c.free = append(c.free, addr)
	}
	if ptrDiff(c.RangeNext(), c.RangeBegin()) == len(c.free)*c.TupleSize() {
		c.setNext(c.RangeBegin())
		c.free = c.free[:0]
	}
}

// LazyNonCompactingChunk tracks only a count of freed slots; holes aren't
// individually reusable until the whole chunk empties out and resets.
type LazyNonCompactingChunk struct {
	*ChunkHolder
	freedCount int
}

func newLazyChunk(id uint64, tupleSize, chunkSize int, backend ChunkBackend) *LazyNonCompactingChunk {
	return &LazyNonCompactingChunk{ChunkHolder: newChunkHolder(id, tupleSize, chunkSize, backend)}
}

func (c *LazyNonCompactingChunk) Free(addr unsafe.Pointer) {
	if ptrAdd(addr, c.TupleSize()) == c.RangeNext() {
		c.setNext(addr)
	} else {
		c.freedCount++
	}
	if c.freedCount*c.TupleSize() == ptrDiff(c.RangeNext(), c.RangeBegin()) {
		c.setNext(c.RangeBegin())
		c.freedCount = 0
	}
}

// nonCompactingSlot is the shape NonCompactingChunks needs from either
// chunk strategy.
type nonCompactingSlot interface {
	Ranged
	Allocate() unsafe.Pointer
	Full() bool
	Empty() bool
	Free(unsafe.Pointer)
	Contains(unsafe.Pointer) bool
	Release()
}

// emptyChunksThreshold is the number of emptied chunks NonCompactingChunks
// tolerates before sweeping them out of the list.
const emptyChunksThreshold = 64

// NonCompactingChunks is a chunk list of non-relocating chunks: used as the
// backing for TxnPreHook's copy area and for StringRef's varlen pool. Holes
// are tombstoned (Eager) or refcounted (Lazy), never compacted.
type NonCompactingChunks struct {
	tupleSize   int
	chunkSize   int
	backend     ChunkBackend
	useEager    bool
	list        *ChunkList[nonCompactingSlot]
	nextID      uint64
	emptyChunks int
	size        int
}

// NewNonCompactingChunks constructs a non-compacting chunk list. useEager
// selects the Eager strategy; otherwise Lazy is used.
func NewNonCompactingChunks(tupleSize int, backend ChunkBackend, useEager bool) *NonCompactingChunks {
	ttaerr.Invariant(tupleSize > 0 && tupleSize <= MaxTupleSize(), ttaerr.Logic,
		"tuple size %d outside (0, %d]", tupleSize, MaxTupleSize())
	if backend == nil {
		backend = HeapBackend{}
	}
	return &NonCompactingChunks{
		tupleSize: tupleSize,
		chunkSize: ChunkSize(tupleSize),
		backend:   backend,
		useEager:  useEager,
		list:      NewChunkList[nonCompactingSlot](),
	}
}

func (c *NonCompactingChunks) newChunk() nonCompactingSlot {
	id := c.nextID
	c.nextID++
	if c.useEager {
		return newEagerChunk(id, c.tupleSize, c.chunkSize, c.backend)
	}
	return newLazyChunk(id, c.tupleSize, c.chunkSize, c.backend)
}

// Allocate scans for the first non-full chunk, appending a new one if
// every existing chunk is full.
func (c *NonCompactingChunks) Allocate() unsafe.Pointer {
	for n := c.list.Front(); n != nil; n = n.Next() {
		if !n.Val.Full() {
			addr := n.Val.Allocate()
			c.size++
			return addr
		}
	}
	ch := c.newChunk()
	c.list.EmplaceBack(ch)
	addr := ch.Allocate()
	c.size++
	return addr
}

// Free locates addr's owning chunk via the by-address index and frees the
// slot there, sweeping fully-emptied chunks once emptyChunksThreshold of
// them accumulate. The ownership check is against the chunk's bump
// pointer, not its buffer end: addresses in [next, end) were never
// allocated and must not reach the chunk's free bookkeeping.
func (c *NonCompactingChunks) Free(addr unsafe.Pointer) error {
	node, ok := c.list.Floor(addr)
	if !ok || !ptrLess(addr, node.Val.RangeNext()) {
		return ttaerr.New(ttaerr.OutOfRange, "free(%p): not owned by any chunk", addr)
	}
	node.Val.Free(addr)
	c.size--
	if node.Val.Empty() {
		c.emptyChunks++
	}
	if c.emptyChunks >= emptyChunksThreshold {
		c.list.RemoveIf(func(s nonCompactingSlot) bool {
			if s.Empty() {
				s.Release()
				return true
			}
			return false
		})
		c.emptyChunks = 0
	}
	return nil
}

// Size returns the total number of live slots across all chunks.
func (c *NonCompactingChunks) Size() int { return c.size }

// TupleSize returns the fixed slot size this pool was constructed with.
func (c *NonCompactingChunks) TupleSize() int { return c.tupleSize }

// Clear releases every chunk's storage and resets the pool to empty, used
// by TxnPreHook.Thaw to drop the entire change-store at once rather than
// freeing entries one at a time.
func (c *NonCompactingChunks) Clear() {
	c.list.RemoveIf(func(s nonCompactingSlot) bool {
		s.Release()
		return true
	})
	c.emptyChunks = 0
	c.size = 0
}
