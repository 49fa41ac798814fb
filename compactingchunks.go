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

	"github.com/google/uuid"

	"github.com/dolthub/dolt/go/store/tta/ttaerr"
	"github.com/dolthub/dolt/go/store/tta/ttalog"
)

// RemoveDirection selects which end of the txn view a lightweight Remove
// call trims from.
type RemoveDirection int

const (
	FromHead RemoveDirection = iota
	FromTail
)

// CompactingChunks is the compacting allocator: a ChunkList of
// CompactingChunk plus the head-shrinking single and batch delete
// protocols. Apart from the in-place slide that completes a
// remove(from_head, …) sequence, it never moves a live tuple's bytes
// except as an explicit, caller-visible relocation.
type CompactingChunks struct {
	InstanceID uuid.UUID

	tupleSize int
	chunkSize int
	backend   ChunkBackend

	list        *ChunkList[*CompactingChunk]
	nextChunkID uint64
	allocCount  int

	txnLeftNode *Node[*CompactingChunk]

	frozen           bool
	frozenBoundaries FrozenBoundaries

	finalizeCB func(unsafe.Pointer)

	headRemoveCount int

	batched DelayedRemover
	stats   Stats
}

// NewCompactingChunks constructs an empty compacting allocator for fixed
// tupleSize-byte slots. finalizeCB, if non-nil, is invoked by Free on the
// mover's old address, by RemoveAdd on each named address (skipped, while
// frozen, for addresses within the frozen boundaries), by Finalize, and by
// Clear on the live tuples it drops (while frozen, only on those past the
// frozen right boundary). Remove does not invoke it.
func NewCompactingChunks(tupleSize int, backend ChunkBackend, finalizeCB func(unsafe.Pointer)) *CompactingChunks {
	ttaerr.Invariant(tupleSize > 0 && tupleSize <= MaxTupleSize(), ttaerr.Logic,
		"tuple size %d outside (0, %d]", tupleSize, MaxTupleSize())
	if backend == nil {
		backend = HeapBackend{}
	}
	return &CompactingChunks{
		InstanceID: uuid.New(),
		tupleSize:  tupleSize,
		chunkSize:  ChunkSize(tupleSize),
		backend:    backend,
		list:       NewChunkList[*CompactingChunk](),
		finalizeCB: finalizeCB,
	}
}

func (c *CompactingChunks) TupleSize() int   { return c.tupleSize }
func (c *CompactingChunks) Size() int        { return c.allocCount }
func (c *CompactingChunks) Frozen() bool     { return c.frozen }
func (c *CompactingChunks) Empty() bool      { return c.allocCount == 0 }
func (c *CompactingChunks) ChunkCount() int  { return c.list.Len() }
func (c *CompactingChunks) FrozenBounds() FrozenBoundaries { return c.frozenBoundaries }

// Stats returns this allocator's operation counters.
func (c *CompactingChunks) Stats() Stats { return c.stats }

// TxnLeftNode returns the chunk-list node currently marking the start of
// the txn view, or nil when the allocator is empty.
func (c *CompactingChunks) TxnLeftNode() *Node[*CompactingChunk] { return c.txnLeftNode }

// BackNode returns the last chunk in the list, or nil when empty.
func (c *CompactingChunks) BackNode() *Node[*CompactingChunk] { return c.list.Back() }

// FrontNode returns the physical first chunk in the list, or nil when
// empty. This is the snapshot iterator's starting point: at freeze time it
// coincides with the frozen left boundary's chunk, and stays valid as the
// iterator retires frozen-only chunks via ReleaseFrontIfFrozenOnly.
func (c *CompactingChunks) FrontNode() *Node[*CompactingChunk] { return c.list.Front() }

// FindChunkByID looks up a chunk node by exact chunk id, used by the
// snapshot iterator to resolve a recorded boundary chunk id back to a list
// node.
func (c *CompactingChunks) FindChunkByID(id uint64) (*Node[*CompactingChunk], bool) {
	return c.list.FindByID(id)
}

// Allocate bump-allocates a new tuple slot, appending a chunk first if the
// allocator holds no live tuples or the last chunk is full. The live-count
// check (not just list emptiness) matters after a clear while frozen: the
// list still carries snapshot-only chunks then, and the txn view restarts
// in a fresh chunk beyond them.
func (c *CompactingChunks) Allocate() unsafe.Pointer {
	if c.allocCount == 0 || c.list.Empty() || c.list.Back().Val.Full() {
		id := c.nextChunkID
		c.nextChunkID++
		ch := newCompactingChunk(id, c.tupleSize, c.chunkSize, c.backend)
		node := c.list.EmplaceBack(ch)
		c.stats.ChunksCreated++
		if c.allocCount == 0 {
			c.txnLeftNode = node
		}
	}
	last := c.list.Back().Val
	addr := last.Allocate()
	c.allocCount++
	c.stats.Allocations++
	ttalog.Debugf("tta[%s]: allocate chunk=%d addr=%p", c.InstanceID, last.ChunkID(), addr)
	return addr
}

// findTxnScoped resolves addr to its owning node, rejecting chunks before
// txn_left (the txn view never sees them).
func (c *CompactingChunks) findTxnScoped(addr unsafe.Pointer) (*Node[*CompactingChunk], bool) {
	node, ok := c.list.Floor(addr)
	if !ok {
		return nil, false
	}
	if c.txnLeftNode != nil && LessRolling(node.Val.ChunkID(), c.txnLeftNode.Val.ChunkID()) {
		return nil, false
	}
	if !ptrLess(addr, node.Val.RangeNext()) {
		return nil, false
	}
	return node, true
}

// FindTxnScoped is findTxnScoped's exported form, used by the hook and
// iterator layers.
func (c *CompactingChunks) FindTxnScoped(addr unsafe.Pointer) (*Node[*CompactingChunk], bool) {
	return c.findTxnScoped(addr)
}

// FindGlobal resolves addr against the entire list, including chunks
// before txn_left that remain visible to the snapshot view. Used for
// Position construction and by the snapshot iterator.
func (c *CompactingChunks) FindGlobal(addr unsafe.Pointer) (*Node[*CompactingChunk], bool) {
	node, ok := c.list.Floor(addr)
	if !ok || !ptrLess(addr, node.Val.RangeEnd()) {
		return nil, false
	}
	return node, true
}

// releasable pops or advances past the current first txn chunk once it has
// been fully drained: popped outright when not frozen (nothing else can
// need it), or simply skipped over (txn_left advances) when frozen, since
// the snapshot view may still need it.
func (c *CompactingChunks) releasable() {
	first := c.txnLeftNode
	if first == nil || !first.Val.Empty() {
		return
	}
	if !c.frozen {
		popped, _ := c.list.PopFront()
		popped.Release()
		c.stats.ChunksFreed++
		c.txnLeftNode = c.list.Front()
	} else {
		c.txnLeftNode = first.Next()
	}
}

// Finalize applies the allocator's finalize callback (if any) to addr. It
// is the public form of the internal call CompactingChunks.Free already
// makes on the mover's old address; HookedCompactingChunks.Remove also
// calls this directly on the tuple actually being deleted, before Free
// relocates the mover over it.
func (c *CompactingChunks) Finalize(addr unsafe.Pointer) {
	if c.finalizeCB != nil {
		c.finalizeCB(addr)
	}
}

// ReleaseFrontIfFrozenOnly pops the list's current front chunk if it sits
// strictly before txn_left — i.e. it is visible only to the frozen
// snapshot view, not the txn view — releasing its storage. Returns false
// if the front chunk is still txn-visible (or the list is empty). Used by
// the snapshot iterator to retire frozen-only chunks incrementally as it
// passes them, rather than waiting for the bulk drop Thaw performs.
func (c *CompactingChunks) ReleaseFrontIfFrozenOnly() bool {
	front := c.list.Front()
	if front == nil || front == c.txnLeftNode {
		return false
	}
	if c.txnLeftNode != nil && !LessRolling(front.Val.ChunkID(), c.txnLeftNode.Val.ChunkID()) {
		return false
	}
	front.Val.Release()
	c.list.PopFront()
	c.stats.ChunksFreed++
	return true
}

// Free implements the single-tuple delete protocol: relocate the first txn
// chunk's tail tuple into dst, finalize the vacated mover slot, and shrink.
// Returns the mover's old address (now stale), or (nil, nil) when dst is
// exactly the first chunk's bump pointer — the benign race a head-shrinking
// iteration can produce when the address it just fetched gets compacted
// away before its own free call lands.
func (c *CompactingChunks) Free(dst unsafe.Pointer) (unsafe.Pointer, error) {
	dstNode, ok := c.findTxnScoped(dst)
	if !ok {
		if c.txnLeftNode != nil && dst == c.txnLeftNode.Val.RangeNext() {
			return nil, nil
		}
		return nil, ttaerr.New(ttaerr.OutOfRange, "free(%p): not owned by txn view", dst)
	}
	first := c.txnLeftNode.Val
	src := first.FreeTail()
	if c.finalizeCB != nil {
		c.finalizeCB(src)
	}
	if dstNode.Val != first || src != dst {
		copyTuple(dst, src, c.tupleSize)
		c.stats.Relocations++
	}
	c.releasable()
	c.allocCount--
	c.stats.Frees++
	ttalog.Debugf("tta[%s]: free(%p) -> src=%p", c.InstanceID, dst, src)
	return src, nil
}

// Remove implements the lightweight, non-compacting delete from either end
// of the txn view. FromHead accumulates addresses across repeated calls,
// coalescing them on the terminating call made with ptr == nil. FromTail
// is a single call per address, verified to be the current tail.
func (c *CompactingChunks) Remove(dir RemoveDirection, ptr unsafe.Pointer) error {
	switch dir {
	case FromHead:
		if c.frozen {
			return ttaerr.New(ttaerr.Logic, "remove(from_head) forbidden while frozen")
		}
		if ptr == nil {
			return c.finishHeadRemove()
		}
		if c.allocCount == 0 {
			return ttaerr.New(ttaerr.Underflow, "remove(from_head) on empty allocator")
		}
		c.headRemoveCount++
		c.allocCount--
		c.stats.HeadRemoved++
		return nil
	case FromTail:
		last := c.list.Back()
		if last == nil {
			return ttaerr.New(ttaerr.Underflow, "remove(from_tail) on empty allocator")
		}
		lastChunk := last.Val
		if ptrAdd(ptr, c.tupleSize) != lastChunk.RangeNext() {
			return ttaerr.New(ttaerr.OutOfRange, "remove(from_tail, %p): not the current tail", ptr)
		}
		lastChunk.setNext(ptr)
		if lastChunk.Empty() {
			popped, _ := c.list.PopBack()
			popped.Release()
			c.stats.ChunksFreed++
			if c.list.Empty() {
				c.txnLeftNode = nil
			}
		}
		c.allocCount--
		c.stats.TailRemoved++
		return nil
	default:
		return ttaerr.New(ttaerr.Logic, "unknown remove direction %d", dir)
	}
}

func (c *CompactingChunks) finishHeadRemove() error {
	n := c.headRemoveCount
	c.headRemoveCount = 0
	remaining := n
	for remaining > 0 {
		node := c.txnLeftNode
		if node == nil {
			return ttaerr.New(ttaerr.Underflow, "remove(from_head): fewer live tuples than removed")
		}
		chunk := node.Val
		live := ptrDiff(chunk.RangeNext(), chunk.RangeBegin()) / c.tupleSize
		if remaining >= live {
			chunk.setNext(chunk.RangeBegin())
			remaining -= live
			c.releasable()
		} else {
			src := ptrAdd(chunk.RangeBegin(), remaining*c.tupleSize)
			keep := ptrDiff(chunk.RangeNext(), src)
			copyTuple(chunk.RangeBegin(), src, keep)
			chunk.setNext(ptrAdd(chunk.RangeBegin(), keep))
			remaining = 0
		}
	}
	return nil
}

// withinFrozenBoundaries reports whether addr lies within [Left, Right) of
// the current frozen boundaries.
func (c *CompactingChunks) withinFrozenBoundaries(addr unsafe.Pointer) bool {
	if !c.frozen || c.frozenBoundaries.Left.Empty() || c.frozenBoundaries.Right.Empty() {
		return false
	}
	node, ok := c.list.Floor(addr)
	if !ok {
		return false
	}
	pos := NewPosition(node.Val.ChunkID(), addr)
	return !pos.Less(c.frozenBoundaries.Left) && pos.Less(c.frozenBoundaries.Right)
}

// WithinFrozenBoundaries is withinFrozenBoundaries' exported form.
func (c *CompactingChunks) WithinFrozenBoundaries(addr unsafe.Pointer) bool {
	return c.withinFrozenBoundaries(addr)
}

// Freeze begins a snapshot: records the current txn-view boundaries as
// frozen_boundaries and flips frozen. Double freeze is a logic error.
func (c *CompactingChunks) Freeze() error {
	if c.frozen {
		return ttaerr.New(ttaerr.Logic, "double freeze")
	}
	c.frozen = true
	c.stats.Freezes++
	if c.txnLeftNode == nil {
		c.frozenBoundaries = FrozenBoundaries{}
		return nil
	}
	left := NewPosition(c.txnLeftNode.Val.ChunkID(), c.txnLeftNode.Val.RangeBegin())
	last := c.list.Back()
	right := NewPosition(last.Val.ChunkID(), last.Val.RangeNext())
	c.frozenBoundaries = FrozenBoundaries{Left: left, Right: right}
	ttalog.Debugf("tta[%s]: freeze left=%v right=%v", c.InstanceID, left, right)
	return nil
}

// Thaw ends the snapshot: drops any chunks strictly before txn_left that
// are no longer needed now that nothing observes them, and clears
// frozen_boundaries. Double thaw is a logic error. The caller is
// responsible for having fully drained the snapshot iterator first.
func (c *CompactingChunks) Thaw() error {
	if !c.frozen {
		return ttaerr.New(ttaerr.Logic, "thaw without freeze")
	}
	c.frozen = false
	c.stats.Thaws++
	for {
		front := c.list.Front()
		if front == nil || front == c.txnLeftNode {
			break
		}
		front.Val.Release()
		c.list.PopFront()
		c.stats.ChunksFreed++
	}
	c.frozenBoundaries = FrozenBoundaries{}
	ttalog.Debugf("tta[%s]: thaw", c.InstanceID)
	return nil
}

// Clear empties the allocator, invoking removeCB on every live tuple in
// txn order first. While frozen, the region between the frozen right
// boundary and the current tail is also finalized (it was never visible
// to the snapshot either), and chunks retained for the snapshot are kept;
// otherwise every live tuple is finalized and the whole list is dropped.
// An unfinished remove(from_head, …)
// sequence or batch-delete is a logic error.
func (c *CompactingChunks) Clear(removeCB func(unsafe.Pointer)) error {
	if c.headRemoveCount > 0 {
		return ttaerr.New(ttaerr.Logic, "clear: unfinished remove(from_head)")
	}
	if c.batched.Active() {
		return ttaerr.New(ttaerr.Logic, "clear: unfinished remove_add/remove_force")
	}
	for n := c.txnLeftNode; n != nil; n = n.Next() {
		chunk := n.Val
		for addr := chunk.RangeBegin(); ptrLess(addr, chunk.RangeNext()); addr = ptrAdd(addr, c.tupleSize) {
			if removeCB != nil {
				removeCB(addr)
			}
		}
	}
	if c.frozen {
		right := c.frozenBoundaries.Right
		if !right.Empty() && c.finalizeCB != nil {
			node, ok := c.list.FindByID(right.ChunkID())
			addr := right.Addr()
			for ok && node != nil {
				chunk := node.Val
				for ptrLess(addr, chunk.RangeNext()) {
					c.finalizeCB(addr)
					addr = ptrAdd(addr, c.tupleSize)
				}
				node = node.Next()
				if node != nil {
					addr = node.Val.RangeBegin()
				}
			}
		}
		// Progressively shed the txn view via releasable so txn_left
		// advances chunk by chunk; the last chunk's next is restored
		// afterward as a scratch, keeping the frozen right boundary's
		// position resolvable for the still-running snapshot.
		var lastNext unsafe.Pointer
		if last := c.list.Back(); last != nil {
			lastNext = last.Val.RangeNext()
		}
		for c.txnLeftNode != nil {
			c.txnLeftNode.Val.setNext(c.txnLeftNode.Val.RangeBegin())
			c.releasable()
		}
		if last := c.list.Back(); last != nil {
			last.Val.setNext(lastNext)
		}
		c.allocCount = 0
	} else {
		if c.finalizeCB != nil {
			for n := c.txnLeftNode; n != nil; n = n.Next() {
				chunk := n.Val
				for addr := chunk.RangeBegin(); ptrLess(addr, chunk.RangeNext()); addr = ptrAdd(addr, c.tupleSize) {
					c.finalizeCB(addr)
				}
			}
		}
		for {
			ch, ok := c.list.PopFront()
			if !ok {
				break
			}
			ch.Release()
			c.stats.ChunksFreed++
		}
		c.txnLeftNode = nil
		c.allocCount = 0
	}
	return nil
}

// RemoveReserve begins the batch-delete protocol for n tuples; see
// DelayedRemover.Reserve.
func (c *CompactingChunks) RemoveReserve(n int) error {
	return c.batched.Reserve(c, n)
}

// RemoveAdd names one of the n addresses reserved by RemoveReserve; see
// DelayedRemover.Add.
func (c *CompactingChunks) RemoveAdd(addr unsafe.Pointer) error {
	return c.batched.Add(c, addr)
}

// RemoveForce completes the batch-delete protocol; see DelayedRemover.Force.
func (c *CompactingChunks) RemoveForce(memcpyCB func([]Movement)) (int, error) {
	n, err := c.batched.Force(c, memcpyCB)
	if err == nil {
		c.stats.BatchRemoved += uint64(n)
	}
	return n, err
}
