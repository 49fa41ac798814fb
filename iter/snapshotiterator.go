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

	"github.com/dolthub/dolt/go/store/tta"
	"github.com/dolthub/dolt/go/store/tta/hook"
	"github.com/dolthub/dolt/go/store/tta/ttaerr"
	"github.com/dolthub/dolt/go/store/tta/validate"
)

// SnapshotIterator traverses the tuples as they existed at the moment of
// the owning allocator's most recent freeze, yielding the hook's pre-image
// for each live txn address (or the current bytes, if none was recorded).
// Boundary logic: the starting chunk's start-of-range is clamped to
// frozen_boundaries.left when it is the left-boundary chunk; every
// chunk's end is range_end except the right-boundary chunk, which is
// clamped to frozen_boundaries.right. A single type plays both roles:
// read-write (NewSnapshotIterator, which drives chunk retirement and is
// installable as an IteratorObserver) and read-only
// (NewReadOnlySnapshotIterator, which never retires chunks so many can
// coexist).
type SnapshotIterator struct {
	chunks *tta.CompactingChunks
	hook   *hook.TxnPreHook
	bounds tta.FrozenBoundaries
	node   *tta.Node[*tta.CompactingChunk]
	cursor unsafe.Pointer

	rw         bool
	registered bool
	drained    bool
}

func newSnapshotIterator(chunks *tta.CompactingChunks, h *hook.TxnPreHook, rw bool) *SnapshotIterator {
	it := &SnapshotIterator{chunks: chunks, hook: h, bounds: chunks.FrozenBounds(), rw: rw}
	if it.bounds.Left.Empty() || it.bounds.Right.Empty() {
		it.drained = true
		return it
	}
	// The left-boundary address is only meaningful inside the chunk it was
	// recorded in. A prior RW iterator may have already retired that chunk
	// (and its storage with it), so resolve the boundary's chunk id first
	// and start at the surviving front chunk's own beginning when it is
	// gone.
	if node, ok := chunks.FindChunkByID(it.bounds.Left.ChunkID()); ok {
		it.node = node
		it.cursor = it.bounds.Left.Addr()
	} else {
		front := chunks.FrontNode()
		if front == nil || tta.LessRolling(it.bounds.Right.ChunkID(), front.Val.ChunkID()) {
			// Nothing of the frozen range survives; chunks past the right
			// boundary were appended after the freeze.
			it.drained = true
			return it
		}
		it.node = front
		it.cursor = front.Val.RangeBegin()
	}
	it.skipFinished()
	return it
}

// NewSnapshotIterator begins a read-write snapshot traversal over chunks
// as of its most recent freeze. Registers with the process-wide
// ChunksIdValidator so only one RW snapshot iterator can exist at a time
// per allocator; fails with a Logic error on a duplicate. Advancing it may
// retire (pop and release) chunks that sit strictly before the current
// txn_left — see ReleaseFrontIfFrozenOnly.
func NewSnapshotIterator(chunks *tta.CompactingChunks, h *hook.TxnPreHook) (*SnapshotIterator, error) {
	if err := validate.Register(chunks.InstanceID); err != nil {
		return nil, err
	}
	it := newSnapshotIterator(chunks, h, true)
	it.registered = true
	return it, nil
}

// NewReadOnlySnapshotIterator begins a read-only snapshot traversal: it
// never pops chunks and never registers with the validator, so any number
// of these may coexist alongside each other or the single permitted RW
// iterator.
func NewReadOnlySnapshotIterator(chunks *tta.CompactingChunks, h *hook.TxnPreHook) *SnapshotIterator {
	return newSnapshotIterator(chunks, h, false)
}

func (it *SnapshotIterator) chunkEnd(n *tta.Node[*tta.CompactingChunk]) unsafe.Pointer {
	if n.Val.ChunkID() == it.bounds.Right.ChunkID() {
		return it.bounds.Right.Addr()
	}
	return n.Val.RangeEnd()
}

// skipFinished advances past any chunk the cursor has reached the end of.
// A RW iterator pops each chunk it leaves that is frozen-only (strictly
// before the allocator's current txn_left); any chunks the mutator
// coalesced away in the meantime are popped in the same pass, in order.
// Leaving the right-boundary chunk ends the traversal outright — chunks
// past it were appended after the freeze and are no part of the snapshot.
func (it *SnapshotIterator) skipFinished() {
	for it.node != nil && !tta.PtrLess(it.cursor, it.chunkEnd(it.node)) {
		atRight := it.node.Val.ChunkID() == it.bounds.Right.ChunkID()
		next := it.node.Next()
		if it.rw {
			it.chunks.ReleaseFrontIfFrozenOnly()
		}
		if atRight {
			it.node = nil
			break
		}
		it.node = next
		if it.node != nil {
			it.cursor = it.node.Val.RangeBegin()
		}
	}
	if it.node == nil {
		it.drained = true
	}
}

// Drained reports whether the snapshot has been fully traversed.
func (it *SnapshotIterator) Drained() bool { return it.drained }

// Value returns the hook-resolved bytes at the iterator's current
// position: the pre-image recorded for the live address there, if the
// mutator has since overwritten or deleted it, else the address unchanged.
// A RW iterator also signals the hook that this position has been
// consumed, letting the retention policy reclaim it early. Calling this
// once Drained is a logic error.
func (it *SnapshotIterator) Value() unsafe.Pointer {
	ttaerr.Invariant(!it.drained, ttaerr.Logic, "SnapshotIterator.Value: drained")
	resolved := it.hook.Resolve(it.cursor)
	if it.rw {
		it.hook.Release(it.cursor)
	}
	return resolved
}

// Next advances to the next address in snapshot order.
func (it *SnapshotIterator) Next() {
	if it.drained {
		return
	}
	it.cursor = tta.PtrAdd(it.cursor, it.chunks.TupleSize())
	it.skipFinished()
}

// Position returns the iterator's current logical position: (chunk id,
// address) if not drained, else the recorded right boundary (one past the
// snapshot's last tuple).
func (it *SnapshotIterator) Position() tta.Position {
	if it.drained {
		return it.bounds.Right
	}
	return tta.NewPosition(it.node.Val.ChunkID(), it.cursor)
}

// Bounds returns the frozen boundaries this iterator was constructed with.
func (it *SnapshotIterator) Bounds() tta.FrozenBoundaries { return it.bounds }

// Visited reports whether addr has already been passed by this iterator —
// addr < Position(), or addr is at or beyond the frozen right boundary.
// This is what IteratorObserver exposes to the hook as its weak
// observation function.
func (it *SnapshotIterator) Visited(addr unsafe.Pointer) bool {
	node, ok := it.chunks.FindGlobal(addr)
	if !ok {
		return false
	}
	pos := tta.NewPosition(node.Val.ChunkID(), addr)
	if !it.bounds.Right.Empty() && !pos.Less(it.bounds.Right) {
		return true
	}
	if it.drained {
		return true
	}
	return pos.Less(it.Position())
}

// Close releases the RW snapshot iterator's uniqueness registration. Safe
// to call more than once, and a no-op on a read-only iterator.
func (it *SnapshotIterator) Close() {
	if !it.registered {
		return
	}
	validate.Unregister(it.chunks.InstanceID)
	it.registered = false
}
