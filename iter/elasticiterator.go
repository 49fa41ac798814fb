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
	"github.com/dolthub/dolt/go/store/tta/ttaerr"
)

// ElasticIterator is a long-lived, read-only cursor that self-heals after
// arbitrary mutation to the underlying compacting allocator, bounded by a
// right-boundary position recorded the first time the allocator is seen
// non-empty. It never follows inserts made after that point.
type ElasticIterator struct {
	chunks *tta.CompactingChunks
	tag    Tag

	empty       bool
	txnBoundary tta.Position
	chunkID     uint64
	cursor      unsafe.Pointer
}

// NewElasticIterator begins at chunks' current txn_left (or lazily, the
// first tuple the allocator gets once non-empty, if it starts out empty).
func NewElasticIterator(chunks *tta.CompactingChunks, tag Tag) *ElasticIterator {
	it := &ElasticIterator{chunks: chunks, tag: orAll(tag), empty: chunks.Empty()}
	if !it.empty {
		first := chunks.TxnLeftNode()
		it.chunkID = first.Val.ChunkID()
		it.cursor = first.Val.RangeBegin()
		last := chunks.BackNode()
		it.txnBoundary = tta.NewPosition(last.Val.ChunkID(), last.Val.RangeNext())
	}
	return it
}

// refresh re-anchors the cursor against the allocator's current shape:
// first sees if a previously-empty
// allocator now has something; then whether the remembered chunk fell
// behind txn_left; then whether compaction moved the live boundary past
// the cursor within its own chunk.
func (it *ElasticIterator) refresh() {
	if it.empty {
		it.empty = it.chunks.Empty()
		if it.empty {
			return
		}
		first := it.chunks.TxnLeftNode()
		it.chunkID = first.Val.ChunkID()
		it.cursor = first.Val.RangeBegin()
		last := it.chunks.BackNode()
		it.txnBoundary = tta.NewPosition(last.Val.ChunkID(), last.Val.RangeNext())
		return
	}
	if it.cursor == nil {
		return
	}
	if first := it.chunks.TxnLeftNode(); first != nil && tta.LessRolling(it.chunkID, first.Val.ChunkID()) {
		it.chunkID = first.Val.ChunkID()
		it.cursor = first.Val.RangeBegin()
		return
	}
	node, ok := it.chunks.FindChunkByID(it.chunkID)
	if !ok {
		it.cursor = nil
		return
	}
	if node.Val.Contains(it.cursor) {
		return
	}
	next := node.Next()
	if next == nil {
		it.cursor = nil
		return
	}
	pos := tta.NewPosition(next.Val.ChunkID(), next.Val.RangeBegin())
	if !pos.Less(it.txnBoundary) {
		it.cursor = nil
		return
	}
	it.chunkID = next.Val.ChunkID()
	it.cursor = next.Val.RangeBegin()
}

// Drained reports whether the iterator's right boundary has been reached,
// its remembered chunk has fallen off the back of the allocator entirely,
// or it was never initialized (constructed against an allocator that is
// still empty and has stayed empty). Re-anchors first, so an iterator
// constructed before the allocator's first insert picks it up here.
func (it *ElasticIterator) Drained() bool {
	it.refresh()
	if it.cursor == nil {
		return true
	}
	if it.chunks.Empty() {
		it.cursor = nil
		return true
	}
	last := it.chunks.BackNode()
	if tta.LessRolling(last.Val.ChunkID(), it.chunkID) {
		it.cursor = nil
		return true
	}
	if last.Val.ChunkID() == it.chunkID && !tta.PtrLess(it.cursor, last.Val.RangeNext()) {
		it.cursor = nil
		return true
	}
	if pos := tta.NewPosition(it.chunkID, it.cursor); !pos.Less(it.txnBoundary) {
		it.cursor = nil
		return true
	}
	return false
}

// Value re-anchors the cursor and returns the address it currently points
// at. Calling this once Drained is a logic error.
func (it *ElasticIterator) Value() unsafe.Pointer {
	it.refresh()
	ttaerr.Invariant(it.cursor != nil, ttaerr.Logic, "ElasticIterator.Value: drained")
	return it.cursor
}

// Next re-anchors, then advances past the current address to the next one
// for which tag holds, re-anchoring again after each step since a single
// step can cross a chunk boundary that itself needs healing.
func (it *ElasticIterator) Next() {
	it.refresh()
	if it.cursor == nil {
		return
	}
	it.cursor = tta.PtrAdd(it.cursor, it.chunks.TupleSize())
	for !it.Drained() {
		it.refresh()
		if it.cursor == nil || it.tag(it.cursor) {
			return
		}
		it.cursor = tta.PtrAdd(it.cursor, it.chunks.TupleSize())
	}
}

// TxnBoundary returns the right-boundary position recorded when the
// allocator was first observed non-empty.
func (it *ElasticIterator) TxnBoundary() tta.Position { return it.txnBoundary }
