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

// TxnIterator walks the txn view of a CompactingChunks — from txn_left
// through the last chunk — in chunk-list order, then by ascending address
// within each chunk, skipping any address for which tag returns false. A
// single type serves both read-only and read-write traversal: a caller
// that only reads simply never mutates through the returned address.
type TxnIterator struct {
	chunks *tta.CompactingChunks
	node   *tta.Node[*tta.CompactingChunk]
	cursor unsafe.Pointer
	tag    Tag
}

// NewTxnIterator begins at chunks' current txn_left, honoring tag (nil
// means every address is eligible).
func NewTxnIterator(chunks *tta.CompactingChunks, tag Tag) *TxnIterator {
	it := &TxnIterator{chunks: chunks, node: chunks.TxnLeftNode(), tag: orAll(tag)}
	if it.node != nil {
		it.cursor = it.node.Val.RangeBegin()
	}
	it.skipToTagged()
	return it
}

func (it *TxnIterator) skipToTagged() {
	for it.node != nil {
		if !tta.PtrLess(it.cursor, it.node.Val.RangeNext()) {
			it.node = it.node.Next()
			if it.node != nil {
				it.cursor = it.node.Val.RangeBegin()
			}
			continue
		}
		if it.tag(it.cursor) {
			return
		}
		it.cursor = tta.PtrAdd(it.cursor, it.chunks.TupleSize())
	}
}

// Drained reports whether the txn view has been fully traversed.
func (it *TxnIterator) Drained() bool { return it.node == nil }

// Value returns the address the iterator currently points at. Calling
// this once Drained is a logic error.
func (it *TxnIterator) Value() unsafe.Pointer {
	ttaerr.Invariant(it.node != nil, ttaerr.Logic, "TxnIterator.Value: drained")
	return it.cursor
}

// Next advances past the current address to the next tagged one.
func (it *TxnIterator) Next() {
	if it.node == nil {
		return
	}
	it.cursor = tta.PtrAdd(it.cursor, it.chunks.TupleSize())
	it.skipToTagged()
}

// Position returns the iterator's current (chunk id, address) pair, used
// for position_type-style comparisons. Calling this once Drained is a
// logic error.
func (it *TxnIterator) Position() tta.Position {
	ttaerr.Invariant(it.node != nil, ttaerr.Logic, "TxnIterator.Position: drained")
	return tta.NewPosition(it.node.Val.ChunkID(), it.cursor)
}
