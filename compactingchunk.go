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

import "unsafe"

// CompactingChunk is a ChunkHolder specialization whose only deletion
// primitive is relocation: freeing a slot always means shrinking the
// chunk's own tail and handing the caller that address back as the
// "mover" source. Holes are never tracked in-chunk; CompactingChunks is
// responsible for copying the mover's bytes into the vacated slot.
type CompactingChunk struct {
	*ChunkHolder
}

func newCompactingChunk(id uint64, tupleSize, chunkSize int, backend ChunkBackend) *CompactingChunk {
	return &CompactingChunk{ChunkHolder: newChunkHolder(id, tupleSize, chunkSize, backend)}
}

// FreeTail shrinks the chunk by one slot and returns the address just
// released — the mover's source address in the single-delete protocol.
func (c *CompactingChunk) FreeTail() unsafe.Pointer {
	c.setNext(ptrAdd(c.RangeNext(), -c.TupleSize()))
	return c.RangeNext()
}
