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

// Package stringref implements StringRef: a stable indirection object for
// non-inlined variable-length values (over-sized varchars/varbinaries)
// that live in a separately-compacting pool.
package stringref

import (
	"unsafe"

	"github.com/dolthub/dolt/go/store/tta"
	"github.com/dolthub/dolt/go/store/tta/ttaerr"
)

// RelocatablePool is the contract a persistent StringRef's payload is
// allocated from: a pool of variable-size blocks that may relocate a
// block's bytes during compaction, in which case it must rewrite the
// owner's back-pointer in place. ownerSlot is the address of the
// StringRef's own ptr field; the pool never dereferences it except to
// overwrite it with the block's new address. The pool keys a handle table
// by block address rather than holding a raw interior pointer into the
// StringRef, which keeps the ref/pool ownership cycle out of the type
// system.
type RelocatablePool interface {
	// Allocate reserves a block of at least size bytes, copies bytes into
	// it (if non-nil), and registers ownerSlot so that a later relocation
	// rewrites *ownerSlot to the block's new address. Returns the block's
	// current address.
	Allocate(size int, bytes []byte, ownerSlot *unsafe.Pointer) unsafe.Pointer
	// Free releases the block at addr. The pool may relocate another
	// block into the freed storage, in which case that block's owner
	// slot is updated before Free returns.
	Free(addr unsafe.Pointer)
	// Read returns the length-prefixed bytes stored at addr: a 4-byte
	// little-endian length followed by that many bytes.
	Read(addr unsafe.Pointer) []byte
}

// sizeClasses is the pool's preferred block-size series: a handful of
// power-of-two classes, analogous to ChunkHolder's chunk-size series but
// for the payload blocks a StringRef points at rather than for chunks
// themselves. A block's usable size is sizeClass - 4 (the length prefix);
// the largest class is the largest slot the backing chunk allocator
// accepts.
var sizeClasses = []int{32, 64, 128, 256, 512, 1024, 4096, 16384, 65536, 512 << 10}

func classFor(payloadLen int) int {
	need := payloadLen + lengthPrefixSize
	for _, c := range sizeClasses {
		if need <= c {
			return c
		}
	}
	ttaerr.Panic(ttaerr.OutOfRange, "stringref: payload of %d bytes exceeds the largest block class (%d)",
		payloadLen, sizeClasses[len(sizeClasses)-1])
	return 0
}

// SlabPool is the reference RelocatablePool: one size-classed
// tta.CompactingChunks per block size, reusing the core allocator's
// head-compaction relocation protocol for variable-size blobs by
// rounding each blob up to its size class's fixed tuple size. Relocation
// notifications are tracked through a handle table (owners) keyed by
// block address rather than through an interior pointer, so the pool
// never has to know anything about the StringRef layout beyond the one
// back-pointer slot it was given at Allocate time.
type SlabPool struct {
	backend tta.ChunkBackend
	classes map[int]*tta.CompactingChunks
	owners  map[unsafe.Pointer]*unsafe.Pointer
	// classOf tracks which size class owns a live block, so Free can find
	// the right CompactingChunks without scanning every class.
	classOf map[unsafe.Pointer]int
}

// NewSlabPool constructs an empty relocatable pool. A nil backend uses the
// default heap backend, matching tta.NewCompactingChunks.
func NewSlabPool(backend tta.ChunkBackend) *SlabPool {
	return &SlabPool{
		backend: backend,
		classes: make(map[int]*tta.CompactingChunks),
		owners:  make(map[unsafe.Pointer]*unsafe.Pointer),
		classOf: make(map[unsafe.Pointer]int),
	}
}

func (p *SlabPool) chunksFor(class int) *tta.CompactingChunks {
	cc, ok := p.classes[class]
	if !ok {
		cc = tta.NewCompactingChunks(class, p.backend, nil)
		p.classes[class] = cc
	}
	return cc
}

const lengthPrefixSize = 4

func putLength(buf []byte, n int) {
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
}

func getLength(buf []byte) int {
	return int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16 | int(buf[3])<<24
}

// Allocate implements RelocatablePool.
func (p *SlabPool) Allocate(size int, bytes []byte, ownerSlot *unsafe.Pointer) unsafe.Pointer {
	class := classFor(size)
	cc := p.chunksFor(class)
	addr := cc.Allocate()
	buf := unsafe.Slice((*byte)(addr), class)
	putLength(buf, size)
	if bytes != nil {
		copy(buf[lengthPrefixSize:], bytes)
	}
	p.owners[addr] = ownerSlot
	p.classOf[addr] = class
	return addr
}

// Free implements RelocatablePool. Freeing a slab block may relocate
// another live block (the tail of the size class's first txn chunk) into
// the vacated slot; when that happens the relocated block's owner slot is
// rewritten before Free returns, exactly as CompactingChunks.Free
// documents for fixed tuples.
func (p *SlabPool) Free(addr unsafe.Pointer) {
	class, ok := p.classOf[addr]
	ttaerr.Invariant(ok, ttaerr.OutOfRange, "stringref: free(%p): not owned by this pool", addr)
	cc := p.classes[class]
	delete(p.owners, addr)
	delete(p.classOf, addr)
	src, err := cc.Free(addr)
	ttaerr.Invariant(err == nil, ttaerr.OutOfRange, "stringref pool free: %v", err)
	if src == nil || src == addr {
		return
	}
	// The mover's bytes now live at addr; if a StringRef pointed at src,
	// it must now point at addr.
	if slot, moved := p.owners[src]; moved {
		*slot = addr
		delete(p.owners, src)
		delete(p.classOf, src)
		p.owners[addr] = slot
		p.classOf[addr] = class
	}
}

// Read implements RelocatablePool.
func (p *SlabPool) Read(addr unsafe.Pointer) []byte {
	class, ok := p.classOf[addr]
	ttaerr.Invariant(ok, ttaerr.OutOfRange, "stringref: read(%p): not owned by this pool", addr)
	buf := unsafe.Slice((*byte)(addr), class)
	n := getLength(buf)
	return buf[lengthPrefixSize : lengthPrefixSize+n]
}
