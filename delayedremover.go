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

	"golang.org/x/exp/slices"

	"github.com/dolthub/dolt/go/store/tta/ttaerr"
)

// Movement is one (hole, mover) pair surfaced to the batch-delete caller's
// memcpy callback: copy tuple_size bytes from Mover into Hole. Hole is the
// slot of a deleted tuple that survives the storage shed (it sits outside
// the removable region); Mover is a live tuple stranded inside the doomed
// region that must be relocated into that hole before the region's storage
// is released.
type Movement struct {
	Hole  unsafe.Pointer
	Mover unsafe.Pointer
}

// RemovableRegion is the per-chunk bookkeeping for a slice of the batch
// delete's removable region: the last size slot positions of a chunk,
// ending at the chunk's bump pointer. Each mask bit tracks whether that
// position still holds a live tuple that must be relocated out (true) or
// was explicitly named by remove_add and simply dies with the region
// (false).
type RemovableRegion struct {
	chunkID uint64
	begin   unsafe.Pointer
	size    int
	mask    []bool
}

func newRemovableRegion(chunkID uint64, next unsafe.Pointer, tupleSize, n int) *RemovableRegion {
	r := &RemovableRegion{
		chunkID: chunkID,
		begin:   ptrAdd(next, -n*tupleSize),
		size:    n,
		mask:    make([]bool, n),
	}
	for i := range r.mask {
		r.mask[i] = true
	}
	return r
}

func (r *RemovableRegion) addrAt(i, tupleSize int) unsafe.Pointer {
	return ptrAdd(r.begin, i*tupleSize)
}

func (r *RemovableRegion) indexOf(addr unsafe.Pointer, tupleSize int) (int, bool) {
	off := ptrDiff(addr, r.begin)
	if off < 0 || off%tupleSize != 0 {
		return 0, false
	}
	idx := off / tupleSize
	if idx >= r.size {
		return 0, false
	}
	return idx, true
}

// movers lists the region positions whose mask bit is still set, in
// ascending address order: the live tuples that have to be copied out
// before the region's storage goes away.
func (r *RemovableRegion) movers(tupleSize int) []unsafe.Pointer {
	out := make([]unsafe.Pointer, 0, r.size)
	for i, live := range r.mask {
		if live {
			out = append(out, r.addrAt(i, tupleSize))
		}
	}
	return out
}

// DelayedRemover implements the batch-delete protocol: it computes, over
// three phases (Reserve/Add/Force), the exact set of (hole, mover) pairs a
// caller's memcpy callback must apply before the allocator retires the
// reserved storage wholesale.
//
// The removable region is the storage the shed will reclaim: starting at
// the current txn_left chunk and proceeding toward the back, whole chunks
// until the final, possibly partial one, whose region is its last slots
// (ending at its bump pointer) — exactly the slots Force's tail decrement
// gives back. A named address inside the region dies with it; a named
// address outside the region leaves a hole that one of the region's
// unnamed live tuples relocates into. Both sets partition the same n
// remove_add calls, so hole count and mover count are equal by
// construction.
type DelayedRemover struct {
	tupleSize   int
	regionsByID map[uint64]*RemovableRegion
	order       []uint64

	n         int
	count     int
	holes     []unsafe.Pointer
	movements []Movement
	active    bool
}

// Reserve computes the removable region for n tuples, starting at the
// current txn_left and consuming whole or partial chunks toward the back
// until n slot positions are accounted for.
func (d *DelayedRemover) Reserve(cc *CompactingChunks, n int) error {
	if cc.txnLeftNode == nil || n <= 0 || n > cc.allocCount {
		return ttaerr.New(ttaerr.Underflow, "remove_reserve(%d): insufficient live tuples (%d live)", n, cc.allocCount)
	}
	if d.active {
		return ttaerr.New(ttaerr.Logic, "remove_reserve(%d): double reserve", n)
	}

	d.tupleSize = cc.tupleSize
	d.regionsByID = make(map[uint64]*RemovableRegion)
	d.order = nil
	d.n = n
	d.count = 0
	d.holes = nil
	d.movements = nil
	d.active = true

	remaining := n
	node := cc.txnLeftNode
	for remaining > 0 {
		if node == nil {
			return ttaerr.New(ttaerr.Underflow, "remove_reserve(%d): exceeds live region", n)
		}
		chunk := node.Val
		live := ptrDiff(chunk.RangeNext(), chunk.RangeBegin()) / d.tupleSize
		take := remaining
		if take > live {
			take = live
		}
		region := newRemovableRegion(chunk.ChunkID(), chunk.RangeNext(), d.tupleSize, take)
		d.regionsByID[region.chunkID] = region
		d.order = append(d.order, region.chunkID)
		remaining -= take
		node = node.Next()
	}
	return nil
}

// Add names one of the n addresses reserved by Reserve. An address inside
// the removable region has its mask bit cleared (it dies with the region);
// an address outside it is a hole one of the region's remaining live
// tuples will relocate into. finalize is deferred to thaw for addresses
// within the frozen boundaries while the allocator is frozen.
func (d *DelayedRemover) Add(cc *CompactingChunks, addr unsafe.Pointer) error {
	if !d.active {
		return ttaerr.New(ttaerr.Logic, "remove_add called without a matching remove_reserve")
	}
	if d.count >= d.n {
		return ttaerr.New(ttaerr.Overflow, "remove_add: more calls than reserved (%d)", d.n)
	}

	node, ok := cc.findTxnScoped(addr)
	if !ok {
		return ttaerr.New(ttaerr.OutOfRange, "remove_add(%p): invalid address", addr)
	}
	inRegion := false
	if region, has := d.regionsByID[node.Val.ChunkID()]; has {
		if idx, ok := region.indexOf(addr, d.tupleSize); ok {
			ttaerr.Invariant(region.mask[idx], ttaerr.Logic, "remove_add(%p): duplicate address", addr)
			region.mask[idx] = false
			inRegion = true
		}
	}
	if !inRegion {
		d.holes = append(d.holes, addr)
	}

	deferred := cc.frozen && cc.withinFrozenBoundaries(addr)
	if cc.finalizeCB != nil && !deferred {
		cc.finalizeCB(addr)
	}

	d.count++
	if d.count == d.n {
		if err := d.computeMovements(); err != nil {
			return err
		}
	}
	return nil
}

func (d *DelayedRemover) computeMovements() error {
	var movers []unsafe.Pointer
	for _, id := range d.order {
		movers = append(movers, d.regionsByID[id].movers(d.tupleSize)...)
	}
	if len(movers) != len(d.holes) {
		return ttaerr.New(ttaerr.Overflow, "delayed remove: %d movers but %d holes", len(movers), len(d.holes))
	}
	d.movements = make([]Movement, len(d.holes))
	for i := range d.holes {
		d.movements[i] = Movement{Hole: d.holes[i], Mover: movers[i]}
	}
	return nil
}

// Force completes the batch delete: invokes memcpyCB with the computed
// movements, then retires the removable region's storage chunk by chunk —
// every region but the last empties its chunk outright; the last shrinks
// its chunk's tail by the region's size — and decrements the live count by
// n. Returns n.
func (d *DelayedRemover) Force(cc *CompactingChunks, memcpyCB func([]Movement)) (int, error) {
	if !d.active {
		return 0, ttaerr.New(ttaerr.Logic, "remove_force called without remove_reserve/remove_add")
	}
	if d.count != d.n {
		return 0, ttaerr.New(ttaerr.Logic, "remove_force: only %d/%d remove_add calls made", d.count, d.n)
	}
	if memcpyCB != nil {
		memcpyCB(d.movements)
	}

	order := slices.Clone(d.order)
	for i, id := range order {
		node, ok := cc.list.FindByID(id)
		if !ok {
			continue
		}
		chunk := node.Val
		if i < len(order)-1 {
			chunk.setNext(chunk.RangeBegin())
		} else {
			chunk.setNext(ptrAdd(chunk.RangeNext(), -d.regionsByID[id].size*d.tupleSize))
		}
		cc.releasable()
	}

	n := d.n
	cc.allocCount -= n
	d.active = false
	return n, nil
}

// Active reports whether a Reserve/Add sequence is in progress.
func (d *DelayedRemover) Active() bool { return d.active }
