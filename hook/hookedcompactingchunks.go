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

package hook

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/dolthub/dolt/go/store/tta"
	"github.com/dolthub/dolt/go/store/tta/ttaconfig"
	"github.com/dolthub/dolt/go/store/tta/ttaerr"
)

// HookedCompactingChunks binds a CompactingChunks to a TxnPreHook,
// routing every mutation that can affect a frozen snapshot through the
// hook first. The orchestration of freeze()/thaw() with an actual
// snapshot iterator lives in package iter (to avoid an import cycle: the
// iterator needs this type, so this type cannot construct the iterator
// itself) — see iter.Freeze/iter.Thaw. What lives here is the
// mutation-routing surface: allocate/update/remove/clear plus the raw
// freeze/thaw state flip.
type HookedCompactingChunks struct {
	*tta.CompactingChunks
	Hook *TxnPreHook

	observer Observer
}

// New constructs a HookedCompactingChunks for tupleSize-byte tuples.
// finalizeCB is wired into both the CompactingChunks and the TxnPreHook:
// the mover's finalize and the frozen pre-image's finalize are the same
// caller callback.
func New(tupleSize int, backend tta.ChunkBackend, changeStoreEager bool, retain ttaconfig.RetainPolicy, batchSize int, finalizeCB func(unsafe.Pointer)) *HookedCompactingChunks {
	return &HookedCompactingChunks{
		CompactingChunks: tta.NewCompactingChunks(tupleSize, backend, finalizeCB),
		Hook:             NewTxnPreHook(tupleSize, backend, changeStoreEager, retain, batchSize, finalizeCB),
	}
}

// NewFromConfig builds a HookedCompactingChunks from a loaded ttaconfig
// document: the backend choice picks the change-store strategy, the
// retention tuning flows through to the hook, and a chunk-size series
// override (if any) is applied first so both the allocator and the
// change-store pick their chunk sizes from it.
func NewFromConfig(tupleSize int, backend tta.ChunkBackend, cfg ttaconfig.Config, finalizeCB func(unsafe.Pointer)) *HookedCompactingChunks {
	tta.SetPreferredChunkSizes(cfg.ChunkSizes)
	return New(tupleSize, backend, cfg.Backend != ttaconfig.Lazy, cfg.Retain, cfg.BatchSize, finalizeCB)
}

// SetObserver installs the active RW snapshot iterator's observer so
// Update/Remove/RemoveAdd/Clear consult it. ClearObserver removes it
// again (at thaw, or if the iterator is abandoned).
func (h *HookedCompactingChunks) SetObserver(obs Observer) { h.observer = obs }
func (h *HookedCompactingChunks) ClearObserver()           { h.observer = nil }

// Freeze flips both the allocator and the hook into recording mode. Does
// not itself construct a snapshot iterator or touch the observer — see
// iter.Freeze, which does both atop this.
func (h *HookedCompactingChunks) Freeze() error {
	if err := h.CompactingChunks.Freeze(); err != nil {
		return err
	}
	return h.Hook.Freeze()
}

// Thaw flips both the hook and the allocator back out of recording mode.
// The caller (iter.Thaw) must have already fully drained any snapshot
// iterator and cleared the observer.
func (h *HookedCompactingChunks) Thaw() error {
	if err := h.Hook.Thaw(); err != nil {
		return err
	}
	return h.CompactingChunks.Thaw()
}

// Allocate delegates straight through; new tuples are never subject to
// pre-image recording (insertion has no "before" state).
func (h *HookedCompactingChunks) Allocate() unsafe.Pointer {
	return h.CompactingChunks.Allocate()
}

// Update registers dst for an in-place overwrite: if frozen, the hook
// captures dst's current bytes as its pre-image before the caller
// performs the write. The caller must perform the actual write only after
// calling this.
func (h *HookedCompactingChunks) Update(dst unsafe.Pointer) AddResult {
	return h.Hook.Add(Update, dst, h.observer)
}

// Remove deletes the tuple at dst via the single-delete protocol: if
// frozen, captures dst's pre-image first; always finalizes dst (the
// caller's non-inlined-data release for the tuple actually leaving the
// live set); relocates the mover into dst via CompactingChunks.Free
// (which separately finalizes the mover's old address — a caller-provided
// finalize callback must treat that call as a reference-count adjustment,
// not a full release, since the mover's value continues to live on at
// dst); then records the deletion with the hook. Returns the mover's old
// (now stale) address.
func (h *HookedCompactingChunks) Remove(dst unsafe.Pointer) (unsafe.Pointer, error) {
	if h.CompactingChunks.Frozen() {
		h.Hook.Copy(dst)
	}
	h.CompactingChunks.Finalize(dst)
	src, err := h.CompactingChunks.Free(dst)
	if err != nil {
		return nil, err
	}
	h.Hook.Add(Deletion, dst, h.observer)
	return src, nil
}

// Clear empties the allocator. While frozen, every live tuple's pre-image
// is captured and recorded as a Deletion before the allocator's own Clear
// logic finalizes and retires storage.
func (h *HookedCompactingChunks) Clear() error {
	return h.CompactingChunks.Clear(func(addr unsafe.Pointer) {
		if h.CompactingChunks.Frozen() {
			h.Hook.Copy(addr)
			h.Hook.Add(Deletion, addr, h.observer)
		}
	})
}

// RemoveDirect is the lightweight, non-compacting remove from either end.
// It is forbidden from the head while frozen and never touches the hook:
// these addresses are trimmed, not relocated, so there is no "before"
// image a snapshot could need.
func (h *HookedCompactingChunks) RemoveDirect(dir tta.RemoveDirection, ptr unsafe.Pointer) error {
	if h.CompactingChunks.Frozen() && dir == tta.FromHead {
		return ttaerr.New(ttaerr.Logic, "HookedCompactingChunks.RemoveDirect(from_head): forbidden while frozen")
	}
	return h.CompactingChunks.Remove(dir, ptr)
}

// Info reports, for debugging, where addr sits in the allocator: its
// owning chunk and slot offset, the current txn-view bracket, the frozen
// boundaries if any, and whether the hook holds a pre-image for it.
func (h *HookedCompactingChunks) Info(addr unsafe.Pointer) string {
	node, ok := h.CompactingChunks.FindGlobal(addr)
	if !ok {
		return fmt.Sprintf("cannot find address %p", addr)
	}
	chunk := node.Val
	var sb strings.Builder
	fmt.Fprintf(&sb, "address %p found at chunk %d, offset %d",
		addr, chunk.ChunkID(), tta.PtrDiff(addr, chunk.RangeBegin())/h.TupleSize())
	if first := h.TxnLeftNode(); first != nil {
		fmt.Fprintf(&sb, ", txn 1st chunk = %d [%p - %p]",
			first.Val.ChunkID(), first.Val.RangeBegin(), first.Val.RangeNext())
	}
	if last := h.BackNode(); last != nil {
		fmt.Fprintf(&sb, ", last chunk = %d [%p - %p]",
			last.Val.ChunkID(), last.Val.RangeBegin(), last.Val.RangeNext())
	}
	if !h.Frozen() {
		sb.WriteString(", not frozen at the call time")
	} else {
		b := h.FrozenBounds()
		fmt.Fprintf(&sb, ", currently frozen at (%d <%p>, %d <%p>)",
			b.Left.ChunkID(), b.Left.Addr(), b.Right.ChunkID(), b.Right.Addr())
	}
	if c := h.Hook.Resolve(addr); c != addr {
		fmt.Fprintf(&sb, ", pre-image at %p", c)
	}
	return sb.String()
}

// RemoveReserve begins the batch-delete protocol; see
// tta.CompactingChunks.RemoveReserve.
func (h *HookedCompactingChunks) RemoveReserve(n int) error {
	return h.CompactingChunks.RemoveReserve(n)
}

// RemoveAdd names one of the batch-delete's addresses: while frozen its
// pre-image is captured before the base allocator's own bookkeeping (and,
// if set, finalize) run on it, and a Deletion is recorded with the hook
// once that bookkeeping succeeds.
func (h *HookedCompactingChunks) RemoveAdd(addr unsafe.Pointer) (AddResult, error) {
	if h.CompactingChunks.Frozen() {
		h.Hook.Copy(addr)
	}
	if err := h.CompactingChunks.RemoveAdd(addr); err != nil {
		return AddResult{}, err
	}
	return h.Hook.Add(Deletion, addr, h.observer), nil
}

// RemoveForce completes the batch-delete protocol; see
// tta.CompactingChunks.RemoveForce.
func (h *HookedCompactingChunks) RemoveForce(memcpyCB func([]tta.Movement)) (int, error) {
	return h.CompactingChunks.RemoveForce(memcpyCB)
}
