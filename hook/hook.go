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

// Package hook implements TxnPreHook and HookedCompactingChunks: the
// pre-image recording layer that lets a snapshot iterator see a
// consistent point-in-time view of a compacting allocator while the
// mutator thread keeps inserting, updating, and deleting.
package hook

import (
	"unsafe"

	"golang.org/x/exp/maps"

	"github.com/dolthub/dolt/go/store/tta"
	"github.com/dolthub/dolt/go/store/tta/ttaconfig"
	"github.com/dolthub/dolt/go/store/tta/ttaerr"
	"github.com/dolthub/dolt/go/store/tta/ttalog"
)

// ChangeKind distinguishes why a pre-image is being recorded.
type ChangeKind int

const (
	// Update: the tuple at the address is about to be overwritten in
	// place.
	Update ChangeKind = iota
	// Deletion: the tuple at the address is about to be removed; the
	// hole it leaves gets filled by the compacting allocator's mover.
	Deletion
)

// AddStatus is the status returned by TxnPreHook.Add.
type AddStatus int

const (
	// NotFrozen: the hook isn't recording; nothing was done.
	NotFrozen AddStatus = iota
	// Fresh: this is the first change recorded for the address.
	Fresh
	// Existing: a pre-image for the address was already recorded.
	Existing
	// Ignored: the snapshot iterator has already passed this address,
	// so no new recording is needed (an existing entry, if any, is
	// still surfaced).
	Ignored
)

func (s AddStatus) String() string {
	switch s {
	case NotFrozen:
		return "not_frozen"
	case Fresh:
		return "fresh"
	case Existing:
		return "existing"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// AddResult is TxnPreHook.Add's return value.
type AddResult struct {
	Status AddStatus
	// Copy is the address (inside the hook's change store) holding the
	// pre-image, or nil when none is recorded.
	Copy unsafe.Pointer
}

// Observer reports whether addr has already been visited by the active RW
// snapshot iterator. A nil Observer behaves as "nothing visited yet". This
// is the hook's only dependency on the iterator layer, kept as a plain
// function value so hook does not need to import iter; iter imports hook
// instead and supplies the function.
type Observer func(addr unsafe.Pointer) bool

// TxnPreHook records a pre-change image of every mutated tuple while
// recording (i.e. while the owning allocator is frozen), so a snapshot
// iterator started at freeze time keeps seeing the original values
// regardless of subsequent mutation.
type TxnPreHook struct {
	tupleSize   int
	changeStore *tta.NonCompactingChunks
	changes     map[unsafe.Pointer]unsafe.Pointer
	recording   bool
	last        unsafe.Pointer

	retain    ttaconfig.RetainPolicy
	batchSize int
	pending   []unsafe.Pointer

	finalizeCB func(unsafe.Pointer)
}

// NewTxnPreHook constructs a TxnPreHook for tupleSize-byte tuples.
// finalizeCB, if non-nil, is invoked on a change-store copy exactly once,
// just before that copy is dropped (either by thaw, or by Release under
// the given retention policy).
func NewTxnPreHook(tupleSize int, backend tta.ChunkBackend, useEagerChangeStore bool, retain ttaconfig.RetainPolicy, batchSize int, finalizeCB func(unsafe.Pointer)) *TxnPreHook {
	if batchSize <= 0 {
		batchSize = ttaconfig.DefaultBatchSize
	}
	return &TxnPreHook{
		tupleSize:   tupleSize,
		changeStore: tta.NewNonCompactingChunks(tupleSize, backend, useEagerChangeStore),
		changes:     make(map[unsafe.Pointer]unsafe.Pointer),
		retain:      retain,
		batchSize:   batchSize,
		finalizeCB:  finalizeCB,
	}
}

// Recording reports whether the hook is currently capturing pre-images
// (mirrors the owning allocator's frozen state).
func (h *TxnPreHook) Recording() bool { return h.recording }

// Freeze begins recording. Double freeze is a logic error.
func (h *TxnPreHook) Freeze() error {
	if h.recording {
		return ttaerr.New(ttaerr.Logic, "TxnPreHook.Freeze: double freeze")
	}
	h.recording = true
	return nil
}

// Thaw ends recording, finalizing and discarding every recorded change in
// one pass. Double thaw is a logic error.
func (h *TxnPreHook) Thaw() error {
	if !h.recording {
		return ttaerr.New(ttaerr.Logic, "TxnPreHook.Thaw: double thaw")
	}
	keys := maps.Keys(h.changes)
	if h.finalizeCB != nil {
		for _, k := range keys {
			h.finalizeCB(h.changes[k])
		}
	}
	maps.DeleteFunc(h.changes, func(unsafe.Pointer, unsafe.Pointer) bool { return true })
	h.changeStore.Clear()
	h.last = nil
	h.pending = h.pending[:0]
	h.recording = false
	return nil
}

// Copy captures a deep copy of the tuple currently at addr into the
// scratch slot consumed by the next Deletion recorded via Add. Callers
// must call this before overwriting any tuple they intend to delete while
// frozen. A no-op once addr already has a recorded pre-image, and reuses
// the existing scratch slot (rather than allocating a new one) if called
// again before the previous copy is consumed.
func (h *TxnPreHook) Copy(addr unsafe.Pointer) {
	if !h.recording {
		return
	}
	if _, ok := h.changes[addr]; ok {
		return
	}
	if h.last == nil {
		h.last = h.changeStore.Allocate()
	}
	tta.CopyTuple(h.last, addr, h.tupleSize)
}

// update records dst's current bytes as its pre-image, returning the
// change-store address, or nil if dst already has one recorded.
func (h *TxnPreHook) update(dst unsafe.Pointer) unsafe.Pointer {
	if !h.recording {
		return nil
	}
	if _, ok := h.changes[dst]; ok {
		return nil
	}
	c := h.changeStore.Allocate()
	tta.CopyTuple(c, dst, h.tupleSize)
	h.changes[dst] = c
	return c
}

// remove consumes the scratch slot set by a preceding Copy(src) as src's
// pre-image, returning the change-store address, or nil if src already
// has one recorded.
func (h *TxnPreHook) remove(src unsafe.Pointer) unsafe.Pointer {
	if !h.recording {
		return nil
	}
	if _, ok := h.changes[src]; ok {
		return nil
	}
	ttaerr.Invariant(h.last != nil, ttaerr.Logic, "TxnPreHook.remove(%p): no preceding Copy", src)
	val := h.last
	h.changes[src] = val
	h.last = nil
	return val
}

// Add registers a Update or Deletion change for addr. For Deletion, the
// caller must have already called Copy(addr) so the pre-image is ready to
// be consumed. observer, if non-nil, is consulted first: if it reports
// addr already visited by the active snapshot iterator, the call is
// ignored (no new bookkeeping), but any existing pre-image is still
// surfaced.
func (h *TxnPreHook) Add(kind ChangeKind, addr unsafe.Pointer, observer Observer) AddResult {
	if !h.recording {
		return AddResult{Status: NotFrozen}
	}
	if observer != nil && observer(addr) {
		return AddResult{Status: Ignored, Copy: h.changes[addr]}
	}
	var r unsafe.Pointer
	switch kind {
	case Update:
		r = h.update(addr)
	case Deletion:
		r = h.remove(addr)
	default:
		ttaerr.Panic(ttaerr.Logic, "TxnPreHook.Add: unknown change kind %d", kind)
	}
	if r == nil {
		return AddResult{Status: Existing, Copy: h.changes[addr]}
	}
	ttalog.Debugf("tta/hook: add(%v, %p) -> fresh copy=%p", kind, addr, r)
	return AddResult{Status: Fresh, Copy: r}
}

// Resolve maps a snapshot-visible address to the address of its pre-freeze
// bytes, if any has been recorded, else returns addr unchanged.
func (h *TxnPreHook) Resolve(addr unsafe.Pointer) unsafe.Pointer {
	if c, ok := h.changes[addr]; ok {
		return c
	}
	return addr
}

// Release signals that the caller has finished reading the pre-image at
// addr (as observed through Resolve), letting the retention policy decide
// whether to drop its change-store entry now rather than waiting for
// Thaw.
func (h *TxnPreHook) Release(addr unsafe.Pointer) {
	switch h.retain {
	case ttaconfig.RetainNever:
		return
	case ttaconfig.RetainAlways:
		h.dropEntry(addr)
	default: // RetainBatched
		h.pending = append(h.pending, addr)
		if len(h.pending) >= h.batchSize {
			for _, a := range h.pending {
				h.dropEntry(a)
			}
			h.pending = h.pending[:0]
		}
	}
}

// dropEntry finalizes and frees the change-store copy recorded for addr,
// if any, and removes the map entry. Note this operates on the recorded
// copy's address, not addr itself: addr lives in the allocator's own
// storage, not the change store, so freeing it from changeStore would be
// an out-of-range error. Finalizing and freeing addr from live storage is
// the allocator's job, not the hook's.
func (h *TxnPreHook) dropEntry(addr unsafe.Pointer) {
	c, ok := h.changes[addr]
	if !ok {
		return
	}
	if h.finalizeCB != nil {
		h.finalizeCB(c)
	}
	delete(h.changes, addr)
	if err := h.changeStore.Free(c); err != nil {
		ttaerr.Panic(ttaerr.Logic, "TxnPreHook.dropEntry(%p): %v", addr, err)
	}
}

// Len reports the number of currently-recorded pre-images. Exposed for
// tests.
func (h *TxnPreHook) Len() int { return len(h.changes) }
