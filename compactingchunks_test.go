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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// tupleSize chosen so ChunkSize(128) == 4096, i.e. exactly 32 tuples per
// chunk, keeping multi-chunk setups small.
const scenarioTupleSize = 128

func allocateN(c *CompactingChunks, n int) []unsafe.Pointer {
	addrs := make([]unsafe.Pointer, n)
	for i := range addrs {
		addrs[i] = c.Allocate()
	}
	return addrs
}

// A single free relocates the last-allocated tuple into the hole.
func TestCompactingChunksFreeRelocatesTail(t *testing.T) {
	require := require.New(t)

	var finalized []unsafe.Pointer
	c := NewCompactingChunks(scenarioTupleSize, nil, func(p unsafe.Pointer) {
		finalized = append(finalized, p)
	})

	addrs := allocateN(c, 5)
	require.Equal(5, c.Size())

	tailBefore := addrs[4]
	hole := addrs[1]
	mover, err := c.Free(hole)
	require.NoError(err)
	require.Equal(tailBefore, mover)
	require.Equal(4, c.Size())
	require.Len(finalized, 1)
	require.Equal(mover, finalized[0])

	// the vacated tail position is no longer allocated.
	_, ok := c.FindTxnScoped(tailBefore)
	require.False(ok)

	// but the relocated hole is now live with the mover's old address gone.
	_, ok = c.FindTxnScoped(hole)
	require.True(ok)
}

// Freeze/thaw preserves the pre-freeze view until thaw, even after new
// allocations and deletes mutate the live (txn) view.
func TestCompactingChunksFreezeThawVisibility(t *testing.T) {
	require := require.New(t)

	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	addrs := allocateN(c, 40) // spans two chunks (32 + 8)

	require.NoError(c.Freeze())
	require.True(c.Frozen())

	frozenFirstChunkID := c.TxnLeftNode().Val.ChunkID()
	bounds := c.FrozenBounds()
	require.False(bounds.Left.Empty())
	require.False(bounds.Right.Empty())

	// mutate the live view after freeze: free several tuples from the front.
	for i := 0; i < 5; i++ {
		_, err := c.Free(addrs[i])
		require.NoError(err)
	}
	require.Equal(35, c.Size())

	// the frozen chunk is still reachable globally even if txn_left moved on.
	_, ok := c.FindGlobal(addrs[0])
	require.True(ok)

	require.NoError(c.Thaw())
	require.False(c.Frozen())
	require.True(c.FrozenBounds().Left.Empty())
	_ = frozenFirstChunkID
}

func TestNewCompactingChunksRejectsOversizedTuple(t *testing.T) {
	require.Panics(t, func() { NewCompactingChunks(MaxTupleSize()+1, nil, nil) })
	require.Panics(t, func() { NewNonCompactingChunks(0, nil, true) })
}

func TestSetPreferredChunkSizesOverride(t *testing.T) {
	require := require.New(t)
	SetPreferredChunkSizes([]int{1024, 2048})
	defer SetPreferredChunkSizes(nil)
	require.Equal(1024, ChunkSize(16))
	require.Equal(2016, ChunkSize(48)) // 2048 truncated to a whole multiple of 48
}

func TestCompactingChunksDoubleFreezeAndThawAreErrors(t *testing.T) {
	require := require.New(t)
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 2)

	require.NoError(c.Freeze())
	require.Error(c.Freeze())
	require.NoError(c.Thaw())
	require.Error(c.Thaw())
}

func stamp(addr unsafe.Pointer, i int) {
	buf := unsafe.Slice((*byte)(addr), scenarioTupleSize)
	for j := range buf {
		buf[j] = 0
	}
	v := i
	for j := len(buf) - 1; j >= 0 && v > 0; j-- {
		buf[j] = byte(v % 255)
		v /= 255
	}
}

func stampValue(addr unsafe.Pointer) string {
	return string(unsafe.Slice((*byte)(addr), scenarioTupleSize))
}

func liveValues(c *CompactingChunks) map[string]int {
	vals := make(map[string]int)
	for n := c.TxnLeftNode(); n != nil; n = n.Next() {
		ch := n.Val
		for a := ch.RangeBegin(); ptrLess(a, ch.RangeNext()); a = ptrAdd(a, scenarioTupleSize) {
			vals[stampValue(a)]++
		}
	}
	return vals
}

// Batch remove across chunk boundaries: first/last 10 of each of 3 full
// 32-tuple chunks (60 names total). The removable region spans
// chunk0 entirely plus the last 28 slots of chunk1; the 24 named addresses
// outside it become holes filled by the region's 24 unnamed live tuples
// before the region's storage is shed.
func TestCompactingChunksBatchRemoveAcrossChunks(t *testing.T) {
	require := require.New(t)

	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	addrs := allocateN(c, 96) // 3 chunks x 32
	require.Equal(3, c.ChunkCount())
	for i, a := range addrs {
		stamp(a, i)
	}

	require.NoError(c.RemoveReserve(60))

	var named []unsafe.Pointer
	removedIdx := make(map[int]bool)
	for chunk := 0; chunk < 3; chunk++ {
		base := chunk * 32
		for i := 0; i < 10; i++ {
			named = append(named, addrs[base+i])
			removedIdx[base+i] = true
		}
		for i := 22; i < 32; i++ {
			named = append(named, addrs[base+i])
			removedIdx[base+i] = true
		}
	}
	require.Len(named, 60)
	for _, a := range named {
		require.NoError(c.RemoveAdd(a))
	}

	var movements []Movement
	n, err := c.RemoveForce(func(m []Movement) {
		movements = append(movements, m...)
		for _, mv := range m {
			copyTuple(mv.Hole, mv.Mover, scenarioTupleSize)
		}
	})
	require.NoError(err)
	require.Equal(60, n)
	require.Len(movements, 24)
	require.Equal(36, c.Size())
	require.Equal(2, c.ChunkCount())

	// Exactly the unnamed tuples survive, each exactly once.
	want := make(map[string]int)
	probe := make([]byte, scenarioTupleSize)
	for i := range addrs {
		if removedIdx[i] {
			continue
		}
		stamp(unsafe.Pointer(&probe[0]), i)
		want[string(probe)]++
	}
	require.Equal(want, liveValues(c))
}

func TestCompactingChunksRemoveAddRejectsUnownedAddress(t *testing.T) {
	require := require.New(t)
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 8)
	require.NoError(c.RemoveReserve(2))
	bogus := make([]byte, scenarioTupleSize)
	require.Error(c.RemoveAdd(unsafe.Pointer(&bogus[0])))
}

func TestCompactingChunksRemoveReserveRejectsOverCapacity(t *testing.T) {
	require := require.New(t)
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 10)
	require.Error(c.RemoveReserve(11))
}

func TestCompactingChunksRemoveAddWithoutReserveFails(t *testing.T) {
	require := require.New(t)
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	addrs := allocateN(c, 4)
	require.Error(c.RemoveAdd(addrs[0]))
}

// Remove-from-head accumulates consecutive front addresses
// across calls, coalescing them only on the nil-terminated call; the
// survivors slide down in place (no relocation, no finalize), and new
// allocations append as usual afterward.
func TestCompactingChunksRemoveFromHeadThenReinsert(t *testing.T) {
	require := require.New(t)

	const n = 2*32 + 20
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	addrs := allocateN(c, n)
	for i, a := range addrs {
		stamp(a, i)
	}

	const cut = 32 + 11 // one whole chunk plus 11 slots of the next
	for i := 0; i < cut; i++ {
		require.NoError(c.Remove(FromHead, addrs[i]))
	}
	require.Equal(n-cut, c.Size()) // allocCount decremented per-call
	require.NoError(c.Remove(FromHead, nil))

	first := c.TxnLeftNode().Val.RangeBegin()
	probe := make([]byte, scenarioTupleSize)
	stamp(unsafe.Pointer(&probe[0]), cut)
	require.Equal(string(probe), stampValue(first))

	more := allocateN(c, 5)
	for i, a := range more {
		stamp(a, n+i)
	}
	require.Equal(n-cut+5, c.Size())

	want := make(map[string]int)
	for i := cut; i < n+5; i++ {
		stamp(unsafe.Pointer(&probe[0]), i)
		want[string(probe)]++
	}
	require.Equal(want, liveValues(c))
}

func TestCompactingChunksRemoveFromHeadForbiddenWhileFrozen(t *testing.T) {
	require := require.New(t)
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 4)
	require.NoError(c.Freeze())
	require.Error(c.Remove(FromHead, unsafe.Pointer(uintptr(1))))
}

func TestCompactingChunksRemoveFromTailValidatesAddress(t *testing.T) {
	require := require.New(t)
	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	addrs := allocateN(c, 4)

	require.Error(c.Remove(FromTail, addrs[0])) // not the tail
	require.NoError(c.Remove(FromTail, addrs[3]))
	require.Equal(3, c.Size())
}

// After a clear under freeze the old chunks are retained for the
// snapshot; the txn view restarts in a fresh chunk appended past them.
func TestCompactingChunksAllocateAfterClearWhileFrozen(t *testing.T) {
	require := require.New(t)

	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 40)
	require.NoError(c.Freeze())
	require.NoError(c.Clear(nil))
	require.Equal(0, c.Size())
	require.Equal(2, c.ChunkCount())

	addr := c.Allocate()
	require.Equal(1, c.Size())
	require.Equal(3, c.ChunkCount())
	require.Equal(c.BackNode(), c.TxnLeftNode())
	_, ok := c.FindTxnScoped(addr)
	require.True(ok)

	require.NoError(c.Thaw())
	require.Equal(1, c.ChunkCount())
	require.Equal(1, c.Size())
}

func TestCompactingChunksStatsCounters(t *testing.T) {
	require := require.New(t)

	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	addrs := allocateN(c, 40)
	_, err := c.Free(addrs[3])
	require.NoError(err)
	require.NoError(c.Remove(FromTail, addrs[39])) // the free shrank chunk 0, not the tail chunk
	require.NoError(c.Freeze())
	require.NoError(c.Thaw())

	s := c.Stats()
	require.Equal(uint64(40), s.Allocations)
	require.Equal(uint64(1), s.Frees)
	require.Equal(uint64(1), s.Relocations)
	require.Equal(uint64(1), s.TailRemoved)
	require.Equal(uint64(1), s.Freezes)
	require.Equal(uint64(1), s.Thaws)
	require.Equal(uint64(2), s.ChunksCreated)
	require.NotEmpty(s.String())
}

func TestCompactingChunksClearRejectsUnfinishedBatch(t *testing.T) {
	require := require.New(t)

	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 10)
	require.NoError(c.RemoveReserve(4))
	require.Error(c.Clear(nil))
}

func TestCompactingChunksClearInvokesCallbackOnEveryLiveTuple(t *testing.T) {
	require := require.New(t)

	c := NewCompactingChunks(scenarioTupleSize, nil, nil)
	allocateN(c, 10)

	var seen int
	require.NoError(c.Clear(func(unsafe.Pointer) { seen++ }))
	require.Equal(10, seen)
	require.Equal(0, c.Size())
	require.True(c.Empty())
}
