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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/dolt/go/store/tta"
)

func collectSnapshot(it *SnapshotIterator) [][]byte {
	var out [][]byte
	for ; !it.Drained(); it.Next() {
		out = append(out, readTuple(it.Value()))
	}
	return out
}

// The full freeze / mutate / snapshot round trip: a frozen snapshot yields
// the tuple values live at freeze time, in freeze-time order, no matter
// how the txn view is updated, compacted, or grown afterward; the txn view
// meanwhile reflects every mutation immediately.
func TestSnapshotIteratorSeesFreezeTimeView(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	const n = 4 * tuplesPerChunk
	tr := newTracker()
	for i := 0; i < n; i++ {
		addr := h.Allocate()
		writeTuple(addr, gen(i))
		tr.insert(i, addr)
	}

	rw, err := Freeze(h)
	require.NoError(err)

	// Update tuples 100..299 in place, hook first.
	for i := 100; i < 300; i++ {
		addr := tr.loc[i]
		h.Update(addr)
		writeTuple(addr, gen(5000+i))
	}
	// Delete tuples 300..549.
	for i := 300; i < 550; i++ {
		tr.remove(t, h, i)
	}
	// Insert 100 new tuples.
	for i := 0; i < 100; i++ {
		addr := h.Allocate()
		writeTuple(addr, gen(n+i))
		tr.insert(n+i, addr)
	}
	// Delete tuples 600..699.
	for i := 600; i < 700; i++ {
		tr.remove(t, h, i)
	}

	wantSize := n - 250 + 100 - 100
	require.Equal(wantSize, h.Size())

	// The read-only snapshot still yields exactly gen(0..n-1), in order.
	ro := NewReadOnlySnapshotIterator(h.CompactingChunks, h.Hook)
	got := collectSnapshot(ro)
	require.Len(got, n)
	for i, v := range got {
		require.Equal(gen(i), v, "snapshot tuple %d", i)
	}

	// The txn view yields exactly the post-mutation value multiset.
	want := make(map[string]int)
	for i := 0; i < n+100; i++ {
		switch {
		case i >= 300 && i < 550, i >= 600 && i < 700:
			// deleted
		case i >= 100 && i < 300:
			want[string(gen(5000+i))]++
		default:
			want[string(gen(i))]++
		}
	}
	gotTxn := make(map[string]int)
	for _, v := range collectTxn(h, nil) {
		gotTxn[string(v)]++
	}
	require.Equal(want, gotTxn)

	// The RW iterator yields the same snapshot, then thaw restores normal
	// operation.
	rwGot := collectSnapshot(rw)
	require.Len(rwGot, n)
	for i, v := range rwGot {
		require.Equal(gen(i), v, "rw snapshot tuple %d", i)
	}
	require.NoError(Thaw(h, rw))
	require.Equal(wantSize, h.Size())
	require.Equal(0, h.Hook.Len())
}

// Draining the RW snapshot iterator retires chunks that fell behind
// txn_left, without waiting for thaw.
func TestSnapshotIteratorRetiresFrozenOnlyChunks(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	const n = 3 * tuplesPerChunk
	tr := newTracker()
	for i := 0; i < n; i++ {
		addr := h.Allocate()
		writeTuple(addr, gen(i))
		tr.insert(i, addr)
	}
	require.Equal(3, h.ChunkCount())

	rw, err := Freeze(h)
	require.NoError(err)

	// Empty the first chunk; while frozen it is skipped, not popped.
	for i := 0; i < tuplesPerChunk; i++ {
		tr.remove(t, h, i)
	}
	require.Equal(3, h.ChunkCount())

	got := collectSnapshot(rw)
	require.Len(got, n)
	require.Equal(2, h.ChunkCount())

	require.NoError(Thaw(h, rw))
	require.Equal(2*tuplesPerChunk, h.Size())
}

// A read-only iterator constructed mid-stream — after the RW iterator has
// already passed and retired the left-boundary chunk — must not anchor
// itself to the recorded left-boundary address, whose chunk (and storage)
// is gone; it starts at the surviving front chunk instead.
func TestReadOnlySnapshotIteratorAfterBoundaryChunkRetired(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	const n = 3 * tuplesPerChunk
	tr := newTracker()
	for i := 0; i < n; i++ {
		addr := h.Allocate()
		writeTuple(addr, gen(i))
		tr.insert(i, addr)
	}

	rw, err := Freeze(h)
	require.NoError(err)

	// Empty the first chunk so it becomes frozen-only, then stream the RW
	// iterator past it, which retires it and releases its storage.
	for i := 0; i < tuplesPerChunk; i++ {
		tr.remove(t, h, i)
	}
	for i := 0; i < tuplesPerChunk; i++ {
		require.Equal(gen(i), readTuple(rw.Value()))
		rw.Next()
	}
	require.Equal(2, h.ChunkCount())

	// The original left-boundary chunk is gone; a fresh read-only iterator
	// picks up at the surviving front chunk and drains the rest.
	ro := NewReadOnlySnapshotIterator(h.CompactingChunks, h.Hook)
	got := collectSnapshot(ro)
	require.Len(got, n-tuplesPerChunk)
	for i, v := range got {
		require.Equal(gen(tuplesPerChunk+i), v, "snapshot tuple %d", i)
	}

	for !rw.Drained() {
		rw.Next()
	}
	require.NoError(Thaw(h, rw))
}

// Tuples inserted after the freeze stay invisible to the snapshot, even
// when they land in the frozen right-boundary chunk or grow new chunks
// past it.
func TestSnapshotIteratorClampsAtFrozenRightBoundary(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	const n = tuplesPerChunk + 50 // second chunk partially full at freeze
	for i := 0; i < n; i++ {
		writeTuple(h.Allocate(), gen(i))
	}

	rw, err := Freeze(h)
	require.NoError(err)

	for i := 0; i < tuplesPerChunk+100; i++ { // fills chunk 2, opens chunk 3
		writeTuple(h.Allocate(), gen(9000+i))
	}
	require.Equal(3, h.ChunkCount())

	got := collectSnapshot(rw)
	require.Len(got, n)
	for i, v := range got {
		require.Equal(gen(i), v)
	}
	require.NoError(Thaw(h, rw))
}

// Batch delete under freeze: the named tuples' pre-images are recorded,
// the movers' bytes stay intact in the reserved region (its storage is
// retained while frozen), so a snapshot still yields every original value
// exactly once.
func TestSnapshotIteratorSurvivesBatchRemove(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	const n = 3 * tuplesPerChunk
	addrs := make([]unsafe.Pointer, n)
	for i := range addrs {
		addrs[i] = h.Allocate()
		writeTuple(addrs[i], gen(i))
	}

	rw, err := Freeze(h)
	require.NoError(err)

	const batch = tuplesPerChunk + 60
	require.NoError(h.RemoveReserve(batch))
	// Name the first 40 and last 40 of each chunk, plus enough of chunk
	// 0's middle to reach the batch size.
	var named []unsafe.Pointer
	for chunk := 0; chunk < 3; chunk++ {
		base := chunk * tuplesPerChunk
		for i := 0; i < 40; i++ {
			named = append(named, addrs[base+i])
		}
		for i := tuplesPerChunk - 40; i < tuplesPerChunk; i++ {
			named = append(named, addrs[base+i])
		}
	}
	for i := 40; len(named) < batch; i++ {
		named = append(named, addrs[i])
	}
	for _, a := range named {
		_, err := h.RemoveAdd(a)
		require.NoError(err)
	}
	removed, err := h.RemoveForce(func(ms []tta.Movement) {
		for _, m := range ms {
			writeTuple(m.Hole, readTuple(m.Mover))
		}
	})
	require.NoError(err)
	require.Equal(batch, removed)
	require.Equal(n-batch, h.Size())

	got := collectSnapshot(rw)
	require.Len(got, n)
	for i, v := range got {
		require.Equal(gen(i), v, "snapshot tuple %d", i)
	}
	require.NoError(Thaw(h, rw))
	require.Equal(n-batch, h.Size())
}

func TestSecondRWSnapshotIteratorIsRejected(t *testing.T) {
	require := require.New(t)
	h := newHooked()
	writeTuple(h.Allocate(), gen(0))

	rw, err := Freeze(h)
	require.NoError(err)

	_, err = NewSnapshotIterator(h.CompactingChunks, h.Hook)
	require.Error(err)

	// Read-only iterators are unrestricted.
	ro1 := NewReadOnlySnapshotIterator(h.CompactingChunks, h.Hook)
	ro2 := NewReadOnlySnapshotIterator(h.CompactingChunks, h.Hook)
	require.Equal(gen(0), readTuple(ro1.Value()))
	require.Equal(gen(0), readTuple(ro2.Value()))

	require.NoError(Thaw(h, rw))

	// Once released, a new RW iterator may register again.
	rw2, err := Freeze(h)
	require.NoError(err)
	require.NoError(Thaw(h, rw2))
}

func TestFreezeOnEmptyAllocatorYieldsDrainedSnapshot(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	rw, err := Freeze(h)
	require.NoError(err)
	require.True(rw.Drained())
	require.NoError(Thaw(h, rw))
}

// The hook's observer skips pre-image recording for addresses the RW
// iterator has already streamed past.
func TestObserverSuppressesRecordingBehindIterator(t *testing.T) {
	require := require.New(t)
	h := newHooked()

	const n = 2 * tuplesPerChunk
	addrs := make([]unsafe.Pointer, n)
	for i := range addrs {
		addrs[i] = h.Allocate()
		writeTuple(addrs[i], gen(i))
	}

	rw, err := Freeze(h)
	require.NoError(err)

	// Stream past the first chunk.
	for i := 0; i < tuplesPerChunk; i++ {
		require.Equal(gen(i), readTuple(rw.Value()))
		rw.Next()
	}

	// An update behind the iterator needs no pre-image.
	res := h.Update(addrs[10])
	require.Equal(0, h.Hook.Len())
	_ = res

	// An update ahead of it records one.
	h.Update(addrs[tuplesPerChunk+10])
	require.Equal(1, h.Hook.Len())

	for !rw.Drained() {
		rw.Next()
	}
	require.NoError(Thaw(h, rw))
}
