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

	"github.com/google/btree"
)

const chunkListBTreeDegree = 32

// Node is one link of a ChunkList: a chunk plus a forward pointer.
type Node[T Ranged] struct {
	Val  T
	next *Node[T]
}

// Next returns the following node, or nil at the tail.
func (n *Node[T]) Next() *Node[T] { return n.next }

type addrItem[T Ranged] struct {
	begin unsafe.Pointer
	node  *Node[T]
}

type idItem[T Ranged] struct {
	id   uint64
	node *Node[T]
}

// ChunkList is a singly-linked list of chunks with two auxiliary indices,
// by starting address and by chunk id (rolling-ordered), kept in lockstep
// with the list. Both indices are backed by github.com/google/btree,
// giving O(log n) find/insert/delete.
type ChunkList[T Ranged] struct {
	head, tail *Node[T]
	size       int
	byAddr     *btree.BTreeG[addrItem[T]]
	byID       *btree.BTreeG[idItem[T]]
}

// NewChunkList constructs an empty chunk list.
func NewChunkList[T Ranged]() *ChunkList[T] {
	return &ChunkList[T]{
		byAddr: btree.NewG(chunkListBTreeDegree, func(a, b addrItem[T]) bool {
			return ptrLess(a.begin, b.begin)
		}),
		byID: btree.NewG(chunkListBTreeDegree, func(a, b idItem[T]) bool {
			return LessRolling(a.id, b.id)
		}),
	}
}

func (l *ChunkList[T]) Len() int      { return l.size }
func (l *ChunkList[T]) Empty() bool   { return l.size == 0 }
func (l *ChunkList[T]) Front() *Node[T] { return l.head }
func (l *ChunkList[T]) Back() *Node[T]  { return l.tail }

// EmplaceBack constructs a new node at the tail, registers it in both
// indices, and returns it.
func (l *ChunkList[T]) EmplaceBack(val T) *Node[T] {
	n := &Node[T]{Val: val}
	if l.tail == nil {
		l.head = n
	} else {
		l.tail.next = n
	}
	l.tail = n
	l.size++
	l.byAddr.ReplaceOrInsert(addrItem[T]{begin: val.RangeBegin(), node: n})
	l.byID.ReplaceOrInsert(idItem[T]{id: val.ChunkID(), node: n})
	return n
}

// PopFront removes and returns the first chunk, deregistering it from both
// indices.
func (l *ChunkList[T]) PopFront() (T, bool) {
	var zero T
	if l.head == nil {
		return zero, false
	}
	n := l.head
	l.head = n.next
	if l.head == nil {
		l.tail = nil
	}
	l.size--
	l.byAddr.Delete(addrItem[T]{begin: n.Val.RangeBegin()})
	l.byID.Delete(idItem[T]{id: n.Val.ChunkID()})
	return n.Val, true
}

// PopBack removes and returns the last chunk. Because the list is only
// forward-linked, this walks from head to find the new tail — acceptable
// here since pop_back is rare (lightweight remove-from-tail only).
func (l *ChunkList[T]) PopBack() (T, bool) {
	var zero T
	if l.tail == nil {
		return zero, false
	}
	n := l.tail
	if l.head == n {
		l.head, l.tail = nil, nil
	} else {
		prev := l.head
		for prev.next != n {
			prev = prev.next
		}
		prev.next = nil
		l.tail = prev
	}
	l.size--
	l.byAddr.Delete(addrItem[T]{begin: n.Val.RangeBegin()})
	l.byID.Delete(idItem[T]{id: n.Val.ChunkID()})
	return n.Val, true
}

// RemoveIf deregisters every node matching pred, preserving relative order
// of the survivors, and returns the number removed.
func (l *ChunkList[T]) RemoveIf(pred func(T) bool) int {
	removed := 0
	var prev *Node[T]
	n := l.head
	for n != nil {
		next := n.next
		if pred(n.Val) {
			if prev == nil {
				l.head = next
			} else {
				prev.next = next
			}
			if n == l.tail {
				l.tail = prev
			}
			l.byAddr.Delete(addrItem[T]{begin: n.Val.RangeBegin()})
			l.byID.Delete(idItem[T]{id: n.Val.ChunkID()})
			l.size--
			removed++
		} else {
			prev = n
		}
		n = next
	}
	return removed
}

// Floor returns the chunk whose starting address is the greatest one less
// than or equal to addr: an upper-bound lookup stepped back one entry. It
// does not itself verify that addr actually falls
// within that chunk's allocated range; callers apply the txn-scoped or
// global containment check appropriate to their use.
func (l *ChunkList[T]) Floor(addr unsafe.Pointer) (*Node[T], bool) {
	var found *Node[T]
	l.byAddr.DescendLessOrEqual(addrItem[T]{begin: addr}, func(item addrItem[T]) bool {
		found = item.node
		return false
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// FindByID looks up a chunk by exact id.
func (l *ChunkList[T]) FindByID(id uint64) (*Node[T], bool) {
	item, ok := l.byID.Get(idItem[T]{id: id})
	if !ok {
		return nil, false
	}
	return item.node, true
}

// Nodes returns every node from front to back. Used by the batch-delete
// protocol, which needs to walk a contiguous run of chunks; the list
// itself stays forward-linked, this is just a convenience snapshot.
func (l *ChunkList[T]) Nodes() []*Node[T] {
	nodes := make([]*Node[T], 0, l.size)
	for n := l.head; n != nil; n = n.next {
		nodes = append(nodes, n)
	}
	return nodes
}
