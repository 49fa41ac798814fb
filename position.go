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

// Position is the pair (chunk id, address) used to mark frozen boundaries.
//
// Comparing two empty positions is forbidden outright rather than given an
// arbitrary total order: Less documents the precondition, and every call
// site here checks Empty() first.
type Position struct {
	chunkID uint64
	addr    unsafe.Pointer
	valid   bool
}

// EmptyPosition is the zero value: no chunk id, no address.
func EmptyPosition() Position { return Position{} }

// NewPosition builds a non-empty position.
func NewPosition(chunkID uint64, addr unsafe.Pointer) Position {
	return Position{chunkID: chunkID, addr: addr, valid: true}
}

// Empty reports whether p carries no chunk/address.
func (p Position) Empty() bool { return !p.valid }

// ChunkID returns the chunk id component. Meaningless if Empty().
func (p Position) ChunkID() uint64 { return p.chunkID }

// Addr returns the address component. Meaningless if Empty().
func (p Position) Addr() unsafe.Pointer { return p.addr }

// Less orders two non-empty positions by rolling chunk id, then by
// address within the chunk. Calling Less with either side Empty() is a
// programming error; it is never done by this package.
func (p Position) Less(o Position) bool {
	if p.chunkID != o.chunkID {
		return LessRolling(p.chunkID, o.chunkID)
	}
	return ptrLess(p.addr, o.addr)
}

// FrozenBoundaries brackets the snapshot view as of the most recent
// freeze(): Left is the first tuple at freeze time, Right is one-past-last.
// Both are EmptyPosition() when the allocator isn't frozen.
type FrozenBoundaries struct {
	Left, Right Position
}
