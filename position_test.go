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

func TestPositionOrdering(t *testing.T) {
	require := require.New(t)

	buf := make([]byte, 64)
	a := unsafe.Pointer(&buf[0])
	b := unsafe.Pointer(&buf[32])

	sameChunkLow := NewPosition(7, a)
	sameChunkHigh := NewPosition(7, b)
	require.True(sameChunkLow.Less(sameChunkHigh))
	require.False(sameChunkHigh.Less(sameChunkLow))
	require.False(sameChunkLow.Less(sameChunkLow))

	laterChunk := NewPosition(8, a)
	require.True(sameChunkHigh.Less(laterChunk))

	// Chunk ids order with rolling semantics across the wrap boundary.
	preWrap := NewPosition(^uint64(0), b)
	postWrap := NewPosition(0, a)
	require.True(preWrap.Less(postWrap))
	require.False(postWrap.Less(preWrap))
}

func TestPositionEmpty(t *testing.T) {
	require := require.New(t)
	require.True(EmptyPosition().Empty())

	buf := make([]byte, 8)
	require.False(NewPosition(0, unsafe.Pointer(&buf[0])).Empty())
}
