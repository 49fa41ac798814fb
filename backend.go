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

import "sync"

// ChunkBackend is the chunk-memory backend contract: return aligned memory
// of the requested size, and reclaim it when the chunk holding it is
// released. The allocator doesn't care how; it only ever deals with the
// standard heap backend or a pooled one.
type ChunkBackend interface {
	Alloc(size int) []byte
	Free(buf []byte)
}

// HeapBackend allocates directly from the Go heap and leaves reclamation to
// the garbage collector. This is the allocator's default.
type HeapBackend struct{}

func (HeapBackend) Alloc(size int) []byte { return make([]byte, size) }
func (HeapBackend) Free([]byte)           {}

// PooledBackend recycles same-sized buffers through per-size sync.Pools: a
// collaborator external to the allocator that happens to hand out
// same-shaped buffers cheaply.
type PooledBackend struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

// NewPooledBackend returns a ready-to-use pooled backend.
func NewPooledBackend() *PooledBackend {
	return &PooledBackend{pools: make(map[int]*sync.Pool)}
}

func (b *PooledBackend) poolFor(size int) *sync.Pool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pools[size]
	if !ok {
		p = &sync.Pool{New: func() interface{} { return make([]byte, size) }}
		b.pools[size] = p
	}
	return p
}

func (b *PooledBackend) Alloc(size int) []byte {
	buf := b.poolFor(size).Get().([]byte)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

func (b *PooledBackend) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	b.poolFor(len(buf)).Put(buf) //nolint:staticcheck // buf isn't reused by the caller after Free
}
