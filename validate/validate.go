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

// Package validate enforces at-most-one RW snapshot iterator per
// allocator, via a process-wide singleton. Allocator instances may live on
// different
// partitions/threads, so the registry is mutex-protected rather than
// relying on single-writer discipline the way the allocator's own state
// does.
package validate

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dolthub/dolt/go/store/tta/ttaerr"
)

var (
	mu     sync.Mutex
	active = map[uuid.UUID]struct{}{}
)

// Register records id as currently owning a live RW snapshot iterator. A
// second Register for the same id before Unregister fails with a Logic
// error.
func Register(id uuid.UUID) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := active[id]; ok {
		return ttaerr.New(ttaerr.Logic, "allocator %s already has a live RW snapshot iterator", id)
	}
	active[id] = struct{}{}
	return nil
}

// Unregister releases id, allowing a future RW snapshot iterator on that
// allocator to register again. Safe to call on an id that was never (or no
// longer) registered — mirrors the destructor-time unregister running
// exactly once regardless of how the iterator reached its end of life.
func Unregister(id uuid.UUID) {
	mu.Lock()
	defer mu.Unlock()
	delete(active, id)
}

// Registered reports whether id currently owns a live RW snapshot
// iterator. Exposed for tests; not needed by the allocator itself.
func Registered(id uuid.UUID) bool {
	mu.Lock()
	defer mu.Unlock()
	_, ok := active[id]
	return ok
}
