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

import "fmt"

// Stats aggregates operation counters for one compacting allocator
// instance. Counters only ever increase; read them as totals since
// construction.
type Stats struct {
	Allocations   uint64
	Frees         uint64
	Relocations   uint64
	BatchRemoved  uint64
	HeadRemoved   uint64
	TailRemoved   uint64
	Freezes       uint64
	Thaws         uint64
	ChunksCreated uint64
	ChunksFreed   uint64
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"allocations: %d, frees: %d, relocations: %d, batchRemoved: %d, headRemoved: %d, tailRemoved: %d, freezes: %d, thaws: %d, chunksCreated: %d, chunksFreed: %d",
		s.Allocations, s.Frees, s.Relocations, s.BatchRemoved, s.HeadRemoved,
		s.TailRemoved, s.Freezes, s.Thaws, s.ChunksCreated, s.ChunksFreed)
}
