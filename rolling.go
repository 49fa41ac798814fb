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

// LessRolling compares two chunk ids tolerating wraparound: a < b iff the
// signed difference a-b is negative. Plain `<` must never be used to order
// chunk ids.
//
// Ids are uint64, so a single allocator would need 2^64 chunk allocations
// before wrapping; the rolling comparison is still used (and tested at the
// wrap boundary) everywhere ids are ordered.
func LessRolling(a, b uint64) bool {
	return int64(a-b) < 0
}
