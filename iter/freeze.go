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

import "github.com/dolthub/dolt/go/store/tta/hook"

// Freeze begins a snapshot over hcc: freezes both
// the allocator and its hook, constructs the RW snapshot iterator, and
// installs it as the hook's IteratorObserver so in-flight mutations skip
// recording pre-images for addresses the iterator has already streamed
// past. Fails if another RW snapshot iterator is already registered for
// this allocator (at most one is ever permitted).
func Freeze(hcc *hook.HookedCompactingChunks) (*SnapshotIterator, error) {
	if err := hcc.Freeze(); err != nil {
		return nil, err
	}
	it, err := NewSnapshotIterator(hcc.CompactingChunks, hcc.Hook)
	if err != nil {
		_ = hcc.Thaw()
		return nil, err
	}
	obs := NewIteratorObserver(it)
	hcc.SetObserver(obs.Observe)
	return it, nil
}

// Thaw ends the snapshot begun by Freeze. The caller
// must have already fully drained it (or decided to abandon it); Thaw
// clears the observer, releases the iterator's uniqueness registration,
// and thaws the hook and the allocator.
func Thaw(hcc *hook.HookedCompactingChunks, it *SnapshotIterator) error {
	hcc.ClearObserver()
	it.Close()
	return hcc.Thaw()
}
