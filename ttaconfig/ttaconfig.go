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

// Package ttaconfig loads optional TOML tuning overrides for a table-tuple
// allocator instance: which non-compacting backend to use for auxiliary
// pools, and the hook retention policy. Every field has a default matching
// the hard-coded behavior described by the allocator's design.
package ttaconfig

import (
	"github.com/BurntSushi/toml"
)

// Backend selects the non-compacting chunk strategy used for auxiliary
// pools (the hook's change-store).
type Backend string

const (
	// Eager tracks explicitly-freed slots on an in-chunk free-list stack.
	Eager Backend = "eager"
	// Lazy tracks only a count of freed slots.
	Lazy Backend = "lazy"
)

// RetainPolicy names the TxnPreHook's pre-image retention policy.
type RetainPolicy string

const (
	// RetainNever never proactively drops change entries; thaw() clears
	// them all at once.
	RetainNever RetainPolicy = "never"
	// RetainAlways drops a change entry the instant it's released.
	RetainAlways RetainPolicy = "always"
	// RetainBatched buffers released addresses and drops them in groups
	// of BatchSize.
	RetainBatched RetainPolicy = "batched"
)

// DefaultBatchSize matches the allocator's hard-coded batched-retention
// group size.
const DefaultBatchSize = 16

// Config is the allocator's tunable surface. The zero value is not valid;
// use Default() or Load().
type Config struct {
	// Backend chosen for non-compacting auxiliary pools.
	Backend Backend `toml:"backend"`
	// Retain is the hook's pre-image retention policy.
	Retain RetainPolicy `toml:"retain"`
	// BatchSize is the group size used when Retain == RetainBatched.
	BatchSize int `toml:"batch_size"`
	// ChunkSizes overrides the preferred chunk-size series (bytes,
	// ascending). Empty means use the allocator's built-in series.
	ChunkSizes []int `toml:"chunk_sizes"`
}

// Default returns the allocator's out-of-the-box tuning.
func Default() Config {
	return Config{
		Backend:   Eager,
		Retain:    RetainBatched,
		BatchSize: DefaultBatchSize,
	}
}

// Load parses a TOML document into a Config seeded with Default(), so a
// partial document only overrides the fields it mentions.
func Load(doc string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return cfg, nil
}
