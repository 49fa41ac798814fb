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

package ttaerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/dolt/go/store/tta/d"
)

func TestNewAndIs(t *testing.T) {
	assert := assert.New(t)

	err := New(OutOfRange, "free(%v): not owned", 0xdead)
	assert.True(Is(err, OutOfRange))
	assert.False(Is(err, Logic))
	assert.Contains(err.Error(), "out of range")
}

func TestWrapCause(t *testing.T) {
	assert := assert.New(t)

	cause := New(Underflow, "pop_front on empty list")
	err := Wrap(Overflow, cause, "holes/movers mismatch")
	assert.Equal(cause, err.Cause())
	assert.Same(cause, err.Unwrap())
}

func TestInvariantPanicsAndRecovers(t *testing.T) {
	require := require.New(t)

	recovered := d.Try(func() {
		Invariant(false, Logic, "double freeze")
	})
	require.Error(recovered)

	var te *Error
	require.ErrorAs(d.Unwrap(recovered), &te)
	require.Equal(Logic, te.Kind)
}

func TestInvariantHoldsIsNoop(t *testing.T) {
	assert := assert.New(t)
	assert.NotPanics(func() {
		Invariant(true, Logic, "unreachable")
	})
}

func TestPanicKind(t *testing.T) {
	require := require.New(t)
	recovered := d.Try(func() {
		Panic(Overflow, "count mismatch: %d != %d", 1, 2)
	})
	require.Error(recovered)
	var te *Error
	require.ErrorAs(d.Unwrap(recovered), &te)
	require.Equal(Overflow, te.Kind)
}
