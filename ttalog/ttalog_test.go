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

package ttalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Debugf("allocate chunk %d", 7)
		Debugw("freeze", "txnID", 42)
	})
}

func TestSetLoggerCapturesLines(t *testing.T) {
	assert := assert.New(t)

	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	defer SetLogger(nil)

	Debugf("free(%v) -> %v", 1, 2)
	assert.Equal(1, logs.Len())
	assert.Contains(logs.All()[0].Message, "free(1) -> 2")
}
