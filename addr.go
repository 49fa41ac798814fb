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

// Tuple slot addresses are represented as unsafe.Pointer: a chunk's
// storage is a []byte kept alive for the chunk's lifetime, and addresses
// are offsets into it. After
// a relocation or a chunk's release, a previously-returned address is
// stale by design (the allocator never promises address stability across
// those events) — so there's no additional safety to buy by wrapping it in
// an opaque handle type instead.

func ptrAdd(p unsafe.Pointer, n int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + uintptr(n))
}

func ptrDiff(a, b unsafe.Pointer) int {
	return int(uintptr(a) - uintptr(b))
}

func ptrLess(a, b unsafe.Pointer) bool {
	return uintptr(a) < uintptr(b)
}

func copyTuple(dst, src unsafe.Pointer, tupleSize int) {
	if dst == src {
		return
	}
	dstSlice := unsafe.Slice((*byte)(dst), tupleSize)
	srcSlice := unsafe.Slice((*byte)(src), tupleSize)
	copy(dstSlice, srcSlice)
}

// PtrAdd, PtrDiff, PtrLess and CopyTuple are addr.go's pointer-arithmetic
// helpers re-exported for the hook and iter packages, which need the same
// address bookkeeping the core allocator uses but live outside this
// package to avoid an import cycle (hook and iter both depend on tta).
func PtrAdd(p unsafe.Pointer, n int) unsafe.Pointer { return ptrAdd(p, n) }
func PtrDiff(a, b unsafe.Pointer) int               { return ptrDiff(a, b) }
func PtrLess(a, b unsafe.Pointer) bool              { return ptrLess(a, b) }
func CopyTuple(dst, src unsafe.Pointer, tupleSize int) { copyTuple(dst, src, tupleSize) }
