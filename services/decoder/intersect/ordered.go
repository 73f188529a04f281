// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intersect

import "math"

// ToOrdered encodes a float32 as a uint32 whose unsigned ordering
// matches the float ordering: for non-NaN x < y,
// ToOrdered(x) < ToOrdered(y).
//
// Positive floats get the sign bit set; negative floats are flipped
// bitwise, reversing their two's-magnitude order. The encoding lets
// forward-score merges use AtomicMaxUint32 instead of a lock: this is
// the only lock-free primitive the decoder needs.
func ToOrdered(f float32) uint32 {
	b := math.Float32bits(f)
	if b&signBit != 0 {
		return ^b
	}
	return b | signBit
}

// FromOrdered inverts ToOrdered. Round-trips every non-NaN float32
// exactly; NaNs are not required to round-trip.
func FromOrdered(u uint32) float32 {
	if u&signBit != 0 {
		return math.Float32frombits(u &^ signBit)
	}
	return math.Float32frombits(^u)
}

const signBit uint32 = 1 << 31
