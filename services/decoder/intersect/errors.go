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

import "errors"

// Sentinel errors for decoder preconditions. These are the "fatal"
// class: the intersection either returns the full pruned lattice or
// one of these; there is no partial-success mode.
var (
	ErrInvalidBeam         = errors.New("beams must be positive")
	ErrInvalidActiveBounds = errors.New("need 0 <= min-active < max-active")
	ErrGraphMismatch       = errors.New("graph batch must have 1 graph or one per sequence")
	ErrNilInput            = errors.New("graphs, emissions and compute context must not be nil")
)
