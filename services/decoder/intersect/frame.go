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

import (
	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// destPruned marks an arc whose destination was beamed out during the
// forward pass; the backward pass treats it as unreachable.
const destPruned int32 = -1

// stateInfo is one active decoding state on one frame.
//
// forward is the ordered-uint32 encoding of the best start-to-here
// score, written by atomic max during the forward pass. backward is
// the best here-to-final score, written by the backward pass;
// afterwards backward + FromOrdered(forward) <= 0, with equality on
// the best complete path.
type stateInfo struct {
	aFsasState int32  // idx01 into the decoding graphs
	forward    uint32 // ordered encoding, merged by atomic max
	backward   float32
}

// arcInfo is one expanded transition out of an active state.
//
// dest changes meaning across the arc's life: at expansion it holds
// the destination as an idx01 into the graph states; after the forward
// pass it is the destination's idx1 within the next frame's state
// sublist for the same sequence, or destPruned.
type arcInfo struct {
	aFsasArc   int32 // idx012 into the graph arcs
	arcLoglike float32
	endLoglike float32
	dest       int32
}

// frameInfo holds the active state set of one time step and the arcs
// leaving it. The top two axes of arcs equal states' shape.
type frameInfo struct {
	states ragged.Ragged[stateInfo] // [fsa][state]
	arcs   ragged.Ragged[arcInfo]   // [fsa][state][arc]
}
