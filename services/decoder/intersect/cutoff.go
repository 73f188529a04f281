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
	"fmt"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// getPruningCutoffs computes this frame's per-sequence score cutoff and
// updates the per-sequence dynamic beams.
//
// Description:
//
//	The cutoff for a sequence is its best arc end-score minus its
//	dynamic beam. The beam is nudged each frame to steer the
//	active-state count into [MinActive, MaxActive]: relaxed toward
//	SearchBeam when inside the band (or the sequence is finished),
//	widened by 1.25x when underpopulated, narrowed by 0.9x when
//	overpopulated. The multiplicative pull toward SearchBeam prevents
//	divergence without any hard bound on the beam itself.
//
// Inputs:
//   - shape: the 3-axis [fsa][state][arc] shape of this frame's arcs.
//   - end: the per-arc end scores, covering shape's last axis.
//
// Outputs:
//   - []float32: one cutoff per sequence. A sequence with no arcs gets
//     best = -Inf, hence cutoff -Inf, and keeps nothing.
func (it *intersector) getPruningCutoffs(shape ragged.Shape, end []float32) ([]float32, error) {
	perSeq, err := ragged.RemoveAxis(shape, 1)
	if err != nil {
		return nil, fmt.Errorf("flatten arc scores: %w", err)
	}
	best := ragged.MaxPerSublist(perSeq, end, fsa.NegInf())

	cutoffs := make([]float32, it.numSeqs)
	for s := int32(0); s < it.numSeqs; s++ {
		active := shape.SublistSize(1, s)
		beam := it.dynamicBeams[s]
		search := it.opts.SearchBeam
		switch {
		case active <= it.opts.MaxActive && (active >= it.opts.MinActive || active == 0):
			beam = 0.8*beam + 0.2*search
		case active <= it.opts.MaxActive:
			// Underpopulated but alive: widen.
			if beam < search {
				beam = search
			}
			beam *= 1.25
		default:
			// Overpopulated: narrow.
			if beam > search {
				beam = search
			}
			beam *= 0.9
		}
		it.dynamicBeams[s] = beam
		cutoffs[s] = best[s] - beam
	}
	return cutoffs, nil
}
