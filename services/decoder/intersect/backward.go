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
	"context"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
)

// propagateBackward computes backward scores for frame t's states and
// writes the keep-masks of its states and arcs at their positions
// under the stacked 4-axis output shape.
//
// Description:
//
//	An arc's backward score is its own log-like plus its destination
//	state's backward score on the next frame; arcs pruned during
//	forward get -Inf. An arc is kept when backward plus the source's
//	forward is within the output beam. A final state anchors the
//	recursion with backward = -forward, making forward+backward equal
//	zero on the best complete path; any other state takes the max over
//	its out-arcs. A pruned state's backward is forced to -Inf so a
//	near-boundary score cannot re-animate a disconnected region
//	through later frames.
//
//	next is nil only on the last held frame, whose states are all
//	final and own no arcs.
func (it *intersector) propagateBackward(ctx context.Context, t int32, cur, next *frameInfo) error {
	negInf := fsa.NegInf()
	beam := it.opts.OutputBeam

	unpRS1 := it.oshapeUnpruned.RowSplits(1)
	unpRS2 := it.oshapeUnpruned.RowSplits(2)
	unpRS3 := it.oshapeUnpruned.RowSplits(3)
	statesRS1 := cur.states.Shape.RowSplits(1)
	arcsRS2 := cur.arcs.Shape.RowSplits(2)
	stateRowIds := cur.states.Shape.RowIds(1)
	arcRowIds := cur.arcs.Shape.RowIds(2)

	// Position of frame-local state s under the stacked shape.
	stateUnpIdx := func(s int32) int32 {
		f := stateRowIds[s]
		return unpRS2[unpRS1[f]+t] + (s - statesRS1[f])
	}

	numArcs := len(cur.arcs.Values)
	arcBackward := make([]float32, numArcs)
	if err := it.cc.Run(ctx, numArcs, func(i int) {
		ai := cur.arcs.Values[i]
		src := arcRowIds[i]
		ab := negInf
		if ai.dest != destPruned {
			f := stateRowIds[src]
			destIdx01 := next.states.Shape.RowSplits(1)[f] + ai.dest
			ab = ai.arcLoglike + next.states.Values[destIdx01].backward
		}
		arcBackward[i] = ab

		keep := ab+FromOrdered(cur.states.Values[src].forward) >= -beam
		pos := unpRS3[stateUnpIdx(src)] + (int32(i) - arcsRS2[src])
		it.renumArcs.Keep[pos] = keep
	}); err != nil {
		return err
	}

	numStates := len(cur.states.Values)
	return it.cc.Run(ctx, numStates, func(i int) {
		si := &cur.states.Values[i]
		s := int32(i)
		backward := negInf
		if si.aFsasState == it.graphs.FinalState(it.graphIdx(stateRowIds[s])) {
			backward = -FromOrdered(si.forward)
		} else {
			for j := arcsRS2[s]; j < arcsRS2[s+1]; j++ {
				if arcBackward[j] > backward {
					backward = arcBackward[j]
				}
			}
		}
		keep := backward+FromOrdered(si.forward) >= -beam
		if keep {
			si.backward = backward
		} else {
			si.backward = negInf
		}
		it.renumStates.Keep[stateUnpIdx(s)] = keep
	})
}
