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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// formatOutput materialises the pruned lattice and the arc maps.
//
// Description:
//
//	The pruned 4-axis shape loses its time axis, folding (frame,
//	state-within-frame) into one contiguous state numbering per
//	sequence; that numbering is lexicographic in (t, state), so each
//	lattice's start state is first and its final state last. Every
//	surviving arc is resolved back through the renumberings to its
//	frame-level arcInfo: the source and destination become within-fsa
//	state indices, the label and an emission-flat index are recovered
//	from the graph arc, and the score is the arc's emission+graph
//	log-like (not the forward/backward value).
//
// Outputs:
//   - *fsa.FsaVec: lattices, one per sequence.
//   - []int32: arcMapA, per output arc the graph-arc idx012.
//   - []int32: arcMapB, per output arc the flat emission-score index.
//   - error: non-nil only on internal shape inconsistencies.
func (it *intersector) formatOutput(ctx context.Context) (*fsa.FsaVec, []int32, []int32, error) {
	ctx, span := tracer.Start(ctx, "intersect.formatOutput")
	defer span.End()

	ofsaShape, err := ragged.RemoveAxis(it.oshapePruned, 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove time axis")
		return nil, nil, nil, fmt.Errorf("remove time axis: %w", err)
	}

	arcNew2Old := it.renumArcs.New2Old()
	stateOld2New := it.renumStates.Old2New()

	unpRS1 := it.oshapeUnpruned.RowSplits(1)
	unpRS2 := it.oshapeUnpruned.RowSplits(2)
	unpRS3 := it.oshapeUnpruned.RowSplits(3)
	unpIds1 := it.oshapeUnpruned.RowIds(1)
	unpIds2 := it.oshapeUnpruned.RowIds(2)
	unpIds3 := it.oshapeUnpruned.RowIds(3)
	prRS1 := it.oshapePruned.RowSplits(1)
	prRS2 := it.oshapePruned.RowSplits(2)

	embSplits := it.emissions.Shape.RowSplits(1)
	cols := it.emissions.Cols

	numOut := len(arcNew2Old)
	outArcs := make([]fsa.Arc, numOut)
	arcMapA := make([]int32, numOut)
	arcMapB := make([]int32, numOut)

	err = it.cc.Run(ctx, numOut, func(k int) {
		oldArc := arcNew2Old[k]
		oldState := unpIds3[oldArc]
		ft := unpIds2[oldState]
		f := unpIds1[ft]
		t := ft - unpRS1[f]

		frame := it.frames[t]
		stateInFrame := frame.states.Shape.RowSplits(1)[f] + (oldState - unpRS2[ft])
		arcIdx := frame.arcs.Shape.RowSplits(2)[stateInFrame] + (oldArc - unpRS3[oldState])
		ai := frame.arcs.Values[arcIdx]

		// dest lives on frame t+1; its within-fsa offset there is
		// exactly the resolved idx1.
		destOld := unpRS2[unpRS1[f]+t+1] + ai.dest

		offset := prRS2[prRS1[f]]
		label := it.graphs.Arcs[ai.aFsasArc].Label
		outArcs[k] = fsa.Arc{
			SrcState:  stateOld2New[oldState] - offset,
			DestState: stateOld2New[destOld] - offset,
			Label:     label,
			Score:     ai.arcLoglike,
		}
		arcMapA[k] = ai.aFsasArc
		arcMapB[k] = embSplits[f]*cols + t*cols + (label + 1)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve arcs")
		return nil, nil, nil, err
	}

	out := &fsa.FsaVec{Shape: ofsaShape, Arcs: outArcs}
	span.SetAttributes(
		attribute.Int("states", int(ofsaShape.TotSize(1))),
		attribute.Int("arcs", numOut),
	)
	span.SetStatus(codes.Ok, "")
	return out, arcMapA, arcMapB, nil
}
