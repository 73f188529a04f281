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

	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// getArcs expands the out-arcs of every active state on frame t into a
// 3-axis [fsa][state][arc] ragged tensor whose first two axes are
// exactly cur.states' shape.
//
// For each arc, arcLoglike is the emission score of its label on this
// frame plus the graph-arc score; endLoglike adds the source state's
// forward score; dest holds the destination as a graph idx01, derived
// from the source idx01 plus the within-graph state delta. Labels were
// range-checked on entry, so the emission lookup cannot go out of
// bounds.
func (it *intersector) getArcs(ctx context.Context, t int32, cur *frameInfo) (ragged.Ragged[arcInfo], error) {
	states := cur.states
	numStates := len(states.Values)
	graphArcSplits := it.graphs.Shape.RowSplits(2)

	counts := make([]int32, numStates)
	err := it.cc.Run(ctx, numStates, func(i int) {
		g := states.Values[i].aFsasState
		counts[i] = graphArcSplits[g+1] - graphArcSplits[g]
	})
	if err != nil {
		return ragged.Ragged[arcInfo]{}, err
	}

	arcSplits := ragged.ExclusiveSum(counts)
	shape, err := ragged.ComposeShape(states.Shape, arcSplits)
	if err != nil {
		return ragged.Ragged[arcInfo]{}, fmt.Errorf("compose arc shape: %w", err)
	}

	numArcs := shape.TotSize(2)
	values := make([]arcInfo, numArcs)
	stateRowIds := states.Shape.RowIds(1)
	arcRowIds := shape.RowIds(2)
	embSplits := it.emissions.Shape.RowSplits(1)
	cols := it.emissions.Cols
	scores := it.emissions.Scores

	err = it.cc.Run(ctx, int(numArcs), func(i int) {
		src := arcRowIds[i]
		si := states.Values[src]
		g := si.aFsasState
		graphArc := graphArcSplits[g] + (int32(i) - arcSplits[src])
		arc := it.graphs.Arcs[graphArc]

		seq := stateRowIds[src]
		row := embSplits[seq] + t
		acoustic := scores[row*cols+arc.Label+1]
		arcLL := acoustic + arc.Score
		values[i] = arcInfo{
			aFsasArc:   graphArc,
			arcLoglike: arcLL,
			endLoglike: FromOrdered(si.forward) + arcLL,
			dest:       g + (arc.DestState - arc.SrcState),
		}
	})
	if err != nil {
		return ragged.Ragged[arcInfo]{}, err
	}
	return ragged.Ragged[arcInfo]{Shape: shape, Values: values}, nil
}
