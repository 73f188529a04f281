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
	"sort"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/compute"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// propagateForward expands frame t, prunes against the dynamic-beam
// cutoffs, and builds frame t+1's state set from the surviving arcs'
// destinations.
//
// Description:
//
//	An arc survives when its end score is finite and within the
//	sequence cutoff, except that arcs into the graph's final state are
//	additionally dropped on every frame but the sequence's last (later
//	frames have no emission row to pay for them). Surviving arcs are
//	compactly renumbered; their destinations are sorted and
//	deduplicated per sequence to form the next frame's states, whose
//	forward score is the atomic-max over incoming end scores in the
//	ordered encoding. Finally each surviving arc's dest is rewritten
//	from a graph idx01 to the destination's idx1 in the next frame,
//	and pruned arcs are marked with the sentinel.
//
//	The fully expanded arcs (pruned ones included) are attached to
//	frame t; the backward pass re-judges every arc against the output
//	beam, so forward pruning only has to bound the frontier.
func (it *intersector) propagateForward(ctx context.Context, t int32) (*frameInfo, error) {
	cur := it.frames[t]
	arcs, err := it.getArcs(ctx, t, cur)
	if err != nil {
		return nil, err
	}
	numArcs := len(arcs.Values)

	end := make([]float32, numArcs)
	if err := it.cc.Run(ctx, numArcs, func(i int) {
		end[i] = arcs.Values[i].endLoglike
	}); err != nil {
		return nil, err
	}
	cutoffs, err := it.getPruningCutoffs(arcs.Shape, end)
	if err != nil {
		return nil, err
	}

	negInf := fsa.NegInf()
	arcRowIds := arcs.Shape.RowIds(2)
	stateRowIds := cur.states.Shape.RowIds(1)
	keep := ragged.NewRenumbering(int32(numArcs))
	if err := it.cc.Run(ctx, numArcs, func(i int) {
		ai := &arcs.Values[i]
		seq := stateRowIds[arcRowIds[i]]
		ok := ai.endLoglike > negInf && ai.endLoglike >= cutoffs[seq]
		if ok && t+1 < it.framesFor(seq) && ai.dest == it.graphs.FinalState(it.graphIdx(seq)) {
			ok = false
		}
		if ok {
			keep.Keep[i] = true
		} else {
			ai.dest = destPruned
		}
	}); err != nil {
		return nil, err
	}

	new2old := keep.New2Old()
	numKept := len(new2old)

	// Surviving arcs stay grouped by sequence; carve the compact
	// numbering into per-sequence ranges.
	keptCounts := make([]int32, it.numSeqs)
	keptSeq := make([]int32, numKept)
	for k, old := range new2old {
		seq := stateRowIds[arcRowIds[old]]
		keptSeq[k] = seq
		keptCounts[seq]++
	}
	keptSplits := ragged.ExclusiveSum(keptCounts)

	dests := make([]int32, numKept)
	if err := it.cc.Run(ctx, numKept, func(k int) {
		dests[k] = arcs.Values[new2old[k]].dest
	}); err != nil {
		return nil, err
	}

	// Sort each sequence's surviving destinations and count the
	// distinct ones; the distinct set is the next frame's state set.
	order := make([]int32, numKept)
	for k := range order {
		order[k] = int32(k)
	}
	uniqueCounts := make([]int32, it.numSeqs)
	if err := it.cc.Run(ctx, int(it.numSeqs), func(s int) {
		sub := order[keptSplits[s]:keptSplits[s+1]]
		sort.Slice(sub, func(a, b int) bool { return dests[sub[a]] < dests[sub[b]] })
		var n int32
		for p := range sub {
			if p == 0 || dests[sub[p]] != dests[sub[p-1]] {
				n++
			}
		}
		uniqueCounts[s] = n
	}); err != nil {
		return nil, err
	}
	stateSplits := ragged.ExclusiveSum(uniqueCounts)
	numNext := stateSplits[it.numSeqs]

	nextStates := make([]stateInfo, numNext)
	fwd := make([]uint32, numNext)
	initFwd := ToOrdered(negInf)
	for i := range fwd {
		fwd[i] = initFwd
	}
	destLocal := make([]int32, numKept)
	if err := it.cc.Run(ctx, int(it.numSeqs), func(s int) {
		sub := order[keptSplits[s]:keptSplits[s+1]]
		local := int32(-1)
		for p := range sub {
			if p == 0 || dests[sub[p]] != dests[sub[p-1]] {
				local++
				nextStates[stateSplits[s]+local] = stateInfo{
					aFsasState: dests[sub[p]],
					backward:   negInf,
				}
			}
			destLocal[sub[p]] = local
		}
	}); err != nil {
		return nil, err
	}

	// Merge forward scores: several arcs may share a destination, so
	// this is the decoder's one atomic.
	if err := it.cc.Run(ctx, numKept, func(k int) {
		g := stateSplits[keptSeq[k]] + destLocal[k]
		compute.AtomicMaxUint32(&fwd[g], ToOrdered(end[new2old[k]]))
		arcs.Values[new2old[k]].dest = destLocal[k]
	}); err != nil {
		return nil, err
	}
	if err := it.cc.Run(ctx, int(numNext), func(i int) {
		nextStates[i].forward = fwd[i]
	}); err != nil {
		return nil, err
	}

	cur.arcs = arcs

	shape, err := ragged.NewShape(stateSplits)
	if err != nil {
		return nil, err
	}
	return &frameInfo{states: ragged.Ragged[stateInfo]{Shape: shape, Values: nextStates}}, nil
}
