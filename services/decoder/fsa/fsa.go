// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fsa defines the automata types consumed and produced by the
// decoder: batches of weighted finite-state acceptors (FsaVec) and
// batches of dense per-frame emission matrices (DenseFsaVec).
package fsa

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// FinalLabel is the label of arcs entering a final state.
const FinalLabel int32 = -1

// Sentinel errors for automata construction and validation.
var (
	ErrArcOutOfRange     = errors.New("arc endpoint outside its graph")
	ErrFinalStateArcs    = errors.New("final state must have no outgoing arcs")
	ErrArcOrder          = errors.New("arcs must be grouped by source state")
	ErrLabelOutOfRange   = errors.New("arc label outside emission columns")
	ErrUnsortedSequences = errors.New("sequences must be in non-increasing frame-count order")
	ErrScoresMismatch    = errors.New("score matrix does not cover the sequence frames")
	ErrBadColumns        = errors.New("score matrix needs at least the final-symbol column")
)

// Arc is a weighted labeled transition inside one graph.
//
// SrcState and DestState are state indices local to the owning graph
// (idx1). Label FinalLabel (-1) marks the transition into the final
// state; other labels index emission columns as label+1.
type Arc struct {
	SrcState  int32   `json:"src_state"`
	DestState int32   `json:"dest_state"`
	Label     int32   `json:"label"`
	Score     float32 `json:"score"`
}

// FsaVec is a batch of graphs: a 3-axis ragged tensor [fsa][state][arc]
// whose values are the arcs in source-state order.
//
// Invariant: the last state of each graph is its unique final state and
// has no outgoing arcs.
type FsaVec struct {
	Shape ragged.Shape
	Arcs  []Arc
}

// NewFsaVec builds a batch of graphs from per-graph state counts and
// per-graph arc lists.
//
// Inputs:
//   - numStates: states per graph. A zero entry is an empty graph.
//   - arcs: arcs per graph, grouped by (and non-decreasing in) SrcState.
//
// Outputs:
//   - *FsaVec: validated batch.
//   - error: non-nil on mismatched lengths, out-of-range endpoints,
//     arcs out of source order, or a final state with outgoing arcs.
func NewFsaVec(numStates []int32, arcs [][]Arc) (*FsaVec, error) {
	if len(numStates) != len(arcs) {
		return nil, fmt.Errorf("have %d graphs but %d arc lists", len(numStates), len(arcs))
	}
	stateSplits := ragged.ExclusiveSum(numStates)

	totalStates := stateSplits[len(stateSplits)-1]
	arcCounts := make([]int32, totalStates)
	flat := make([]Arc, 0)
	for f, graphArcs := range arcs {
		n := numStates[f]
		prevSrc := int32(0)
		for _, a := range graphArcs {
			if a.SrcState < 0 || a.SrcState >= n || a.DestState < 0 || a.DestState >= n {
				return nil, fmt.Errorf("graph %d arc %v with %d states: %w", f, a, n, ErrArcOutOfRange)
			}
			if a.SrcState < prevSrc {
				return nil, fmt.Errorf("graph %d arc from state %d after state %d: %w", f, a.SrcState, prevSrc, ErrArcOrder)
			}
			if n > 0 && a.SrcState == n-1 {
				return nil, fmt.Errorf("graph %d: %w", f, ErrFinalStateArcs)
			}
			prevSrc = a.SrcState
			arcCounts[stateSplits[f]+a.SrcState]++
			flat = append(flat, a)
		}
	}
	arcSplits := ragged.ExclusiveSum(arcCounts)

	shape, err := ragged.NewShape(stateSplits, arcSplits)
	if err != nil {
		return nil, fmt.Errorf("build graph shape: %w", err)
	}
	return &FsaVec{Shape: shape, Arcs: flat}, nil
}

// Dim0 returns the number of graphs.
func (v *FsaVec) Dim0() int32 { return v.Shape.Dim0() }

// NumStates returns the total state count over all graphs.
func (v *FsaVec) NumStates() int32 { return v.Shape.TotSize(1) }

// NumArcs returns the total arc count over all graphs.
func (v *FsaVec) NumArcs() int32 { return v.Shape.TotSize(2) }

// FinalState returns the final state of graph f as an idx01 into the
// batch, or -1 if the graph is empty.
func (v *FsaVec) FinalState(f int32) int32 {
	splits := v.Shape.RowSplits(1)
	if splits[f+1] == splits[f] {
		return -1
	}
	return splits[f+1] - 1
}

// ValidateLabels checks that every arc label addresses a column of an
// emission matrix with the given width: 0 <= label+1 < columns.
func (v *FsaVec) ValidateLabels(columns int32) error {
	for i, a := range v.Arcs {
		col := a.Label + 1
		if col < 0 || col >= columns {
			return fmt.Errorf("arc %d label %d with %d emission columns: %w",
				i, a.Label, columns, ErrLabelOutOfRange)
		}
	}
	return nil
}

// BestPathScore returns the maximum total score over complete paths of
// graph f, or -Inf if the final state is unreachable.
//
// Used by tests and diagnostics; the graphs must be acyclic apart from
// self-loops with non-positive scores, which cannot improve a path.
func (v *FsaVec) BestPathScore(f int32) float32 {
	negInf := float32(math.Inf(-1))
	stateSplits := v.Shape.RowSplits(1)
	arcSplits := v.Shape.RowSplits(2)
	lo, hi := stateSplits[f], stateSplits[f+1]
	n := hi - lo
	if n == 0 {
		return negInf
	}
	best := make([]float32, n)
	for i := range best {
		best[i] = negInf
	}
	best[0] = 0
	// Relax in state order; graphs used here are topologically sorted.
	for s := int32(0); s < n; s++ {
		if best[s] == negInf {
			continue
		}
		for ai := arcSplits[lo+s]; ai < arcSplits[lo+s+1]; ai++ {
			a := v.Arcs[ai]
			if sc := best[s] + a.Score; sc > best[a.DestState] && a.DestState != a.SrcState {
				best[a.DestState] = sc
			}
		}
	}
	return best[n-1]
}
