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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/compute"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

var negInf = fsa.NegInf()

func mustFsaVec(t *testing.T, numStates []int32, arcs [][]fsa.Arc) *fsa.FsaVec {
	t.Helper()
	v, err := fsa.NewFsaVec(numStates, arcs)
	require.NoError(t, err)
	return v
}

func mustDense(t *testing.T, seqs [][][]float32) *fsa.DenseFsaVec {
	t.Helper()
	d, err := fsa.NewDenseFsaVec(seqs)
	require.NoError(t, err)
	return d
}

// checkArcMaps verifies that every output arc resolves back to its
// graph arc and emission score: label matches, and the output score is
// the graph score plus the mapped emission entry.
func checkArcMaps(t *testing.T, out *fsa.FsaVec, mapA, mapB []int32, graphs *fsa.FsaVec, emissions *fsa.DenseFsaVec) {
	t.Helper()
	require.Len(t, mapA, len(out.Arcs))
	require.Len(t, mapB, len(out.Arcs))
	for i, a := range out.Arcs {
		ga := graphs.Arcs[mapA[i]]
		assert.Equal(t, ga.Label, a.Label, "arc %d label", i)
		assert.InDelta(t, float64(ga.Score)+float64(emissions.Scores[mapB[i]]), float64(a.Score), 1e-4, "arc %d score", i)
	}
}

// checkNoOrphanStates verifies that every lattice state except a
// sequence's start and final has at least one incident arc.
func checkNoOrphanStates(t *testing.T, out *fsa.FsaVec) {
	t.Helper()
	stateSplits := out.Shape.RowSplits(1)
	arcSplits := out.Shape.RowSplits(2)
	for f := int32(0); f < out.Dim0(); f++ {
		lo, hi := stateSplits[f], stateSplits[f+1]
		n := hi - lo
		incident := make([]int, n)
		for s := lo; s < hi; s++ {
			for ai := arcSplits[s]; ai < arcSplits[s+1]; ai++ {
				incident[s-lo]++
				incident[out.Arcs[ai].DestState]++
			}
		}
		for s := int32(1); s+1 < n; s++ {
			assert.Positive(t, incident[s], "fsa %d state %d has no incident arcs", f, s)
		}
	}
}

// Scenario: one-state acceptor over two symbols, a single 3-frame
// sequence. The lattice is the unique complete path with total score
// zero and known positions in the emission matrix.
func TestIntersect_OneStateAcceptor(t *testing.T) {
	graphs := mustFsaVec(t, []int32{2}, [][]fsa.Arc{{
		{SrcState: 0, DestState: 0, Label: 0, Score: 0},
		{SrcState: 0, DestState: 1, Label: -1, Score: 0},
	}})
	emissions := mustDense(t, [][][]float32{{
		{negInf, 0},
		{negInf, 0},
		{0, negInf},
	}})

	out, mapA, mapB, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
		graphs, emissions, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 100})
	require.NoError(t, err)

	require.Equal(t, int32(1), out.Dim0())
	assert.Equal(t, int32(4), out.NumStates())
	require.Len(t, out.Arcs, 3)

	wantLabels := []int32{0, 0, -1}
	for i, a := range out.Arcs {
		assert.Equal(t, wantLabels[i], a.Label, "arc %d", i)
		assert.Equal(t, int32(i), a.SrcState, "arc %d", i)
		assert.Equal(t, int32(i+1), a.DestState, "arc %d", i)
		assert.InDelta(t, 0, a.Score, 1e-6, "arc %d", i)
	}
	assert.Equal(t, []int32{0, 0, 1}, mapA)
	assert.Equal(t, []int32{1, 3, 4}, mapB)

	assert.InDelta(t, 0, out.BestPathScore(0), 1e-5)
	checkArcMaps(t, out, mapA, mapB, graphs, emissions)
	checkNoOrphanStates(t, out)
}

// Scenario: one shared acceptor of the symbol `a`, two sequences of
// different lengths. Each lattice must span its own sequence length,
// and nothing within the output beam may be lost.
func TestIntersect_SharedGraphTwoSequences(t *testing.T) {
	graphs := mustFsaVec(t, []int32{3}, [][]fsa.Arc{{
		{SrcState: 0, DestState: 1, Label: 0, Score: 0},
		{SrcState: 1, DestState: 1, Label: 0, Score: 0},
		{SrcState: 1, DestState: 2, Label: -1, Score: 0},
	}})
	emissions := mustDense(t, [][][]float32{
		{{negInf, 0}, {negInf, 0}, {0, negInf}},
		{{negInf, 0}, {0, negInf}},
	})

	out, mapA, mapB, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
		graphs, emissions, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 100})
	require.NoError(t, err)

	require.Equal(t, int32(2), out.Dim0())
	stateSplits := out.Shape.RowSplits(1)
	arcSplits := out.Shape.RowSplits(2)

	// Sequence 0 consumes 3 frames: start, two a-states, final.
	assert.Equal(t, int32(4), stateSplits[1]-stateSplits[0])
	assert.Equal(t, int32(3), arcSplits[stateSplits[1]]-arcSplits[stateSplits[0]])
	// Sequence 1 consumes 2 frames.
	assert.Equal(t, int32(3), stateSplits[2]-stateSplits[1])
	assert.Equal(t, int32(2), arcSplits[stateSplits[2]]-arcSplits[stateSplits[1]])

	for f := int32(0); f < 2; f++ {
		assert.InDelta(t, 0, out.BestPathScore(f), 1e-5, "fsa %d", f)
	}
	checkArcMaps(t, out, mapA, mapB, graphs, emissions)
	checkNoOrphanStates(t, out)
}

// wideGraph builds one graph with fanWidth parallel states reachable
// from the start: state 0 branches to every middle state i with score
// -i, each middle state has a free self-loop and a final arc.
func wideGraph(t *testing.T, fanWidth int32) *fsa.FsaVec {
	t.Helper()
	arcs := make([]fsa.Arc, 0, 3*fanWidth)
	final := fanWidth + 1
	for i := int32(1); i <= fanWidth; i++ {
		arcs = append(arcs, fsa.Arc{SrcState: 0, DestState: i, Label: 0, Score: float32(-i)})
	}
	for i := int32(1); i <= fanWidth; i++ {
		arcs = append(arcs,
			fsa.Arc{SrcState: i, DestState: i, Label: 0, Score: 0},
			fsa.Arc{SrcState: i, DestState: final, Label: -1, Score: 0},
		)
	}
	return mustFsaVec(t, []int32{fanWidth + 2}, [][]fsa.Arc{arcs})
}

// uniformEmissions builds one sequence with frames-1 regular rows and
// a trailing final row.
func uniformEmissions(t *testing.T, frames int) *fsa.DenseFsaVec {
	t.Helper()
	rows := make([][]float32, frames)
	for i := 0; i < frames-1; i++ {
		rows[i] = []float32{negInf, 0}
	}
	rows[frames-1] = []float32{0, negInf}
	return mustDense(t, [][][]float32{rows})
}

// Scenario: a graph with 1000 reachable states per frame and a tight
// MaxActive. The dynamic beam must clamp the active set and settle
// strictly below the search beam.
func TestIntersect_MaxActiveClamp(t *testing.T) {
	graphs := wideGraph(t, 1000)
	emissions := uniformEmissions(t, 8)
	opts := Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 10}

	it := newIntersector(compute.NewHostContext(), graphs, emissions, opts)
	require.NoError(t, it.intersect(context.Background()))

	for tt := 5; tt <= int(it.maxFrames); tt++ {
		active := len(it.frames[tt].states.Values)
		assert.LessOrEqual(t, active, 10, "frame %d", tt)
	}
	assert.Less(t, it.dynamicBeams[0], opts.SearchBeam)

	out, _, _, err := it.formatOutput(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -1, out.BestPathScore(0), 1e-5)
}

// Scenario: a narrow search beam prunes to a single active state while
// MinActive demands 50. The dynamic beam must grow past the search
// beam trying to repopulate, and the decode must still succeed.
func TestIntersect_MinActiveFloor(t *testing.T) {
	graphs := wideGraph(t, 1000)
	emissions := uniformEmissions(t, 25)
	opts := Options{SearchBeam: 0.5, OutputBeam: 5, MinActive: 50, MaxActive: 10000}

	it := newIntersector(compute.NewHostContext(), graphs, emissions, opts)
	require.NoError(t, it.intersect(context.Background()))

	assert.Greater(t, it.dynamicBeams[0], opts.SearchBeam)

	out, _, _, err := it.formatOutput(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -1, out.BestPathScore(0), 1e-5)
}

// Scenario: an arc label with no emission column is fatal.
func TestIntersect_LabelOutOfRange(t *testing.T) {
	graphs := mustFsaVec(t, []int32{2}, [][]fsa.Arc{{
		{SrcState: 0, DestState: 0, Label: 2, Score: 0},
		{SrcState: 0, DestState: 1, Label: -1, Score: 0},
	}})
	emissions := uniformEmissions(t, 3)

	_, _, _, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
		graphs, emissions, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 100})
	assert.ErrorIs(t, err, fsa.ErrLabelOutOfRange)
}

// Scenario: rejected option and batch preconditions.
func TestIntersect_Preconditions(t *testing.T) {
	graphs := mustFsaVec(t, []int32{2}, [][]fsa.Arc{{
		{SrcState: 0, DestState: 1, Label: -1, Score: 0},
	}})
	emissions := uniformEmissions(t, 2)

	t.Run("zero output beam", func(t *testing.T) {
		_, _, _, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
			graphs, emissions, Options{SearchBeam: 10, OutputBeam: 0, MinActive: 1, MaxActive: 100})
		assert.ErrorIs(t, err, ErrInvalidBeam)
	})

	t.Run("bad active bounds", func(t *testing.T) {
		_, _, _, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
			graphs, emissions, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 100, MaxActive: 100})
		assert.ErrorIs(t, err, ErrInvalidActiveBounds)
	})

	t.Run("unsorted sequences", func(t *testing.T) {
		// Bypass the constructor to smuggle in increasing lengths.
		shape, err := ragged.NewShape(ragged.ExclusiveSum([]int32{2, 3}))
		require.NoError(t, err)
		bad := &fsa.DenseFsaVec{Shape: shape, Scores: make([]float32, 10), Cols: 2}
		_, _, _, err = IntersectDensePruned(context.Background(), compute.NewHostContext(),
			graphs, bad, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 100})
		assert.ErrorIs(t, err, fsa.ErrUnsortedSequences)
	})

	t.Run("graph count mismatch", func(t *testing.T) {
		two := mustFsaVec(t, []int32{2, 2}, [][]fsa.Arc{
			{{SrcState: 0, DestState: 1, Label: -1, Score: 0}},
			{{SrcState: 0, DestState: 1, Label: -1, Score: 0}},
		})
		three := mustDense(t, [][][]float32{
			{{0, negInf}},
			{{0, negInf}},
			{{0, negInf}},
		})
		_, _, _, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
			two, three, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 100})
		assert.ErrorIs(t, err, ErrGraphMismatch)
	})
}

// A graph with no states yields an empty lattice, not an error.
func TestIntersect_EmptyGraph(t *testing.T) {
	graphs := mustFsaVec(t, []int32{0}, [][]fsa.Arc{nil})
	emissions := uniformEmissions(t, 3)

	out, mapA, mapB, err := IntersectDensePruned(context.Background(), compute.NewHostContext(),
		graphs, emissions, Options{SearchBeam: 10, OutputBeam: 5, MinActive: 1, MaxActive: 100})
	require.NoError(t, err)
	assert.Equal(t, int32(0), out.NumStates())
	assert.Empty(t, out.Arcs)
	assert.Empty(t, mapA)
	assert.Empty(t, mapB)
}

// The parallel kernel path must agree with the serial one; forcing the
// threshold down to one exercises the chunked workers and the atomic
// forward-score merge.
func TestIntersect_ParallelMatchesSerial(t *testing.T) {
	graphs := wideGraph(t, 500)
	emissions := uniformEmissions(t, 10)
	opts := Options{SearchBeam: 30, OutputBeam: 10, MinActive: 1, MaxActive: 200}

	serial, mapAS, mapBS, err := IntersectDensePruned(context.Background(),
		compute.NewHostContext(), graphs, emissions, opts)
	require.NoError(t, err)

	parallel, mapAP, mapBP, err := IntersectDensePruned(context.Background(),
		compute.NewHostContext(compute.WithParallelThreshold(1), compute.WithWorkers(4)),
		graphs, emissions, opts)
	require.NoError(t, err)

	assert.Equal(t, serial.NumStates(), parallel.NumStates())
	assert.Equal(t, serial.Arcs, parallel.Arcs)
	assert.Equal(t, mapAS, mapAP)
	assert.Equal(t, mapBS, mapBP)
}

// The backward invariant: on every surviving state of every frame,
// forward+backward is within the output beam of the best path, and
// never above zero.
func TestIntersect_ForwardBackwardInvariant(t *testing.T) {
	graphs := wideGraph(t, 100)
	emissions := uniformEmissions(t, 6)
	opts := Options{SearchBeam: 20, OutputBeam: 8, MinActive: 1, MaxActive: 1000}

	it := newIntersector(compute.NewHostContext(), graphs, emissions, opts)
	require.NoError(t, it.intersect(context.Background()))

	best := float32(-1) // score of the best complete path in this graph
	for tt := 0; tt <= int(it.maxFrames); tt++ {
		for _, si := range it.frames[tt].states.Values {
			if si.backward == negInf {
				continue // pruned
			}
			total := si.backward + FromOrdered(si.forward)
			assert.LessOrEqual(t, total, float32(1e-4), "frame %d", tt)
			assert.GreaterOrEqual(t, total, -opts.OutputBeam, "frame %d", tt)
		}
	}
	out, _, _, err := it.formatOutput(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, float64(best), float64(out.BestPathScore(0)), 1e-5)
	checkNoOrphanStates(t, out)
}
