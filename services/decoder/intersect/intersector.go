// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intersect implements pruned intersection of decoding graphs
// with dense per-frame emission matrices.
//
// The composition runs a Viterbi-style forward pass over time, applies
// a per-sequence dynamic-beam cutoff on every frame, then a backward
// pass that keeps only arcs lying on a path whose forward+backward
// score is within the output beam of the best complete path. The
// surviving arcs are materialised as a lattice with index maps back
// into both inputs.
//
// All per-arc and per-state work is expressed as kernels over the
// compute package's Run primitive; the only shared-write is the
// atomic-max merge of forward scores through the ordered-float codec.
package intersect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/compute"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// Options bounds the search.
//
// SearchBeam is the target margin of the forward-pass dynamic beam;
// OutputBeam the fixed margin of the backward pass. MinActive and
// MaxActive are soft per-sequence bounds on the active-state count,
// enforced by adjusting the dynamic beam frame by frame.
type Options struct {
	SearchBeam float32
	OutputBeam float32
	MinActive  int32
	MaxActive  int32
}

// Validate checks the option preconditions.
func (o Options) Validate() error {
	if !(o.SearchBeam > 0) || !(o.OutputBeam > 0) {
		return fmt.Errorf("search=%v output=%v: %w", o.SearchBeam, o.OutputBeam, ErrInvalidBeam)
	}
	if o.MinActive < 0 || o.MinActive >= o.MaxActive {
		return fmt.Errorf("min=%d max=%d: %w", o.MinActive, o.MaxActive, ErrInvalidActiveBounds)
	}
	return nil
}

// IntersectDensePruned composes a batch of decoding graphs with a
// batch of dense emission matrices, producing a pruned lattice.
//
// Description:
//
//	Sequence s is decoded against graphs graph s, or against the single
//	shared graph when graphs.Dim0() == 1. The result is one lattice
//	per sequence, states numbered in (frame, state-within-frame)
//	order, with arc scores equal to emission plus graph-arc score.
//
// Inputs:
//   - ctx: cancellation context. Must not be nil.
//   - cc: compute context shared by all kernels. Must not be nil.
//   - graphs: decoding graphs; final state last, no final out-arcs.
//   - emissions: per-frame scores, sequences sorted by non-increasing
//     frame count; column 0 is the final symbol.
//   - opts: beams and active-state bounds.
//
// Outputs:
//   - *fsa.FsaVec: the pruned lattices.
//   - []int32: per output arc, the idx012 of its graph arc.
//   - []int32: per output arc, the flat index of its emission score.
//   - error: a precondition sentinel; there is no partial success.
//
// Thread Safety: safe for concurrent calls with distinct inputs.
func IntersectDensePruned(ctx context.Context, cc *compute.Context,
	graphs *fsa.FsaVec, emissions *fsa.DenseFsaVec, opts Options,
) (*fsa.FsaVec, []int32, []int32, error) {
	if err := validateIntersectInputs(ctx, cc, graphs, emissions, opts); err != nil {
		return nil, nil, nil, err
	}

	ctx, span := tracer.Start(ctx, "intersect.IntersectDensePruned",
		trace.WithAttributes(
			attribute.Int("num_graphs", int(graphs.Dim0())),
			attribute.Int("num_seqs", int(emissions.Dim0())),
			attribute.Int("max_frames", int(emissions.MaxFrames())),
		),
	)
	defer span.End()

	start := time.Now()
	it := newIntersector(cc, graphs, emissions, opts)

	if err := it.intersect(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "intersection failed")
		return nil, nil, nil, err
	}
	out, arcMapA, arcMapB, err := it.formatOutput(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "output formatting failed")
		return nil, nil, nil, err
	}

	elapsed := time.Since(start)
	recordDecode(ctx, elapsed.Seconds(), int64(it.maxFrames), int64(len(out.Arcs)), it.sharedGraph)
	span.SetAttributes(
		attribute.Int("lattice_states", int(out.NumStates())),
		attribute.Int("lattice_arcs", int(out.NumArcs())),
		attribute.Int64("duration_us", elapsed.Microseconds()),
	)
	span.SetStatus(codes.Ok, "")

	slog.Debug("pruned intersection complete",
		slog.Int("num_seqs", int(emissions.Dim0())),
		slog.Int("max_frames", int(it.maxFrames)),
		slog.Int("lattice_arcs", len(out.Arcs)),
		slog.Duration("elapsed", elapsed))
	return out, arcMapA, arcMapB, nil
}

// validateIntersectInputs checks every fatal precondition up front, so
// the passes can assume well-formed inputs.
func validateIntersectInputs(ctx context.Context, cc *compute.Context,
	graphs *fsa.FsaVec, emissions *fsa.DenseFsaVec, opts Options,
) error {
	if ctx == nil {
		return fmt.Errorf("ctx: %w", ErrNilInput)
	}
	if cc == nil || graphs == nil || emissions == nil {
		return ErrNilInput
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := emissions.Validate(); err != nil {
		return err
	}
	if d := graphs.Dim0(); d != 1 && d != emissions.Dim0() {
		return fmt.Errorf("%d graphs for %d sequences: %w", d, emissions.Dim0(), ErrGraphMismatch)
	}
	if err := graphs.ValidateLabels(emissions.Cols); err != nil {
		return err
	}
	return nil
}

// intersector owns the per-call state of one intersection: the frames,
// the dynamic beams, and the unpruned/pruned output shapes. Everything
// is released when the call returns.
type intersector struct {
	cc        *compute.Context
	graphs    *fsa.FsaVec
	emissions *fsa.DenseFsaVec
	opts      Options

	numSeqs     int32
	maxFrames   int32 // T: frame count of the longest sequence
	sharedGraph bool

	dynamicBeams []float32
	frames       []*frameInfo

	oshapeUnpruned ragged.Shape
	oshapePruned   ragged.Shape
	renumStates    *ragged.Renumbering
	renumArcs      *ragged.Renumbering
}

func newIntersector(cc *compute.Context, graphs *fsa.FsaVec,
	emissions *fsa.DenseFsaVec, opts Options,
) *intersector {
	numSeqs := emissions.Dim0()
	beams := make([]float32, numSeqs)
	for i := range beams {
		beams[i] = opts.SearchBeam
	}
	return &intersector{
		cc:           cc,
		graphs:       graphs,
		emissions:    emissions,
		opts:         opts,
		numSeqs:      numSeqs,
		maxFrames:    emissions.MaxFrames(),
		sharedGraph:  graphs.Dim0() == 1,
		dynamicBeams: beams,
	}
}

// graphIdx maps a sequence to its decoding graph.
func (it *intersector) graphIdx(seq int32) int32 {
	if it.sharedGraph {
		return 0
	}
	return seq
}

// framesFor returns the frame count of a sequence.
func (it *intersector) framesFor(seq int32) int32 {
	return it.emissions.NumFrames(seq)
}

// intersect runs the forward loop, stacks the per-frame shapes, runs
// the backward loop and subsamples. After it returns, formatOutput can
// materialise the lattice.
func (it *intersector) intersect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "intersect.forwardBackward")
	defer span.End()

	it.frames = make([]*frameInfo, 0, it.maxFrames+2)
	it.frames = append(it.frames, it.initialFrame())

	for t := int32(0); t <= it.maxFrames; t++ {
		next, err := it.propagateForward(ctx, t)
		if err != nil {
			return fmt.Errorf("forward pass at frame %d: %w", t, err)
		}
		it.frames = append(it.frames, next)
	}
	// The frame past the horizon only existed to close out the last
	// real frame's arcs.
	it.frames = it.frames[:it.maxFrames+1]

	if err := it.buildUnprunedShape(); err != nil {
		return fmt.Errorf("stack frame shapes: %w", err)
	}

	for t := it.maxFrames; t >= 0; t-- {
		var next *frameInfo
		if t < it.maxFrames {
			next = it.frames[t+1]
		}
		if err := it.propagateBackward(ctx, t, it.frames[t], next); err != nil {
			return fmt.Errorf("backward pass at frame %d: %w", t, err)
		}
	}

	pruned, err := ragged.SubsampleShape(it.oshapeUnpruned, it.renumStates, it.renumArcs)
	if err != nil {
		return fmt.Errorf("subsample output shape: %w", err)
	}
	it.oshapePruned = pruned

	span.SetAttributes(
		attribute.Int("unpruned_arcs", int(it.oshapeUnpruned.TotSize(3))),
		attribute.Int("pruned_arcs", int(it.oshapePruned.TotSize(3))),
	)
	return nil
}

// initialFrame seeds frame 0 with each sequence's start state at
// forward score zero. A sequence whose graph has no states gets an
// empty sublist.
func (it *intersector) initialFrame() *frameInfo {
	counts := make([]int32, it.numSeqs)
	for s := int32(0); s < it.numSeqs; s++ {
		if it.graphs.Shape.SublistSize(1, it.graphIdx(s)) > 0 {
			counts[s] = 1
		}
	}
	splits := ragged.ExclusiveSum(counts)
	states := make([]stateInfo, splits[it.numSeqs])
	graphSplits := it.graphs.Shape.RowSplits(1)
	negInf := fsa.NegInf()
	for s := int32(0); s < it.numSeqs; s++ {
		if counts[s] == 0 {
			continue
		}
		states[splits[s]] = stateInfo{
			aFsasState: graphSplits[it.graphIdx(s)],
			forward:    ToOrdered(0),
			backward:   negInf,
		}
	}
	shape, _ := ragged.NewShape(splits)
	return &frameInfo{states: ragged.Ragged[stateInfo]{Shape: shape, Values: states}}
}

// buildUnprunedShape stacks the per-frame arc shapes into the 4-axis
// [fsa][t][state][arc] shape and sizes the keep-masks.
func (it *intersector) buildUnprunedShape() error {
	shapes := make([]ragged.Shape, len(it.frames))
	for t, f := range it.frames {
		shapes[t] = f.arcs.Shape
	}
	oshape, err := ragged.Stack(1, shapes)
	if err != nil {
		return err
	}
	it.oshapeUnpruned = oshape
	it.renumStates = ragged.NewRenumbering(oshape.TotSize(2))
	it.renumArcs = ragged.NewRenumbering(oshape.TotSize(3))
	return nil
}
