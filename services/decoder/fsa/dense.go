// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fsa

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/ragged"
)

// DenseFsaVec is a batch of sequences of per-frame symbol
// log-likelihoods.
//
// Shape has 2 axes [seq][frame]; Scores is the row-major matrix with
// one row per (seq, frame) pair and Cols columns. Column 0 belongs to
// the final symbol (label -1); column k >= 1 belongs to label k-1.
//
// Caller obligations: sequences appear in non-increasing frame-count
// order (checked by Validate), and the last frame of each sequence is a
// final row with only column 0 finite (not checked).
type DenseFsaVec struct {
	Shape  ragged.Shape
	Scores []float32
	Cols   int32
}

// NewDenseFsaVec builds a batch from per-sequence frame matrices.
//
// frames[s][t] is the score row of sequence s at frame t; every row
// must have the same width.
func NewDenseFsaVec(frames [][][]float32) (*DenseFsaVec, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("need at least one sequence: %w", ErrScoresMismatch)
	}
	var cols int32 = -1
	counts := make([]int32, len(frames))
	total := 0
	for s, seq := range frames {
		counts[s] = int32(len(seq))
		total += len(seq)
		for t, row := range seq {
			if cols == -1 {
				cols = int32(len(row))
			}
			if int32(len(row)) != cols {
				return nil, fmt.Errorf("seq %d frame %d has %d columns, want %d: %w",
					s, t, len(row), cols, ErrScoresMismatch)
			}
		}
	}
	if cols < 1 {
		return nil, ErrBadColumns
	}
	scores := make([]float32, 0, total*int(cols))
	for _, seq := range frames {
		for _, row := range seq {
			scores = append(scores, row...)
		}
	}
	shape, err := ragged.NewShape(ragged.ExclusiveSum(counts))
	if err != nil {
		return nil, fmt.Errorf("build sequence shape: %w", err)
	}
	d := &DenseFsaVec{Shape: shape, Scores: scores, Cols: cols}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dim0 returns the number of sequences.
func (d *DenseFsaVec) Dim0() int32 { return d.Shape.Dim0() }

// NumFrames returns the frame count of sequence s.
func (d *DenseFsaVec) NumFrames(s int32) int32 {
	splits := d.Shape.RowSplits(1)
	return splits[s+1] - splits[s]
}

// MaxFrames returns the longest sequence's frame count.
func (d *DenseFsaVec) MaxFrames() int32 { return d.Shape.MaxSize(1) }

// RowStart returns the flat index of the first score of sequence s,
// i.e. the per-sequence offset into Scores.
func (d *DenseFsaVec) RowStart(s int32) int32 {
	return d.Shape.RowSplits(1)[s] * d.Cols
}

// Score returns the log-likelihood of emission column col at frame t of
// sequence s.
func (d *DenseFsaVec) Score(s, t, col int32) float32 {
	row := d.Shape.RowSplits(1)[s] + t
	return d.Scores[row*d.Cols+col]
}

// Validate checks the decoder preconditions on the batch.
//
// Checked here: at least one sequence; a final-symbol column exists;
// the score matrix covers exactly the frames; frame counts are
// non-increasing (required so the set of live sequences per frame is a
// prefix — violations return ErrUnsortedSequences, never a silent
// reorder, since callers pair outputs with inputs by position).
func (d *DenseFsaVec) Validate() error {
	if d.Dim0() < 1 {
		return fmt.Errorf("empty batch: %w", ErrScoresMismatch)
	}
	if d.Cols < 1 {
		return ErrBadColumns
	}
	if int32(len(d.Scores)) != d.Shape.TotSize(1)*d.Cols {
		return fmt.Errorf("have %d scores for %d rows of %d columns: %w",
			len(d.Scores), d.Shape.TotSize(1), d.Cols, ErrScoresMismatch)
	}
	for s := int32(1); s < d.Dim0(); s++ {
		if d.NumFrames(s) > d.NumFrames(s-1) {
			return fmt.Errorf("seq %d has %d frames after seq %d with %d: %w",
				s, d.NumFrames(s), s-1, d.NumFrames(s-1), ErrUnsortedSequences)
		}
	}
	return nil
}

// NegInf is the identity score: log-likelihood of an impossible event.
func NegInf() float32 { return float32(math.Inf(-1)) }
