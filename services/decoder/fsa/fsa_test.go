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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFsaVec_Valid(t *testing.T) {
	v, err := NewFsaVec([]int32{3, 2}, [][]Arc{
		{
			{SrcState: 0, DestState: 1, Label: 0, Score: -0.5},
			{SrcState: 1, DestState: 2, Label: -1, Score: 0},
		},
		{
			{SrcState: 0, DestState: 1, Label: -1, Score: 0},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), v.Dim0())
	assert.Equal(t, int32(5), v.NumStates())
	assert.Equal(t, int32(3), v.NumArcs())
	assert.Equal(t, int32(2), v.FinalState(0))
	assert.Equal(t, int32(4), v.FinalState(1))
}

func TestNewFsaVec_EmptyGraph(t *testing.T) {
	v, err := NewFsaVec([]int32{0}, [][]Arc{nil})
	require.NoError(t, err)
	assert.Equal(t, int32(0), v.NumStates())
	assert.Equal(t, int32(-1), v.FinalState(0))
}

func TestNewFsaVec_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		numStates []int32
		arcs      [][]Arc
		wantErr   error
	}{
		{
			"dest out of range",
			[]int32{2}, [][]Arc{{{SrcState: 0, DestState: 5, Label: 0}}},
			ErrArcOutOfRange,
		},
		{
			"arcs out of source order",
			[]int32{3}, [][]Arc{{
				{SrcState: 1, DestState: 2, Label: -1},
				{SrcState: 0, DestState: 1, Label: 0},
			}},
			ErrArcOrder,
		},
		{
			"final state with out-arcs",
			[]int32{2}, [][]Arc{{{SrcState: 1, DestState: 0, Label: 0}}},
			ErrFinalStateArcs,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFsaVec(tt.numStates, tt.arcs)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateLabels(t *testing.T) {
	v, err := NewFsaVec([]int32{2}, [][]Arc{{
		{SrcState: 0, DestState: 0, Label: 3, Score: 0},
		{SrcState: 0, DestState: 1, Label: -1, Score: 0},
	}})
	require.NoError(t, err)

	assert.NoError(t, v.ValidateLabels(5))
	assert.ErrorIs(t, v.ValidateLabels(4), ErrLabelOutOfRange)
	assert.ErrorIs(t, v.ValidateLabels(2), ErrLabelOutOfRange)
}

func TestBestPathScore(t *testing.T) {
	v, err := NewFsaVec([]int32{4}, [][]Arc{{
		{SrcState: 0, DestState: 1, Label: 0, Score: -1},
		{SrcState: 0, DestState: 2, Label: 1, Score: -3},
		{SrcState: 1, DestState: 3, Label: -1, Score: -1},
		{SrcState: 2, DestState: 3, Label: -1, Score: 0},
	}})
	require.NoError(t, err)
	assert.InDelta(t, -2, v.BestPathScore(0), 1e-6)
}

func TestNewDenseFsaVec_Valid(t *testing.T) {
	negInf := NegInf()
	d, err := NewDenseFsaVec([][][]float32{
		{{negInf, 0, 1}, {negInf, 2, 3}, {0, negInf, negInf}},
		{{negInf, 4, 5}, {0, negInf, negInf}},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), d.Dim0())
	assert.Equal(t, int32(3), d.Cols)
	assert.Equal(t, int32(3), d.NumFrames(0))
	assert.Equal(t, int32(2), d.NumFrames(1))
	assert.Equal(t, int32(3), d.MaxFrames())
	assert.Equal(t, int32(9), d.RowStart(1))
	assert.Equal(t, float32(2), d.Score(0, 1, 1))
	assert.Equal(t, float32(5), d.Score(1, 0, 2))
}

func TestNewDenseFsaVec_Invalid(t *testing.T) {
	t.Run("increasing lengths", func(t *testing.T) {
		_, err := NewDenseFsaVec([][][]float32{
			{{0, 0}},
			{{0, 0}, {0, 0}},
		})
		assert.ErrorIs(t, err, ErrUnsortedSequences)
	})

	t.Run("ragged columns", func(t *testing.T) {
		_, err := NewDenseFsaVec([][][]float32{
			{{0, 0}, {0}},
		})
		assert.ErrorIs(t, err, ErrScoresMismatch)
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := NewDenseFsaVec(nil)
		assert.Error(t, err)
	})
}
