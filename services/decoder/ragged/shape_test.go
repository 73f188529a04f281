// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ragged

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test basic construction and accessors on a 3-axis shape.
func TestNewShape_ThreeAxes(t *testing.T) {
	// 2 fsas; fsa0 has 2 states, fsa1 has 1; arcs per state: 2, 0, 3.
	s, err := NewShape([]int32{0, 2, 3}, []int32{0, 2, 2, 5})
	require.NoError(t, err)

	assert.Equal(t, 3, s.NumAxes())
	assert.Equal(t, int32(2), s.Dim0())
	assert.Equal(t, int32(3), s.TotSize(1))
	assert.Equal(t, int32(5), s.TotSize(2))
	assert.Equal(t, int32(2), s.MaxSize(1))
	assert.Equal(t, int32(3), s.MaxSize(2))
	assert.Equal(t, []int32{0, 0, 1}, s.RowIds(1))
	assert.Equal(t, []int32{0, 0, 2, 2, 2}, s.RowIds(2))
	assert.Equal(t, int32(2), s.SublistSize(1, 0))
	require.NoError(t, s.Validate())
}

func TestNewShape_InvalidRowSplits(t *testing.T) {
	tests := []struct {
		name   string
		splits [][]int32
	}{
		{"empty", [][]int32{{}}},
		{"nonzero start", [][]int32{{1, 2}}},
		{"decreasing", [][]int32{{0, 3, 2}}},
		{"uncovered parent", [][]int32{{0, 2}, {0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShape(tt.splits...)
			assert.ErrorIs(t, err, ErrBadRowSplits)
		})
	}
}

func TestRegularShape(t *testing.T) {
	s := RegularShape(3, 4)
	assert.Equal(t, int32(3), s.Dim0())
	assert.Equal(t, int32(12), s.TotSize(1))
	assert.Equal(t, int32(4), s.MaxSize(1))
	assert.Equal(t, int32(1), s.RowIds(1)[5])
}

func TestComposeShape(t *testing.T) {
	parent, err := NewShape([]int32{0, 1, 3})
	require.NoError(t, err)

	s, err := ComposeShape(parent, []int32{0, 2, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, 3, s.NumAxes())
	assert.Equal(t, int32(4), s.TotSize(2))

	_, err = ComposeShape(parent, []int32{0, 2})
	assert.Error(t, err)
}

func TestExclusiveSum(t *testing.T) {
	assert.Equal(t, []int32{0, 2, 2, 5, 9}, ExclusiveSum([]int32{2, 0, 3, 4}))
	assert.Equal(t, []int32{0}, ExclusiveSum(nil))
}

// Removing the middle axis of [fsa][state][arc] must yield [fsa][arc]
// with the same flat arc ordering.
func TestRemoveAxis_Middle(t *testing.T) {
	s, err := NewShape([]int32{0, 2, 3}, []int32{0, 2, 2, 5})
	require.NoError(t, err)

	flat, err := RemoveAxis(s, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, flat.NumAxes())
	assert.Equal(t, []int32{0, 2, 5}, flat.RowSplits(1))

	_, err = RemoveAxis(flat, 1)
	assert.ErrorIs(t, err, ErrShapeEmpty)
}

func TestRemoveAxis_Ends(t *testing.T) {
	s, err := NewShape([]int32{0, 2, 3}, []int32{0, 2, 2, 5})
	require.NoError(t, err)

	noTop, err := RemoveAxis(s, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), noTop.Dim0())

	noBottom, err := RemoveAxis(s, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), noBottom.Dim0())
	assert.Equal(t, int32(3), noBottom.TotSize(1))
}

// Stacking per-frame [fsa][state][arc] shapes at axis 1 must group by
// (fsa, frame) with frames interleaved under each fsa.
func TestStack_ThreeAxisFrames(t *testing.T) {
	// Frame 0: fsa0 has 1 state with 2 arcs; fsa1 has 1 state, 1 arc.
	f0, err := NewShape([]int32{0, 1, 2}, []int32{0, 2, 3})
	require.NoError(t, err)
	// Frame 1: fsa0 has 2 states (1 and 0 arcs); fsa1 empty.
	f1, err := NewShape([]int32{0, 2, 2}, []int32{0, 1, 1})
	require.NoError(t, err)

	s, err := Stack(1, []Shape{f0, f1})
	require.NoError(t, err)
	require.Equal(t, 4, s.NumAxes())
	assert.Equal(t, int32(2), s.Dim0())
	assert.Equal(t, int32(4), s.TotSize(1))          // 2 fsas x 2 frames
	assert.Equal(t, []int32{0, 2, 4}, s.RowSplits(1))
	// (fsa0,t0)=1 state, (fsa0,t1)=2, (fsa1,t0)=1, (fsa1,t1)=0.
	assert.Equal(t, []int32{0, 1, 3, 4, 4}, s.RowSplits(2))
	// Arc counts in that state order: 2, 1, 0, 1.
	assert.Equal(t, []int32{0, 2, 3, 3, 4}, s.RowSplits(3))
}

func TestStack_Mismatched(t *testing.T) {
	a := RegularShape(2, 3)
	b := RegularShape(3, 3)
	_, err := Stack(1, []Shape{a, b})
	assert.ErrorIs(t, err, ErrStackInput)

	_, err = Stack(0, []Shape{a})
	assert.ErrorIs(t, err, ErrAxisRange)
}

func TestMaxPerSublist(t *testing.T) {
	s, err := NewShape([]int32{0, 2, 2, 5})
	require.NoError(t, err)
	negInf := float32(math.Inf(-1))

	out := MaxPerSublist(s, []float32{1, 3, -2, 7, 0}, negInf)
	require.Len(t, out, 3)
	assert.Equal(t, float32(3), out[0])
	assert.Equal(t, negInf, out[1], "empty sublist yields identity")
	assert.Equal(t, float32(7), out[2])
}

func TestRagged_New(t *testing.T) {
	s, err := NewShape([]int32{0, 2, 3})
	require.NoError(t, err)

	r, err := New(s, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), r.Shape.TotSize(1))

	_, err = New(s, []string{"a"})
	assert.Error(t, err)
}
