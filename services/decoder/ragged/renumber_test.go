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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenumbering_Maps(t *testing.T) {
	r := NewRenumbering(5)
	r.Keep[1] = true
	r.Keep[3] = true
	r.Keep[4] = true

	assert.Equal(t, int32(5), r.NumOld())
	assert.Equal(t, int32(3), r.NumNew())
	assert.Equal(t, []int32{1, 3, 4}, r.New2Old())
	assert.Equal(t, []int32{-1, 0, -1, 1, 2}, r.Old2New())
}

func TestRenumbering_NothingKept(t *testing.T) {
	r := NewRenumbering(3)
	assert.Equal(t, int32(0), r.NumNew())
	assert.Empty(t, r.New2Old())
	assert.Equal(t, []int32{-1, -1, -1}, r.Old2New())
}

// Subsampling a 4-axis [fsa][t][state][arc] shape by state and arc
// keep-masks must preserve the nesting and drop exactly the masked
// elements.
func TestSubsampleShape(t *testing.T) {
	// 1 fsa, 2 frames; states per (f,t): 2, 1; arcs per state: 2, 1, 0.
	s, err := NewShape([]int32{0, 2}, []int32{0, 2, 3}, []int32{0, 2, 3, 3})
	require.NoError(t, err)

	states := NewRenumbering(3)
	states.Keep[0] = true
	states.Keep[2] = true
	arcs := NewRenumbering(3)
	arcs.Keep[0] = true
	arcs.Keep[1] = true

	pruned, err := SubsampleShape(s, states, arcs)
	require.NoError(t, err)
	assert.Equal(t, 4, pruned.NumAxes())
	assert.Equal(t, []int32{0, 2}, pruned.RowSplits(1))
	assert.Equal(t, []int32{0, 1, 2}, pruned.RowSplits(2))
	assert.Equal(t, []int32{0, 2, 2}, pruned.RowSplits(3))
	require.NoError(t, pruned.Validate())
}

// A kept arc under a dropped state is a caller bug and must be
// rejected, not silently reparented.
func TestSubsampleShape_ArcUnderDroppedState(t *testing.T) {
	s, err := NewShape([]int32{0, 2}, []int32{0, 2, 3}, []int32{0, 2, 3, 3})
	require.NoError(t, err)

	states := NewRenumbering(3)
	states.Keep[0] = true
	arcs := NewRenumbering(3)
	arcs.Keep[2] = true // belongs to state 1, which is dropped

	_, err = SubsampleShape(s, states, arcs)
	assert.Error(t, err)
}

func TestSubsampleShape_SizeMismatch(t *testing.T) {
	s, err := NewShape([]int32{0, 2}, []int32{0, 2, 3}, []int32{0, 2, 3, 3})
	require.NoError(t, err)

	_, err = SubsampleShape(s, NewRenumbering(2), NewRenumbering(3))
	assert.Error(t, err)
}
