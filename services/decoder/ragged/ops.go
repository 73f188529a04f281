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

import "fmt"

// RemoveAxis returns the shape with the given axis removed, merging the
// partitions on either side.
//
// Description:
//
//	Removing an interior axis K composes the two adjacent layers: the
//	new row-splits for the merged boundary are
//	splits[K+1][splits[K][i]]. Removing axis 0 drops the first layer;
//	removing the last axis drops the last layer. The elements of the
//	remaining axes keep their order.
//
// Outputs:
//   - Shape: one fewer axis than s.
//   - error: non-nil if s has only 2 axes or axis is out of range.
func RemoveAxis(s Shape, axis int) (Shape, error) {
	n := s.NumAxes()
	if n <= 2 {
		return Shape{}, fmt.Errorf("cannot remove axis from %d-axis shape: %w", n, ErrShapeEmpty)
	}
	if axis < 0 || axis >= n {
		return Shape{}, fmt.Errorf("axis %d of %d-axis shape: %w", axis, n, ErrAxisRange)
	}
	var layers []Layer
	switch {
	case axis == 0:
		layers = cloneLayers(s.layers[1:])
	case axis == n-1:
		layers = cloneLayers(s.layers[:n-2])
	default:
		// Merge layer axis-1 into layer axis.
		outer := s.layers[axis-1].RowSplits
		inner := s.layers[axis].RowSplits
		merged := make([]int32, len(outer))
		for i, o := range outer {
			merged[i] = inner[o]
		}
		layers = make([]Layer, 0, n-2)
		layers = append(layers, cloneLayers(s.layers[:axis-1])...)
		layers = append(layers, Layer{RowSplits: merged, RowIds: RowIdsFromSplits(merged)})
		layers = append(layers, cloneLayers(s.layers[axis+1:])...)
	}
	return Shape{layers: layers}, nil
}

// Stack combines T shapes that agree on dim0 into one shape with a new
// axis inserted at position 1, so [d0, ...] becomes [d0, T, ...].
//
// Description:
//
//	Element i of the result's axis 1 under parent f is shapes[i]'s
//	sublist f; deeper axes are gathered in the new (f, t) order. Only
//	insertion at axis 1 is supported, over 2- or 3-axis inputs; that is
//	the per-frame stacking the decoder needs.
//
// Outputs:
//   - Shape: NumAxes()+1 axes.
//   - error: non-nil if the inputs disagree on dim0 or axis count, or
//     the configuration is unsupported.
func Stack(axis int, shapes []Shape) (Shape, error) {
	if axis != 1 {
		return Shape{}, fmt.Errorf("stack at axis %d: %w", axis, ErrAxisRange)
	}
	if len(shapes) == 0 {
		return Shape{}, ErrStackInput
	}
	numAxes := shapes[0].NumAxes()
	dim0 := shapes[0].Dim0()
	if numAxes != 2 && numAxes != 3 {
		return Shape{}, fmt.Errorf("stack over %d-axis shapes: %w", numAxes, ErrStackInput)
	}
	for _, sh := range shapes {
		if sh.NumAxes() != numAxes || sh.Dim0() != dim0 {
			return Shape{}, ErrStackInput
		}
	}
	T := int32(len(shapes))

	// Axis 1 is regular: every top-level element gains exactly T children.
	splits1 := RegularShape(dim0, T).RowSplits(1)

	// Axis 2: sublist (f, t) is shapes[t]'s sublist f.
	counts2 := make([]int32, dim0*T)
	for f := int32(0); f < dim0; f++ {
		for t := int32(0); t < T; t++ {
			counts2[f*T+t] = shapes[t].SublistSize(1, f)
		}
	}
	splits2 := ExclusiveSum(counts2)
	if numAxes == 2 {
		return NewShape(splits1, splits2)
	}

	// Axis 3: gather the per-element counts of each input's last axis in
	// the new (f, t) order.
	counts3 := make([]int32, splits2[len(splits2)-1])
	pos := int32(0)
	for f := int32(0); f < dim0; f++ {
		for t := int32(0); t < T; t++ {
			sh := shapes[t]
			lo, hi := sh.RowSplits(1)[f], sh.RowSplits(1)[f+1]
			for e := lo; e < hi; e++ {
				counts3[pos] = sh.SublistSize(2, e)
				pos++
			}
		}
	}
	splits3 := ExclusiveSum(counts3)
	return NewShape(splits1, splits2, splits3)
}

func cloneLayers(in []Layer) []Layer {
	out := make([]Layer, len(in))
	copy(out, in)
	return out
}
