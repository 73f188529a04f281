// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ragged implements multi-axis jagged tensors.
//
// A ragged tensor generalises a rectangular array to one whose sublists
// have varying lengths. Each axis boundary is described by a Layer: a
// row-splits array (exclusive prefix sums, one entry per parent element
// plus one) and its inverse row-ids array (one entry per child element,
// naming the parent it belongs to).
//
// Index-space conventions follow the decoder: an idxK is a local index
// into axis K, an idx0..K is a flat global index jointly addressing axes
// 0 through K.
//
// # Thread Safety
//
// Shapes are immutable after construction and safe for concurrent reads.
// Ragged values are plain slices; callers coordinate writes.
package ragged

import (
	"errors"
	"fmt"
)

// Sentinel errors for shape construction and manipulation.
var (
	ErrBadRowSplits = errors.New("row-splits must start at 0 and be non-decreasing")
	ErrAxisRange    = errors.New("axis out of range")
	ErrShapeEmpty   = errors.New("shape must have at least 2 axes")
	ErrStackInput   = errors.New("stacked shapes must agree on axes and dim0")
)

// Layer describes one axis boundary of a ragged shape.
//
// RowSplits has one entry per parent element plus a trailing total;
// RowIds has one entry per child element and is the exact inverse:
// RowIds[j] == i iff RowSplits[i] <= j < RowSplits[i+1].
type Layer struct {
	RowSplits []int32
	RowIds    []int32
}

// Shape is a multi-axis jagged shape.
//
// A Shape with N axes holds N-1 layers. Axis 0 has Dim0() elements;
// axis K (K >= 1) has TotSize(K) elements partitioned among the
// elements of axis K-1 by layer K-1.
type Shape struct {
	layers []Layer
}

// NewShape builds a shape from per-axis row-splits arrays, validating
// each and deriving the row-ids.
//
// rowSplits[k] partitions axis k+1 among the elements of axis k, so a
// 3-axis shape takes two arrays. The first array determines Dim0.
func NewShape(rowSplits ...[]int32) (Shape, error) {
	if len(rowSplits) == 0 {
		return Shape{}, ErrShapeEmpty
	}
	layers := make([]Layer, len(rowSplits))
	for k, splits := range rowSplits {
		if err := validateRowSplits(splits); err != nil {
			return Shape{}, fmt.Errorf("axis %d: %w", k+1, err)
		}
		if k > 0 {
			parentTot := layers[k-1].RowSplits[len(layers[k-1].RowSplits)-1]
			if int32(len(splits))-1 != parentTot {
				return Shape{}, fmt.Errorf("axis %d: row-splits length %d does not cover %d parent elements: %w",
					k+1, len(splits), parentTot, ErrBadRowSplits)
			}
		}
		layers[k] = Layer{RowSplits: splits, RowIds: RowIdsFromSplits(splits)}
	}
	return Shape{layers: layers}, nil
}

// RegularShape returns a 2-axis shape with dim0 sublists of m elements each.
func RegularShape(dim0, m int32) Shape {
	splits := make([]int32, dim0+1)
	for i := int32(0); i <= dim0; i++ {
		splits[i] = i * m
	}
	return Shape{layers: []Layer{{RowSplits: splits, RowIds: RowIdsFromSplits(splits)}}}
}

// ComposeShape appends one more axis to parent, partitioning the new
// child elements among the elements of parent's last axis.
//
// childSplits must have parent.TotSize(parent.NumAxes()-1)+1 entries.
func ComposeShape(parent Shape, childSplits []int32) (Shape, error) {
	if err := validateRowSplits(childSplits); err != nil {
		return Shape{}, err
	}
	last := parent.TotSize(parent.NumAxes() - 1)
	if int32(len(childSplits))-1 != last {
		return Shape{}, fmt.Errorf("child row-splits cover %d elements, parent last axis has %d: %w",
			len(childSplits)-1, last, ErrBadRowSplits)
	}
	layers := make([]Layer, len(parent.layers)+1)
	copy(layers, parent.layers)
	layers[len(parent.layers)] = Layer{RowSplits: childSplits, RowIds: RowIdsFromSplits(childSplits)}
	return Shape{layers: layers}, nil
}

// NumAxes returns the number of axes (layers plus one).
func (s Shape) NumAxes() int { return len(s.layers) + 1 }

// Dim0 returns the number of elements on axis 0.
func (s Shape) Dim0() int32 {
	if len(s.layers) == 0 {
		return 0
	}
	return int32(len(s.layers[0].RowSplits) - 1)
}

// TotSize returns the total number of elements on the given axis.
func (s Shape) TotSize(axis int) int32 {
	if axis == 0 {
		return s.Dim0()
	}
	splits := s.layers[axis-1].RowSplits
	return splits[len(splits)-1]
}

// RowSplits returns the row-splits array bounding axis `axis`
// (axis in 1..NumAxes-1). The slice is shared, not copied.
func (s Shape) RowSplits(axis int) []int32 { return s.layers[axis-1].RowSplits }

// RowIds returns the row-ids array for axis `axis`, the inverse of
// RowSplits(axis). The slice is shared, not copied.
func (s Shape) RowIds(axis int) []int32 { return s.layers[axis-1].RowIds }

// MaxSize returns the length of the longest sublist on the given axis.
func (s Shape) MaxSize(axis int) int32 {
	splits := s.layers[axis-1].RowSplits
	var m int32
	for i := 0; i+1 < len(splits); i++ {
		if n := splits[i+1] - splits[i]; n > m {
			m = n
		}
	}
	return m
}

// SublistSize returns the number of children of element i on the parent
// axis of layer `axis`.
func (s Shape) SublistSize(axis int, i int32) int32 {
	splits := s.layers[axis-1].RowSplits
	return splits[i+1] - splits[i]
}

// Validate checks the internal consistency of the shape: row-splits
// monotone from zero, row-ids the exact inverse, adjacent layers
// covering each other.
func (s Shape) Validate() error {
	if len(s.layers) == 0 {
		return ErrShapeEmpty
	}
	for k, layer := range s.layers {
		if err := validateRowSplits(layer.RowSplits); err != nil {
			return fmt.Errorf("axis %d: %w", k+1, err)
		}
		tot := layer.RowSplits[len(layer.RowSplits)-1]
		if int32(len(layer.RowIds)) != tot {
			return fmt.Errorf("axis %d: row-ids length %d != total %d", k+1, len(layer.RowIds), tot)
		}
		for j, r := range layer.RowIds {
			if int32(j) < layer.RowSplits[r] || int32(j) >= layer.RowSplits[r+1] {
				return fmt.Errorf("axis %d: row-ids[%d]=%d inconsistent with row-splits", k+1, j, r)
			}
		}
		if k > 0 {
			parentTot := s.layers[k-1].RowSplits[len(s.layers[k-1].RowSplits)-1]
			if int32(len(layer.RowSplits))-1 != parentTot {
				return fmt.Errorf("axis %d: row-splits do not cover parent axis", k+1)
			}
		}
	}
	return nil
}

func (s Shape) String() string {
	sizes := make([]int32, s.NumAxes())
	for i := range sizes {
		sizes[i] = s.TotSize(i)
	}
	return fmt.Sprintf("ragged.Shape%v", sizes)
}

func validateRowSplits(splits []int32) error {
	if len(splits) == 0 || splits[0] != 0 {
		return ErrBadRowSplits
	}
	for i := 1; i < len(splits); i++ {
		if splits[i] < splits[i-1] {
			return ErrBadRowSplits
		}
	}
	return nil
}

// RowIdsFromSplits computes the inverse of a row-splits array.
func RowIdsFromSplits(splits []int32) []int32 {
	n := splits[len(splits)-1]
	ids := make([]int32, n)
	for i := 0; i+1 < len(splits); i++ {
		for j := splits[i]; j < splits[i+1]; j++ {
			ids[j] = int32(i)
		}
	}
	return ids
}

// ExclusiveSum returns the exclusive prefix sums of in, with a trailing
// total, so the result has len(in)+1 entries and is a valid row-splits
// array when in holds per-sublist counts.
func ExclusiveSum(in []int32) []int32 {
	out := make([]int32, len(in)+1)
	var sum int32
	for i, v := range in {
		out[i] = sum
		sum += v
	}
	out[len(in)] = sum
	return out
}
