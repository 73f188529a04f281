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

// Ragged pairs a shape with a flat values slice covering its last axis.
type Ragged[T any] struct {
	Shape  Shape
	Values []T
}

// New builds a ragged tensor, checking that the values cover the
// shape's last axis exactly.
func New[T any](shape Shape, values []T) (Ragged[T], error) {
	want := shape.TotSize(shape.NumAxes() - 1)
	if int32(len(values)) != want {
		return Ragged[T]{}, fmt.Errorf("values length %d does not match last-axis total %d", len(values), want)
	}
	return Ragged[T]{Shape: shape, Values: values}, nil
}

// MaxPerSublist reduces the last axis of shape with max, writing one
// result per element of the second-to-last axis. Empty sublists yield
// identity, which also seeds every reduction.
func MaxPerSublist(shape Shape, values []float32, identity float32) []float32 {
	splits := shape.RowSplits(shape.NumAxes() - 1)
	out := make([]float32, len(splits)-1)
	for i := 0; i+1 < len(splits); i++ {
		m := identity
		for j := splits[i]; j < splits[i+1]; j++ {
			if values[j] > m {
				m = values[j]
			}
		}
		out[i] = m
	}
	return out
}
