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

// Renumbering maps the elements of an axis that survive a keep-mask to
// a compact new numbering.
//
// Mark survivors in Keep, then read the derived maps. The maps are
// computed once, on first access; mutating Keep afterwards is a caller
// error.
type Renumbering struct {
	// Keep marks which old elements survive. Length is the old size.
	Keep []bool

	new2old  []int32
	old2new  []int32
	computed bool
}

// NewRenumbering returns a renumbering over n elements with nothing kept.
func NewRenumbering(n int32) *Renumbering {
	return &Renumbering{Keep: make([]bool, n)}
}

// NumOld returns the size of the old numbering.
func (r *Renumbering) NumOld() int32 { return int32(len(r.Keep)) }

// NumNew returns the number of kept elements.
func (r *Renumbering) NumNew() int32 {
	r.compute()
	return int32(len(r.new2old))
}

// New2Old maps each new index to the old index it came from.
func (r *Renumbering) New2Old() []int32 {
	r.compute()
	return r.new2old
}

// Old2New maps each old index to its new index, or -1 if dropped.
func (r *Renumbering) Old2New() []int32 {
	r.compute()
	return r.old2new
}

func (r *Renumbering) compute() {
	if r.computed {
		return
	}
	r.old2new = make([]int32, len(r.Keep))
	for i, k := range r.Keep {
		if k {
			r.old2new[i] = int32(len(r.new2old))
			r.new2old = append(r.new2old, int32(i))
		} else {
			r.old2new[i] = -1
		}
	}
	r.computed = true
}

// SubsampleShape restricts the last two axes of a 4-axis shape to the
// elements kept by the two renumberings.
//
// Description:
//
//	states renumbers axis 2, arcs renumbers axis 3. The first two axes
//	are unchanged. Every kept arc must belong to a kept state; the
//	function validates this rather than silently reparenting.
//
// Outputs:
//   - Shape: 4 axes, with TotSize(2)=states.NumNew() and
//     TotSize(3)=arcs.NumNew().
//   - error: non-nil on axis-count mismatch, renumbering size mismatch,
//     or a kept arc under a dropped state.
func SubsampleShape(s Shape, states, arcs *Renumbering) (Shape, error) {
	if s.NumAxes() != 4 {
		return Shape{}, fmt.Errorf("subsample of %d-axis shape: %w", s.NumAxes(), ErrAxisRange)
	}
	if states.NumOld() != s.TotSize(2) || arcs.NumOld() != s.TotSize(3) {
		return Shape{}, fmt.Errorf("renumbering sizes (%d, %d) do not match axes (%d, %d)",
			states.NumOld(), arcs.NumOld(), s.TotSize(2), s.TotSize(3))
	}

	oldSplits2 := s.RowSplits(2)
	oldSplits3 := s.RowSplits(3)

	// Running counts of kept elements, evaluated at the old boundaries.
	stateCum := keepPrefix(states.Keep)
	arcCum := keepPrefix(arcs.Keep)

	newSplits2 := make([]int32, len(oldSplits2))
	for i, b := range oldSplits2 {
		newSplits2[i] = stateCum[b]
	}

	stateNew2Old := states.New2Old()
	newSplits3 := make([]int32, len(stateNew2Old)+1)
	for n, old := range stateNew2Old {
		newSplits3[n] = arcCum[oldSplits3[old]]
	}
	newSplits3[len(stateNew2Old)] = arcCum[len(arcCum)-1]

	// A kept arc under a dropped state would break the nesting: every
	// arc counted between two kept-state boundaries must lie inside a
	// kept state's range.
	var claimed int32
	for _, old := range stateNew2Old {
		claimed += arcCum[oldSplits3[old+1]] - arcCum[oldSplits3[old]]
	}
	if claimed != arcs.NumNew() {
		return Shape{}, fmt.Errorf("%d kept arcs belong to dropped states", arcs.NumNew()-claimed)
	}

	return NewShape(s.RowSplits(1), newSplits2, newSplits3)
}

// keepPrefix returns, for each boundary position b in 0..len(keep),
// the number of kept elements strictly before b.
func keepPrefix(keep []bool) []int32 {
	out := make([]int32, len(keep)+1)
	var n int32
	for i, k := range keep {
		out[i] = n
		if k {
			n++
		}
	}
	out[len(keep)] = n
	return out
}
