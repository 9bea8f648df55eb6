// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package spline evaluates clamped B-spline bases, used as the smooth
// term when regressing expression on pseudotime.
package spline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Basis is a clamped B-spline basis of a given degree.
type Basis struct {
	Degree int
	knots  []float64
}

// NewQuantileBasis returns a cubic B-spline basis whose knots are
// placed at evenly spaced quantiles of x, including the minimum and
// maximum. NaN values in x are ignored. Knots that coincide (heavily
// tied data) are merged, so the basis may have fewer functions than
// nknots+2.
func NewQuantileBasis(x []float64, nknots int) (*Basis, error) {
	if nknots < 2 {
		return nil, fmt.Errorf("need at least 2 knots, got %d", nknots)
	}
	sorted := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return nil, errors.New("no values to place knots")
	}
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return nil, errors.New("all values are identical")
	}
	var interior []float64
	for k := 1; k < nknots-1; k++ {
		q := stat.Quantile(float64(k)/float64(nknots-1), stat.Empirical, sorted, nil)
		if q <= lo || q >= hi || (len(interior) > 0 && q <= interior[len(interior)-1]) {
			continue
		}
		interior = append(interior, q)
	}
	return NewBasis(3, lo, hi, interior)
}

// NewBasis returns a clamped basis on [lo, hi] with the given
// strictly increasing interior knots.
func NewBasis(degree int, lo, hi float64, interior []float64) (*Basis, error) {
	if degree < 0 {
		return nil, fmt.Errorf("invalid degree %d", degree)
	}
	if !(lo < hi) {
		return nil, fmt.Errorf("invalid range [%v, %v]", lo, hi)
	}
	knots := make([]float64, 0, len(interior)+2*(degree+1))
	for i := 0; i <= degree; i++ {
		knots = append(knots, lo)
	}
	prev := lo
	for _, k := range interior {
		if !(k > prev) || !(k < hi) {
			return nil, fmt.Errorf("interior knots must be strictly increasing within (%v, %v)", lo, hi)
		}
		knots = append(knots, k)
		prev = k
	}
	for i := 0; i <= degree; i++ {
		knots = append(knots, hi)
	}
	return &Basis{Degree: degree, knots: knots}, nil
}

// Len returns the number of basis functions.
func (b *Basis) Len() int { return len(b.knots) - b.Degree - 1 }

// Knots returns a copy of the full (clamped) knot vector.
func (b *Basis) Knots() []float64 { return append([]float64(nil), b.knots...) }

// Eval evaluates every basis function at x and stores the results in
// dst, which is allocated if nil. Values outside the knot range are
// clamped to it. The returned values are non-negative and sum to 1.
func (b *Basis) Eval(x float64, dst []float64) []float64 {
	n := b.Len()
	if dst == nil {
		dst = make([]float64, n)
	} else {
		dst = dst[:n]
		for i := range dst {
			dst[i] = 0
		}
	}
	t, p := b.knots, b.Degree
	x = math.Max(t[0], math.Min(t[len(t)-1], x))

	// Find the knot span t[k] <= x < t[k+1]; x at the right
	// boundary belongs to the last span.
	k := p
	for k < n-1 && x >= t[k+1] {
		k++
	}

	N := make([]float64, p+1)
	left := make([]float64, p+1)
	right := make([]float64, p+1)
	N[0] = 1
	for j := 1; j <= p; j++ {
		left[j] = x - t[k+1-j]
		right[j] = t[k+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			tmp := N[r] / (right[r+1] + left[j-r])
			N[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		N[j] = saved
	}
	copy(dst[k-p:], N)
	return dst
}
