// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// SmoothOptions controls SmoothWindows.
type SmoothOptions struct {
	// Window is the rolling window width in cells.
	Window int
	// Step emits every Step'th position of the ordered sequence.
	Step int
	// Factor scales each group's indicator, which is
	// Factor/groupSize for member cells and 0 otherwise.
	Factor float64
}

// Smoothed holds centered rolling sums of normalized group membership
// along a pseudotime ordering. Row r corresponds to position
// Position[r] of the sequence sorted by descending pseudotime.
type Smoothed struct {
	Groups     []string
	GroupSize  []int
	Position   []int
	Cells      []string
	Pseudotime []float64
	Sums       [][]float64 // [group][row], NaN where the window is incomplete
}

// GroupLabels returns the value of attr ("genotype", "hashtag" or
// "cluster") for every cell of pt, in pt order.
func GroupLabels(cells *CellTable, pt *Pseudotime, attr string) ([]string, error) {
	labels := make([]string, len(pt.Cells))
	for i, code := range pt.Cells {
		c, ok := cells.Lookup(code)
		if !ok {
			return nil, &AlignmentError{Kind: "cell", Key: code, Source: "metadata store", Reason: "cell in trajectory has no metadata"}
		}
		labels[i] = c.attr(attr)
	}
	return labels, nil
}

// SmoothWindows sorts the cells with pseudotime in descending order
// (ties keep their original order), builds a normalized membership
// indicator for each group, and computes a centered rolling sum of
// width opts.Window for each group independently. Position i covers
// positions i+(W-1)/2-W+1 through i+(W-1)/2, so for even W the window
// extends one further back than forward; windows that extend past
// either end of the sequence are NaN.
func SmoothWindows(pt *Pseudotime, labels []string, opts SmoothOptions) (*Smoothed, error) {
	if len(labels) != len(pt.Cells) {
		return nil, fmt.Errorf("window smoother: %d group labels for %d cells", len(labels), len(pt.Cells))
	}
	if opts.Window < 1 {
		return nil, fmt.Errorf("window smoother: invalid window %d", opts.Window)
	}
	if opts.Step < 1 {
		return nil, fmt.Errorf("window smoother: invalid step %d", opts.Step)
	}
	if opts.Factor == 0 {
		opts.Factor = 1
	}
	order := sortedIndex(pt.Values, true)
	n := len(order)

	groupIdx := map[string]int{}
	var groups []string
	for _, i := range order {
		if g := labels[i]; g != "" {
			if _, ok := groupIdx[g]; !ok {
				groupIdx[g] = -1
				groups = append(groups, g)
			}
		}
	}
	sort.Strings(groups)
	for gi, g := range groups {
		groupIdx[g] = gi
	}
	sizes := make([]int, len(groups))
	for _, i := range order {
		if g := labels[i]; g != "" {
			sizes[groupIdx[g]]++
		}
	}
	indicator := make([][]float64, len(groups))
	for gi := range groups {
		indicator[gi] = make([]float64, n)
	}
	for pos, i := range order {
		if g := labels[i]; g != "" {
			gi := groupIdx[g]
			indicator[gi][pos] = opts.Factor / float64(sizes[gi])
		}
	}

	w := opts.Window
	out := &Smoothed{Groups: groups, GroupSize: sizes, Sums: make([][]float64, len(groups))}
	for pos := 0; pos < n; pos += opts.Step {
		out.Position = append(out.Position, pos)
		out.Cells = append(out.Cells, pt.Cells[order[pos]])
		out.Pseudotime = append(out.Pseudotime, pt.Values[order[pos]])
		hi := pos + (w-1)/2
		lo := hi - w + 1
		for gi := range groups {
			v := math.NaN()
			if lo >= 0 && hi < n {
				v = floats.Sum(indicator[gi][lo : hi+1])
			}
			out.Sums[gi] = append(out.Sums[gi], v)
		}
	}
	log.Infof("window smoother: %d cells, %d groups, window %d, %d positions", n, len(groups), w, len(out.Position))
	return out, nil
}
