// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"fmt"
	"math"
	"sort"
)

// Bonferroni returns p-values multiplied by the number of tests,
// capped at 1.
func Bonferroni(p []float64) []float64 {
	adj := make([]float64, len(p))
	n := float64(len(p))
	for i, v := range p {
		adj[i] = math.Min(1, v*n)
	}
	return adj
}

// BenjaminiHochberg returns false discovery rate adjusted p-values.
func BenjaminiHochberg(p []float64) []float64 {
	n := len(p)
	adj := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	min := 1.0
	for rank := n; rank >= 1; rank-- {
		i := idx[rank-1]
		v := p[i] * float64(n) / float64(rank)
		if v < min {
			min = v
		}
		adj[i] = min
	}
	return adj
}

// AdjustPValues returns a copy of tests with AdjustedP filled in using
// the named correction ("bonferroni" or "bh").
func AdjustPValues(tests []GeneTest, method string) ([]GeneTest, error) {
	p := make([]float64, len(tests))
	for i, t := range tests {
		p[i] = t.PValue
	}
	var adj []float64
	switch method {
	case "bonferroni":
		adj = Bonferroni(p)
	case "bh", "fdr":
		adj = BenjaminiHochberg(p)
	default:
		return nil, fmt.Errorf("unknown multiple testing correction %q", method)
	}
	out := append([]GeneTest(nil), tests...)
	for i := range out {
		out[i].AdjustedP = adj[i]
	}
	return out, nil
}

// Significant returns the genes whose adjusted p-value is below
// alpha, in input order.
func Significant(tests []GeneTest, alpha float64) []string {
	var genes []string
	for _, t := range tests {
		if t.AdjustedP < alpha {
			genes = append(genes, t.Gene)
		}
	}
	return genes
}
