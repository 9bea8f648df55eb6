// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/check.v1"
)

type hclustSuite struct{}

var _ = check.Suite(&hclustSuite{})

func testMatrix(c *check.C, rows [][]float64) *ExprMatrix {
	var genes, cells []string
	var data []float64
	for i, row := range rows {
		genes = append(genes, fmt.Sprintf("g%d", i))
		data = append(data, row...)
	}
	for j := range rows[0] {
		cells = append(cells, fmt.Sprintf("c%d", j))
	}
	m, err := NewExprMatrix(genes, cells, data)
	c.Assert(err, check.IsNil)
	return m
}

func (s *hclustSuite) TestTwoGroups(c *check.C) {
	m := testMatrix(c, [][]float64{
		{0, 0, 0.1},
		{10, 10, 10},
		{0.2, 0, 0},
		{10, 9.5, 10},
		{0, 0.3, 0},
	})
	gc, err := ClusterGenes(m, 2, 0)
	c.Assert(err, check.IsNil)
	c.Check(gc.K, check.Equals, 2)
	c.Check(gc.Labels, check.DeepEquals, []int{1, 2, 1, 2, 1})
	c.Check(gc.Label("g3"), check.Equals, 2)
	c.Check(gc.Label("nope"), check.Equals, 0)
	c.Check(gc.Dendrogram.Merges, check.HasLen, 4)
	for i := 1; i < len(gc.Dendrogram.Merges); i++ {
		c.Check(gc.Dendrogram.Merges[i-1].Height <= gc.Dendrogram.Merges[i].Height, check.Equals, true)
	}

	all := gc.Dendrogram.CutHeight(1e6)
	c.Check(all, check.DeepEquals, []int{1, 1, 1, 1, 1})
	none := gc.Dendrogram.CutHeight(0.01)
	c.Check(none, check.DeepEquals, []int{1, 2, 3, 4, 5})

	gc, err = ClusterGenes(m, 0, 5)
	c.Assert(err, check.IsNil)
	c.Check(gc.K, check.Equals, 2)
	c.Check(gc.Labels, check.DeepEquals, []int{1, 2, 1, 2, 1})
}

func (s *hclustSuite) TestDeterministic(c *check.C) {
	rnd := rand.New(rand.NewSource(1))
	rows := make([][]float64, 20)
	for i := range rows {
		for j := 0; j < 8; j++ {
			rows[i] = append(rows[i], rnd.NormFloat64())
		}
	}
	m := testMatrix(c, rows)
	first, err := ClusterGenes(m, 6, 0)
	c.Assert(err, check.IsNil)
	second, err := ClusterGenes(m, 6, 0)
	c.Assert(err, check.IsNil)
	c.Check(second.Labels, check.DeepEquals, first.Labels)
	seen := map[int]bool{}
	for _, l := range first.Labels {
		c.Check(l >= 1 && l <= 6, check.Equals, true)
		seen[l] = true
	}
	c.Check(seen, check.HasLen, 6)
	// labels are numbered by first appearance
	c.Check(first.Labels[0], check.Equals, 1)
}

// naiveCompleteLinkage repeatedly joins the two closest groups,
// recomputing every group distance from scratch, until k remain.
func naiveCompleteLinkage(rows [][]float64, k int) [][]int {
	groups := make([][]int, len(rows))
	for i := range groups {
		groups[i] = []int{i}
	}
	dist := func(a, b []int) float64 {
		d := 0.0
		for _, i := range a {
			for _, j := range b {
				d = math.Max(d, floats.Distance(rows[i], rows[j], 2))
			}
		}
		return d
	}
	for len(groups) > k {
		bi, bj, bd := 0, 1, math.Inf(1)
		for i := range groups {
			for j := i + 1; j < len(groups); j++ {
				if d := dist(groups[i], groups[j]); d < bd {
					bi, bj, bd = i, j, d
				}
			}
		}
		groups[bi] = append(groups[bi], groups[bj]...)
		groups = append(groups[:bj], groups[bj+1:]...)
	}
	return groups
}

// partitionString returns a canonical rendering of the partition
// implied by labels (or by groups), independent of label numbering.
func partitionString(groups [][]int) string {
	var parts []string
	for _, g := range groups {
		g = append([]int(nil), g...)
		sort.Ints(g)
		parts = append(parts, fmt.Sprint(g))
	}
	sort.Strings(parts)
	return fmt.Sprint(parts)
}

func labelGroups(labels []int) [][]int {
	byLabel := map[int][]int{}
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	var groups [][]int
	for _, g := range byLabel {
		groups = append(groups, g)
	}
	return groups
}

func (s *hclustSuite) TestRandomAgainstNaive(c *check.C) {
	rnd := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 3 + rnd.Intn(25)
		rows := make([][]float64, n)
		for i := range rows {
			for j := 0; j < 4; j++ {
				rows[i] = append(rows[i], rnd.NormFloat64())
			}
		}
		k := 1 + rnd.Intn(n)
		gc, err := ClusterGenes(testMatrix(c, rows), k, 0)
		c.Assert(err, check.IsNil)
		c.Check(gc.K, check.Equals, k)
		c.Check(partitionString(labelGroups(gc.Labels)), check.Equals, partitionString(naiveCompleteLinkage(rows, k)), check.Commentf("trial %d: n=%d k=%d", trial, n, k))
	}
}

func (s *hclustSuite) TestOptions(c *check.C) {
	m := testMatrix(c, [][]float64{{0, 1}, {1, 0}})
	_, err := ClusterGenes(m, 2, 1)
	c.Check(err, check.ErrorMatches, `.*not both`)
	_, err = ClusterGenes(m, 0, 0)
	c.Check(err, check.ErrorMatches, `.*need a cluster count or a cut height`)
	gc, err := ClusterGenes(m, 6, 0)
	c.Assert(err, check.IsNil)
	c.Check(gc.K, check.Equals, 2)
	c.Check(gc.Labels, check.DeepEquals, []int{1, 2})

	_, err = (&Dendrogram{Leaves: []string{"a"}}).CutK(2)
	c.Check(err, check.NotNil)
}

func (s *hclustSuite) TestScaleRows(c *check.C) {
	m := testMatrix(c, [][]float64{{1, 2, 3}, {4, 4, 4}, {0, 0, 6}})
	scaled, err := ScaleRows(m)
	c.Assert(err, check.IsNil)
	c.Check(scaled.Genes, check.DeepEquals, []string{"g0", "g2"})
	c.Check(scaled.Cells, check.DeepEquals, m.Cells)
	c.Check(scaled.Row(0), check.DeepEquals, []float64{-1, 0, 1})
	var sum float64
	for _, v := range scaled.Row(1) {
		sum += v
	}
	c.Check(approx(sum), check.Equals, approx(0))
}
