// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gopkg.in/check.v1"
)

type glmSuite struct{}

var _ = check.Suite(&glmSuite{})

// gamFixture returns 61 cells (the last without pseudotime) and
// counts for a rising gene, a flat gene and an unexpressed gene.
func gamFixture(c *check.C) (*ExprMatrix, *Pseudotime, map[string]float64) {
	const ncells = 61
	pt := &Pseudotime{}
	libsize := map[string]float64{}
	var cells []string
	genes := []string{"RISE", "FLAT", "ZERO"}
	data := make([]float64, len(genes)*ncells)
	for i := 0; i < ncells; i++ {
		code := fmt.Sprintf("c%d", i)
		cells = append(cells, code)
		libsize[code] = 1000
		t := float64(i) / 6
		if i == ncells-1 {
			t = math.NaN()
		}
		pt.Cells = append(pt.Cells, code)
		pt.Values = append(pt.Values, t)
		data[i] = math.Floor(math.Exp(0.3 * float64(i) / 6))
		data[ncells+i] = 5
	}
	m, err := NewExprMatrix(genes, cells, data)
	c.Assert(err, check.IsNil)
	return m, pt, libsize
}

func (s *glmSuite) TestGAM(c *check.C) {
	m, pt, libsize := gamFixture(c)
	tests, err := GAMTester{Knots: 6, Threads: 2, LibrarySize: libsize}.Test(context.Background(), m, pt, m.Genes)
	c.Assert(err, check.IsNil)
	c.Assert(tests, check.HasLen, 2)
	c.Check(tests[0].Gene, check.Equals, "RISE")
	c.Check(tests[0].PValue < 0.001, check.Equals, true, check.Commentf("%+v", tests[0]))
	c.Check(tests[1].Gene, check.Equals, "FLAT")
	c.Check(tests[1].PValue > 0.5, check.Equals, true, check.Commentf("%+v", tests[1]))
	for _, t := range tests {
		c.Check(t.DF > 0, check.Equals, true)
		c.Check(t.DF, check.Equals, tests[0].DF)
		c.Check(math.IsNaN(t.AdjustedP), check.Equals, true)
	}
}

func (s *glmSuite) TestGAMDeterministic(c *check.C) {
	m, pt, libsize := gamFixture(c)
	var runs [][]GeneTest
	for _, threads := range []int{1, 4, 1} {
		tests, err := GAMTester{Knots: 5, Threads: threads, LibrarySize: libsize}.Test(context.Background(), m, pt, []string{"FLAT", "RISE"})
		c.Assert(err, check.IsNil)
		runs = append(runs, tests)
	}
	for _, run := range runs[1:] {
		c.Assert(run, check.HasLen, len(runs[0]))
		for i, t := range run {
			c.Check(t.Gene, check.Equals, runs[0][i].Gene)
			c.Check(t.Statistic, check.Equals, runs[0][i].Statistic)
			c.Check(t.PValue, check.Equals, runs[0][i].PValue)
		}
	}
}

func (s *glmSuite) TestGAMWeights(c *check.C) {
	m, pt, libsize := gamFixture(c)
	tester := GAMTester{Knots: 5, LibrarySize: libsize}
	base, err := tester.Test(context.Background(), m, pt, []string{"RISE"})
	c.Assert(err, check.IsNil)
	c.Assert(base, check.HasLen, 1)

	// weight 0 is the same as not being on the lineage
	_, dropped, _ := gamFixture(c)
	pt.Weights = make([]float64, len(pt.Cells))
	for i := range pt.Weights {
		if i < 30 {
			pt.Weights[i] = 1
		} else {
			dropped.Values[i] = math.NaN()
		}
	}
	zeroed, err := tester.Test(context.Background(), m, pt, []string{"RISE"})
	c.Assert(err, check.IsNil)
	want, err := tester.Test(context.Background(), m, dropped, []string{"RISE"})
	c.Assert(err, check.IsNil)
	c.Check(zeroed[0].Statistic, check.Equals, want[0].Statistic)
	c.Check(zeroed[0].Statistic, check.Not(check.Equals), base[0].Statistic)

	// halving every weight halves the log likelihoods
	for i := range pt.Weights {
		pt.Weights[i] = 0.5
	}
	half, err := tester.Test(context.Background(), m, pt, []string{"RISE"})
	c.Assert(err, check.IsNil)
	c.Check(math.Abs(half[0].Statistic-base[0].Statistic/2) < 1e-6*base[0].Statistic, check.Equals, true, check.Commentf("%v vs %v", half[0].Statistic, base[0].Statistic))
}

func (s *glmSuite) TestGAMLibrarySizeFallback(c *check.C) {
	m, pt, _ := gamFixture(c)
	// column sums stand in for library sizes
	tests, err := GAMTester{Knots: 6}.Test(context.Background(), m, pt, []string{"RISE"})
	c.Assert(err, check.IsNil)
	c.Assert(tests, check.HasLen, 1)
	c.Check(math.IsNaN(tests[0].PValue), check.Equals, false)
}

func (s *glmSuite) TestGAMErrors(c *check.C) {
	m, pt, libsize := gamFixture(c)
	_, err := GAMTester{Knots: 6, LibrarySize: libsize}.Test(context.Background(), m, pt, []string{"XIST"})
	var aerr *AlignmentError
	c.Check(errors.As(err, &aerr), check.Equals, true)

	pt.Cells = append(pt.Cells, "nowhere")
	pt.Values = append(pt.Values, 1)
	_, err = GAMTester{Knots: 6, LibrarySize: libsize}.Test(context.Background(), m, pt, m.Genes)
	c.Check(errors.As(err, &aerr), check.Equals, true)
	c.Check(aerr.Key, check.Equals, "nowhere")

	_, pt, _ = gamFixture(c)
	for i := range pt.Values {
		pt.Values[i] = 3
	}
	_, err = GAMTester{Knots: 6, LibrarySize: libsize}.Test(context.Background(), m, pt, m.Genes)
	var cerr *ExternalComputationError
	c.Check(errors.As(err, &cerr), check.Equals, true)
}

func (s *glmSuite) TestLibrarySizes(c *check.C) {
	m, err := NewExprMatrix([]string{"a", "b"}, []string{"x", "y"}, []float64{1, 2, 3, 4})
	c.Assert(err, check.IsNil)
	c.Check(librarySizes(m), check.DeepEquals, map[string]float64{"x": 4, "y": 6})
}
