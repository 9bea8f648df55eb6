// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type outputSuite struct{}

var _ = check.Suite(&outputSuite{})

func (s *outputSuite) TestCommit(c *check.C) {
	dir := filepath.Join(c.MkDir(), "out", "nested")
	out := newOutputSet(dir)
	out.add("b.tsv", []byte("b\n"))
	out.add("a.tsv", []byte("first\n"))
	out.add("a.tsv", []byte("a\n"))
	c.Check(out.names, check.DeepEquals, []string{"b.tsv", "a.tsv"})
	c.Assert(out.commit(), check.IsNil)

	ents, err := ioutil.ReadDir(dir)
	c.Assert(err, check.IsNil)
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	c.Check(names, check.DeepEquals, []string{"a.tsv", "b.tsv"})
	buf, err := ioutil.ReadFile(filepath.Join(dir, "a.tsv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "a\n")
}

func (s *outputSuite) TestCommitFailure(c *check.C) {
	tmp := c.MkDir()
	// output "directory" is a regular file
	fnm := writeTestFile(c, tmp, "file", "x")
	out := newOutputSet(fnm)
	out.add("a.tsv", []byte("a\n"))
	c.Check(out.commit(), check.NotNil)

	// a directory in the way of an output name fails the rename;
	// no temp files are left behind
	dir := c.MkDir()
	c.Assert(os.Mkdir(filepath.Join(dir, "b.tsv"), 0777), check.IsNil)
	c.Assert(ioutil.WriteFile(filepath.Join(dir, "b.tsv", "x"), nil, 0666), check.IsNil)
	out = newOutputSet(dir)
	out.add("b.tsv", []byte("b\n"))
	c.Check(out.commit(), check.NotNil)
	ents, err := ioutil.ReadDir(dir)
	c.Assert(err, check.IsNil)
	c.Check(ents, check.HasLen, 1)
}

func (s *outputSuite) TestRenderSmoothed(c *check.C) {
	pt, labels := smallScenario()
	sm, err := SmoothWindows(pt, labels, SmoothOptions{Window: 3, Step: 1})
	c.Assert(err, check.IsNil)
	c.Check(string(renderSmoothed(sm)), check.Equals, `position	cellcode	pseudotime	A	B
0	c3	0.9	NaN	NaN
1	c1	0.5	0.5	1
2	c2	0.5	1	0.5
3	c0	0.1	NaN	NaN
`)
}

func (s *outputSuite) TestRenderTrajectory(c *check.C) {
	cells := embedCells(c, []string{"1", "2", "3"}, [][2]float64{{0, 0}, {10, 0}, {30, 0}})
	traj, err := MSTOrderer{Start: "1"}.Order(context.Background(), cells)
	c.Assert(err, check.IsNil)
	c.Check(string(renderTrajectory(traj, cells)), check.Equals, `cellcode	cluster	pseudotime_1	weight_1
c0	1	0	1
c1	2	10	1
c2	3	30	1
`)
}

func (s *outputSuite) TestRenderGenes(c *check.C) {
	tests := []GeneTest{
		{Gene: "A", Statistic: 12.5, DF: 4, PValue: 0.001, AdjustedP: 0.002},
		{Gene: "B", Statistic: 0.5, DF: 4, PValue: 0.9, AdjustedP: 0.9},
	}
	gc := &GeneClustering{Genes: []string{"A"}, Labels: []int{1}, K: 1}
	lines := strings.Split(string(renderGenes(tests, gc, 0.05)), "\n")
	c.Check(lines, check.DeepEquals, []string{
		"gene\tstatistic\tdf\tpvalue\tadjusted_pvalue\tsignificant\tgene_cluster",
		"A\t12.5\t4\t0.001\t0.002\ttrue\t1",
		"B\t0.5\t4\t0.9\t0.9\tfalse\t",
		"",
	})
}

func (s *outputSuite) TestRenderTerminals(c *check.C) {
	cmp := &TerminalComparison{
		Attr:      "genotype",
		Groups:    []TerminalGroup{{Terminal: "low", Group: "wt", Count: 2, GroupSize: 4, FracTerminal: 1, FracGroup: 0.5}},
		Genotypes: []TerminalGenotype{{Terminal: "low", Genotype: "wt", Hashtags: 2, Mean: 0.25, SE: 0.05}},
		ChiSquare: 4,
		ChiDF:     1,
		ChiP:      0.0455,
	}
	lines := strings.Split(string(renderTerminals(cmp)), "\n")
	c.Check(lines, check.DeepEquals, []string{
		"terminal\tlevel\tkey\tcount\ttotal\tfrac_of_total\tfrac_of_terminal\tmean\tse",
		"low\tgenotype\twt\t2\t4\t0.5\t1\t\t",
		"low\thashtag_by_genotype\twt\t2\t\t\t\t0.25\t0.05",
		"# chi-square genotype by terminal: statistic 4 df 1 p 0.0455",
		"",
	})
}

func (s *outputSuite) TestRenderNumpy(c *check.C) {
	m, err := NewExprMatrix([]string{"A", "B"}, []string{"c0", "c1", "c2"}, []float64{1, 2, 3, -1, 0, 0.5})
	c.Assert(err, check.IsNil)
	buf, err := renderNumpy(m)
	c.Assert(err, check.IsNil)
	c.Check(bytes.HasPrefix(buf, []byte("\x93NUMPY")), check.Equals, true)
	npy, err := gonpy.NewReader(bytes.NewReader(buf))
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{2, 3})
	data, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(data, check.DeepEquals, []float64{1, 2, 3, -1, 0, 0.5})
}
