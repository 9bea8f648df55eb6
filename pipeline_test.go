// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

// writePipelineInputs writes a linear three-cluster trajectory of 120
// cells plus 10 off-trajectory cells in cluster 9, with genes that
// rise, fall, stay flat, or are never expressed along it.
func writePipelineInputs(c *check.C, dir string) map[string]string {
	const ncells = 130
	var clusters, coords, hashtags bytes.Buffer
	clusters.WriteString("cellcode\tcluster\n")
	coords.WriteString("cellcode\tUMAP1\tUMAP2\n")
	hashtags.WriteString("cellcode\thashtag\n")
	genes := []string{"RISE", "FALL", "HOUSE", "FLAT", "ZERO"}
	counts := make([][]float64, len(genes))
	var cells []string
	for i := 0; i < ncells; i++ {
		code := fmt.Sprintf("AAAC%03d-1", i)
		cells = append(cells, code)
		cluster, x := i/40+1, float64(i)*0.5
		if i >= 120 {
			cluster, x = 9, 200
		}
		fmt.Fprintf(&clusters, "%s\t%d\n", code, cluster)
		fmt.Fprintf(&coords, "%s\t%g\t%g\n", code, x, 0.3*float64(i%3-1))
		fmt.Fprintf(&hashtags, "%s\tHTO%d\n", code, i%4+1)
		counts[0] = append(counts[0], math.Floor(math.Exp(0.04*float64(i))))
		counts[1] = append(counts[1], math.Floor(math.Exp(0.04*float64(119-i))))
		counts[2] = append(counts[2], 1000)
		counts[3] = append(counts[3], float64(5+i%3))
		counts[4] = append(counts[4], 0)
	}
	var countsTSV, exprTSV bytes.Buffer
	header := "Geneid\t" + strings.Join(cells, "\t") + "\n"
	countsTSV.WriteString(header)
	exprTSV.WriteString(header)
	for g, gene := range genes {
		countsTSV.WriteString(gene)
		exprTSV.WriteString(gene)
		for _, v := range counts[g] {
			fmt.Fprintf(&countsTSV, "\t%g", v)
			fmt.Fprintf(&exprTSV, "\t%.6f", math.Log1p(v))
		}
		countsTSV.WriteString("\n")
		exprTSV.WriteString("\n")
	}
	return map[string]string{
		"clusters":  writeTestFile(c, dir, "clusters.tsv", clusters.String()),
		"coords":    writeTestFile(c, dir, "umap.tsv", coords.String()),
		"hashtags":  writeTestFile(c, dir, "hashtags.tsv", hashtags.String()),
		"genotypes": writeTestFile(c, dir, "genotypes.csv", "hashtag,genotype\nHTO1,wt\nHTO2,wt\nHTO3,ko\nHTO4,ko\n"),
		"counts":    writeTestFile(c, dir, "counts.tsv", countsTSV.String()),
		"expr":      writeTestFile(c, dir, "expr.tsv", exprTSV.String()),
	}
}

func pipelineArgs(in map[string]string, outdir string, extra ...string) []string {
	args := []string{
		"-clusters", in["clusters"],
		"-coords", in["coords"],
		"-counts", in["counts"],
		"-expr", in["expr"],
		"-hashtags", in["hashtags"],
		"-genotypes", in["genotypes"],
		"-subset", "1,2,3",
		"-start", "1",
		"-window", "11",
		"-terminal-size", "5",
		"-gene-clusters", "2",
		"-threads", "2",
		"-output-dir", outdir,
	}
	return append(args, extra...)
}

func readLines(c *check.C, fnm string) []string {
	buf, err := ioutil.ReadFile(fnm)
	c.Assert(err, check.IsNil)
	return strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
}

func (s *pipelineSuite) TestPipeline(c *check.C) {
	tmpdir := c.MkDir()
	in := writePipelineInputs(c, tmpdir)
	outdir := filepath.Join(tmpdir, "out")
	var stderr bytes.Buffer
	code := (&pipeline{}).RunCommand("pseudotime pipeline", pipelineArgs(in, outdir, "-numpy"), bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))

	ents, err := ioutil.ReadDir(outdir)
	c.Assert(err, check.IsNil)
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	c.Check(names, check.DeepEquals, []string{
		"composition.tsv",
		"gene_clusters.svg",
		"genes.tsv",
		"long.tsv",
		"pseudotime.tsv",
		"scaled.npy",
		"smoothed.svg",
		"smoothed.tsv",
		"summary.json",
		"terminal_genes.tsv",
		"terminals.tsv",
	})

	var summary runSummary
	buf, err := ioutil.ReadFile(filepath.Join(outdir, "summary.json"))
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(buf, &summary), check.IsNil)
	c.Check(summary.Command, check.Equals, "pipeline")
	c.Check(summary.Outputs, check.DeepEquals, names)
	c.Check(summary.Inputs, check.HasLen, 6)
	c.Check(strings.Contains(summary.Inputs["counts"], " blake2b:"), check.Equals, true)
	c.Check(summary.Counts["cells"], check.Equals, 130)
	c.Check(summary.Counts["subset_cells"], check.Equals, 120)
	c.Check(summary.Counts["lineages"], check.Equals, 1)
	c.Check(summary.Counts["lineage_cells"], check.Equals, 120)
	c.Check(summary.Counts["genes_tested"], check.Equals, 4)

	significant := map[string]bool{}
	for _, line := range readLines(c, filepath.Join(outdir, "genes.tsv"))[1:] {
		fields := strings.Split(line, "\t")
		c.Assert(fields, check.HasLen, 7)
		significant[fields[0]] = fields[5] == "true"
	}
	c.Check(significant["RISE"], check.Equals, true)
	c.Check(significant["FALL"], check.Equals, true)
	_, tested := significant["ZERO"]
	c.Check(tested, check.Equals, false)

	pt := readLines(c, filepath.Join(outdir, "pseudotime.tsv"))
	c.Check(pt[0], check.Equals, "cellcode\tcluster\tpseudotime_1\tweight_1")
	c.Check(pt, check.HasLen, 121)
	c.Check(pt[1], check.Matches, "AAAC000-1\t1\t0\t1")

	long := readLines(c, filepath.Join(outdir, "long.tsv"))
	c.Check(long[0], check.Equals, "cellcode\tgene\tpseudotime\traw\tscaled\tgene_cluster")
	c.Check((len(long)-1)%120, check.Equals, 0)
	c.Check(len(long)-1, check.Equals, summary.Counts["long_rows"])

	smoothed := readLines(c, filepath.Join(outdir, "smoothed.tsv"))
	c.Check(smoothed[0], check.Equals, "position\tcellcode\tpseudotime\tko\twt")
	c.Check(smoothed, check.HasLen, 121)

	terminals := readLines(c, filepath.Join(outdir, "terminals.tsv"))
	c.Check(terminals[len(terminals)-1], check.Matches, `# chi-square genotype by terminal: .*`)

	// same inputs, same results
	outdir2 := filepath.Join(tmpdir, "out2")
	code = (&pipeline{}).RunCommand("pseudotime pipeline", pipelineArgs(in, outdir2, "-threads", "1", "-plots=false"), bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	for _, name := range []string{"genes.tsv", "long.tsv", "pseudotime.tsv", "smoothed.tsv", "terminals.tsv", "terminal_genes.tsv", "composition.tsv"} {
		a, err := ioutil.ReadFile(filepath.Join(outdir, name))
		c.Assert(err, check.IsNil)
		b, err := ioutil.ReadFile(filepath.Join(outdir2, name))
		c.Assert(err, check.IsNil)
		if !bytes.Equal(a, b) {
			dmp := diffmatchpatch.New()
			c.Errorf("%s differs between runs:\n%s", name, dmp.DiffPrettyText(dmp.DiffMain(string(a), string(b), false)))
		}
	}
	_, err = os.Stat(filepath.Join(outdir2, "smoothed.svg"))
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *pipelineSuite) TestPipelineErrors(c *check.C) {
	tmpdir := c.MkDir()
	in := writePipelineInputs(c, tmpdir)
	outdir := filepath.Join(tmpdir, "out")

	var stderr bytes.Buffer
	code := (&pipeline{}).RunCommand("pseudotime pipeline", []string{"-subset", "1"}, bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*-clusters is required.*`)

	stderr.Reset()
	code = (&pipeline{}).RunCommand("pseudotime pipeline", []string{"-no-such-flag"}, bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Check(code, check.Equals, 2)

	stderr.Reset()
	code = (&pipeline{}).RunCommand("pseudotime pipeline", pipelineArgs(in, outdir, "extra"), bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*errant command line arguments.*`)

	stderr.Reset()
	args := pipelineArgs(in, outdir)
	for i, arg := range args {
		if arg == "-subset" {
			args[i+1] = "1,7"
		}
	}
	code = (&pipeline{}).RunCommand("pseudotime pipeline", args, bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*"7" is not a known cluster ID.*`)

	stderr.Reset()
	code = (&pipeline{}).RunCommand("pseudotime pipeline", pipelineArgs(in, outdir, "-terminal-size", "100"), bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*terminal size 100 needs at least 200 cells.*`)

	// failed runs leave no outputs
	_, err := os.Stat(outdir)
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *pipelineSuite) TestOrder(c *check.C) {
	tmpdir := c.MkDir()
	in := writePipelineInputs(c, tmpdir)
	outdir := filepath.Join(tmpdir, "out")
	var stderr bytes.Buffer
	code := (&orderCmd{}).RunCommand("pseudotime order", []string{
		"-clusters", in["clusters"],
		"-coords", in["coords"],
		"-subset", "3,2,1",
		"-start", "1",
		"-reverse",
		"-output-dir", outdir,
	}, bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	pt := readLines(c, filepath.Join(outdir, "pseudotime.tsv"))
	c.Assert(pt, check.HasLen, 121)
	first := strings.Split(pt[1], "\t")
	last := strings.Split(pt[120], "\t")
	c.Check(first[0], check.Equals, "AAAC000-1")
	c.Check(last[2], check.Equals, "0")
	c.Check(first[2] != "0", check.Equals, true)

	var summary runSummary
	buf, err := ioutil.ReadFile(filepath.Join(outdir, "summary.json"))
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(buf, &summary), check.IsNil)
	c.Check(summary.Outputs, check.DeepEquals, []string{"pseudotime.tsv", "summary.json"})
	c.Check(summary.Counts["lineage_cells"], check.Equals, 120)
}

func (s *pipelineSuite) TestComposition(c *check.C) {
	tmpdir := c.MkDir()
	in := writePipelineInputs(c, tmpdir)
	outdir := filepath.Join(tmpdir, "out")
	var stderr bytes.Buffer
	code := (&compositionCmd{}).RunCommand("pseudotime composition", []string{
		"-clusters", in["clusters"],
		"-hashtags", in["hashtags"],
		"-genotypes", in["genotypes"],
		"-output-dir", outdir,
	}, bytes.NewReader(nil), ioutil.Discard, &stderr)
	c.Assert(code, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	lines := readLines(c, filepath.Join(outdir, "composition.tsv"))
	c.Check(lines[0], check.Equals, "cluster\thashtag\tgenotype\tcount\ttotal\tfraction\tmean\tse")
	// 4 clusters × 4 hashtags, then 4 clusters × 2 genotypes
	c.Check(lines, check.HasLen, 1+16+8)
	c.Check(lines[1], check.Equals, "1\tHTO1\twt\t10\t33\t0.30303030303030304\t\t")
	var clusters []string
	for _, line := range lines[17:] {
		clusters = append(clusters, strings.Split(line, "\t")[0])
	}
	c.Check(sort.StringsAreSorted(clusters), check.Equals, true)
}
