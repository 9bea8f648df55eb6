// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// outputSet collects rendered output files in memory. Nothing is
// written to the output directory until commit, so a run that fails
// part way leaves no partial outputs behind.
type outputSet struct {
	dir   string
	names []string
	data  map[string][]byte
}

func newOutputSet(dir string) *outputSet {
	return &outputSet{dir: dir, data: map[string][]byte{}}
}

func (o *outputSet) add(name string, data []byte) {
	if _, ok := o.data[name]; !ok {
		o.names = append(o.names, name)
	}
	o.data[name] = data
}

// commit writes every file to a temporary name in the output
// directory, then renames them all into place.
func (o *outputSet) commit() (err error) {
	err = os.MkdirAll(o.dir, 0777)
	if err != nil {
		return err
	}
	tmps := map[string]string{}
	defer func() {
		for _, tmp := range tmps {
			os.Remove(tmp)
		}
	}()
	for _, name := range o.names {
		f, err := ioutil.TempFile(o.dir, "."+name+".tmp-")
		if err != nil {
			return err
		}
		tmps[name] = f.Name()
		_, err = f.Write(o.data[name])
		if err != nil {
			f.Close()
			return err
		}
		err = f.Close()
		if err != nil {
			return err
		}
	}
	for _, name := range o.names {
		err = os.Rename(tmps[name], filepath.Join(o.dir, name))
		if err != nil {
			return err
		}
		delete(tmps, name)
		log.Infof("wrote %s (%d bytes)", filepath.Join(o.dir, name), len(o.data[name]))
	}
	return nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// tsv renders a header and rows as tab-separated text.
type tsv struct {
	bytes.Buffer
}

func newTSV(header ...string) *tsv {
	t := &tsv{}
	t.row(header...)
	return t
}

func (t *tsv) row(fields ...string) {
	t.WriteString(strings.Join(fields, "\t"))
	t.WriteByte('\n')
}

func renderLong(rows []LongRow) []byte {
	t := newTSV("cellcode", "gene", "pseudotime", "raw", "scaled", "gene_cluster")
	for _, r := range rows {
		t.row(r.Cell, r.Gene, ftoa(r.Pseudotime), ftoa(r.Raw), ftoa(r.Scaled), strconv.Itoa(r.GeneCluster))
	}
	return t.Bytes()
}

func renderGenes(tests []GeneTest, gc *GeneClustering, alpha float64) []byte {
	t := newTSV("gene", "statistic", "df", "pvalue", "adjusted_pvalue", "significant", "gene_cluster")
	for _, g := range tests {
		var cl string
		if gc != nil {
			if l := gc.Label(g.Gene); l > 0 {
				cl = strconv.Itoa(l)
			}
		}
		t.row(g.Gene, ftoa(g.Statistic), strconv.Itoa(g.DF), ftoa(g.PValue), ftoa(g.AdjustedP), strconv.FormatBool(g.AdjustedP < alpha), cl)
	}
	return t.Bytes()
}

func renderTrajectory(traj *Trajectory, cells *CellTable) []byte {
	header := []string{"cellcode", "cluster"}
	for l := range traj.Lineages {
		header = append(header, fmt.Sprintf("pseudotime_%d", l+1), fmt.Sprintf("weight_%d", l+1))
	}
	t := newTSV(header...)
	for i, code := range traj.Cells {
		var cluster string
		if c, ok := cells.Lookup(code); ok {
			cluster = c.Cluster
		}
		fields := []string{code, cluster}
		for l := range traj.Lineages {
			fields = append(fields, ftoa(traj.pseudotime[l][i]), ftoa(traj.weights[l][i]))
		}
		t.row(fields...)
	}
	return t.Bytes()
}

func renderSmoothed(s *Smoothed) []byte {
	header := []string{"position", "cellcode", "pseudotime"}
	header = append(header, s.Groups...)
	t := newTSV(header...)
	for r, pos := range s.Position {
		fields := []string{strconv.Itoa(pos), s.Cells[r], ftoa(s.Pseudotime[r])}
		for g := range s.Groups {
			fields = append(fields, ftoa(s.Sums[g][r]))
		}
		t.row(fields...)
	}
	return t.Bytes()
}

func renderTerminals(cmp *TerminalComparison) []byte {
	t := newTSV("terminal", "level", "key", "count", "total", "frac_of_total", "frac_of_terminal", "mean", "se")
	for _, g := range cmp.Groups {
		t.row(g.Terminal, cmp.Attr, g.Group, strconv.Itoa(g.Count), strconv.Itoa(g.GroupSize), ftoa(g.FracGroup), ftoa(g.FracTerminal), "", "")
	}
	for _, g := range cmp.Genotypes {
		t.row(g.Terminal, "hashtag_by_genotype", g.Genotype, strconv.Itoa(g.Hashtags), "", "", "", ftoa(g.Mean), ftoa(g.SE))
	}
	fmt.Fprintf(t, "# chi-square %s by terminal: statistic %s df %d p %s\n", cmp.Attr, ftoa(cmp.ChiSquare), cmp.ChiDF, ftoa(cmp.ChiP))
	return t.Bytes()
}

func renderTerminalGenes(genes []TerminalGene) []byte {
	t := newTSV("gene", "low_n", "low_mean", "low_se", "high_n", "high_mean", "high_se", "t", "df", "pvalue")
	for _, g := range genes {
		t.row(g.Gene, strconv.Itoa(g.LowN), ftoa(g.LowMean), ftoa(g.LowSE), strconv.Itoa(g.HighN), ftoa(g.HighMean), ftoa(g.HighSE), ftoa(g.T), ftoa(g.DF), ftoa(g.PValue))
	}
	return t.Bytes()
}

func renderComposition(rows []CompositionRow, summary []CompositionSummary) []byte {
	t := newTSV("cluster", "hashtag", "genotype", "count", "total", "fraction", "mean", "se")
	for _, r := range rows {
		t.row(r.Cluster, r.Hashtag, r.Genotype, strconv.Itoa(r.Count), strconv.Itoa(r.Total), ftoa(r.Fraction), "", "")
	}
	for _, s := range summary {
		t.row(s.Cluster, "", s.Genotype, strconv.Itoa(s.Hashtags), "", "", ftoa(s.Mean), ftoa(s.SE))
	}
	return t.Bytes()
}

// renderNumpy encodes m as a 2-d float64 numpy array (genes × cells).
func renderNumpy(m *ExprMatrix) ([]byte, error) {
	var buf bytes.Buffer
	bufw := bufio.NewWriter(&buf)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.Row(i)...)
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(data)
	if err != nil {
		return nil, err
	}
	err = bufw.Flush()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
