// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// Terminal names.
const (
	TerminalLow  = "low"
	TerminalHigh = "high"
)

// Terminals holds the cells at each end of a pseudotime ordering.
type Terminals struct {
	Low  []string
	High []string
}

// SelectTerminals picks the cells with the n lowest and the n highest
// distinct pseudotime values. Cells sharing a value share a dense rank
// and are selected together, so a terminal can hold more than n cells.
// A cell is never in both terminals: if the ends meet, the cells they
// share are dropped from both.
func SelectTerminals(pt *Pseudotime, n int) (*Terminals, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid terminal size %d", n)
	}
	order := sortedIndex(pt.Values, false)
	if 2*n > len(order) {
		return nil, fmt.Errorf("terminal size %d needs at least %d cells with pseudotime, have %d", n, 2*n, len(order))
	}
	rank := make([]int, len(order))
	for k, i := range order {
		switch {
		case k == 0:
			rank[k] = 1
		case pt.Values[i] == pt.Values[order[k-1]]:
			rank[k] = rank[k-1]
		default:
			rank[k] = rank[k-1] + 1
		}
	}
	maxRank := rank[len(rank)-1]
	var low, high []int
	var overlap int
	for k, i := range order {
		inLow := rank[k] <= n
		inHigh := rank[k] > maxRank-n
		switch {
		case inLow && inHigh:
			overlap++
		case inLow:
			low = append(low, i)
		case inHigh:
			high = append(high, i)
		}
	}
	if overlap > 0 {
		log.Warnf("terminals: only %d distinct pseudotime values, dropped %d cells that fall in both terminals", maxRank, overlap)
	}
	t := &Terminals{}
	for _, i := range low {
		t.Low = append(t.Low, pt.Cells[i])
	}
	// highest pseudotime first
	for k := len(high) - 1; k >= 0; k-- {
		t.High = append(t.High, pt.Cells[high[k]])
	}
	log.Infof("terminals: %d low cells, %d high cells (size %d)", len(t.Low), len(t.High), n)
	return t, nil
}

// TerminalGroup counts the cells of one group in one terminal.
type TerminalGroup struct {
	Terminal     string
	Group        string
	Count        int
	GroupSize    int     // cells of the group with pseudotime
	FracTerminal float64 // Count / terminal size
	FracGroup    float64 // Count / GroupSize
}

// TerminalGenotype summarizes, for one terminal and genotype, the
// fraction of each hashtag's cells that fall in the terminal, as a
// mean and standard error over the genotype's hashtags.
type TerminalGenotype struct {
	Terminal string
	Genotype string
	Hashtags int
	Mean     float64
	SE       float64
}

// TerminalGene compares the expression of one gene between the two
// terminals with Welch's t-test.
type TerminalGene struct {
	Gene     string
	LowN     int
	LowMean  float64
	LowSE    float64
	HighN    int
	HighMean float64
	HighSE   float64
	T        float64
	DF       float64
	PValue   float64
}

// TerminalComparison is the result of CompareTerminals.
type TerminalComparison struct {
	Terminals
	Attr      string
	Groups    []TerminalGroup
	Genotypes []TerminalGenotype
	// Pearson chi-square test of group by terminal.
	ChiSquare float64
	ChiDF     int
	ChiP      float64
	Genes     []TerminalGene
}

// CompareTerminalsOptions controls CompareTerminals.
type CompareTerminalsOptions struct {
	Size  int    // cells per terminal
	Attr  string // grouping attribute, default "genotype"
	Genes []string
}

// CompareTerminals selects the terminals of pt and aggregates the
// cell metadata and the expression of opts.Genes (from expr, which may
// be nil) within each.
func CompareTerminals(pt *Pseudotime, cells *CellTable, expr *ExprMatrix, opts CompareTerminalsOptions) (*TerminalComparison, error) {
	if opts.Attr == "" {
		opts.Attr = "genotype"
	}
	terms, err := SelectTerminals(pt, opts.Size)
	if err != nil {
		return nil, err
	}
	labels, err := GroupLabels(cells, pt, opts.Attr)
	if err != nil {
		return nil, err
	}
	cmp := &TerminalComparison{Terminals: *terms, Attr: opts.Attr}

	sizes := map[string]int{}
	for i, v := range pt.Values {
		if !math.IsNaN(v) && labels[i] != "" {
			sizes[labels[i]]++
		}
	}
	var groups []string
	for g := range sizes {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	label := map[string]string{}
	for i, code := range pt.Cells {
		label[code] = labels[i]
	}
	table := make([][]float64, len(groups))
	for gi, g := range groups {
		table[gi] = make([]float64, 2)
		for ti, term := range [][]string{terms.Low, terms.High} {
			count := 0
			for _, code := range term {
				if label[code] == g {
					count++
				}
			}
			table[gi][ti] = float64(count)
			cmp.Groups = append(cmp.Groups, TerminalGroup{
				Terminal:     []string{TerminalLow, TerminalHigh}[ti],
				Group:        g,
				Count:        count,
				GroupSize:    sizes[g],
				FracTerminal: float64(count) / float64(len(term)),
				FracGroup:    float64(count) / float64(sizes[g]),
			})
		}
	}
	cmp.ChiSquare, cmp.ChiDF, cmp.ChiP = chiSquareTest(table)

	cmp.Genotypes, err = summarizeHashtags(pt, cells, terms)
	if err != nil {
		return nil, err
	}
	if expr != nil {
		cmp.Genes = compareGenes(expr, terms, opts.Genes)
	}
	log.Infof("terminals: %s by terminal chi-square %.4g df %d p %.4g", opts.Attr, cmp.ChiSquare, cmp.ChiDF, cmp.ChiP)
	return cmp, nil
}

// summarizeHashtags computes, per terminal, the fraction of each
// hashtag's cells in the terminal, and summarizes those fractions per
// genotype.
func summarizeHashtags(pt *Pseudotime, cells *CellTable, terms *Terminals) ([]TerminalGenotype, error) {
	hashtagSize := map[string]int{}
	genotypeOf := map[string]string{}
	for i, code := range pt.Cells {
		if math.IsNaN(pt.Values[i]) {
			continue
		}
		c, ok := cells.Lookup(code)
		if !ok {
			return nil, &AlignmentError{Kind: "cell", Key: code, Source: "metadata store", Reason: "cell in trajectory has no metadata"}
		}
		if c.Hashtag == "" || c.Genotype == "" {
			continue
		}
		hashtagSize[c.Hashtag]++
		genotypeOf[c.Hashtag] = c.Genotype
	}
	byGenotype := map[string][]string{}
	for h, g := range genotypeOf {
		byGenotype[g] = append(byGenotype[g], h)
	}
	var genotypes []string
	for g, hs := range byGenotype {
		sort.Strings(hs)
		genotypes = append(genotypes, g)
	}
	sort.Strings(genotypes)

	var out []TerminalGenotype
	for ti, term := range [][]string{terms.Low, terms.High} {
		count := map[string]int{}
		for _, code := range term {
			c, _ := cells.Lookup(code)
			count[c.Hashtag]++
		}
		for _, g := range genotypes {
			var fracs stats.Float64Data
			for _, h := range byGenotype[g] {
				fracs = append(fracs, float64(count[h])/float64(hashtagSize[h]))
			}
			mean, se := meanSE(fracs)
			out = append(out, TerminalGenotype{
				Terminal: []string{TerminalLow, TerminalHigh}[ti],
				Genotype: g,
				Hashtags: len(fracs),
				Mean:     mean,
				SE:       se,
			})
		}
	}
	return out, nil
}

func compareGenes(expr *ExprMatrix, terms *Terminals, genes []string) []TerminalGene {
	cols := func(codes []string) []int {
		var idx []int
		for _, code := range codes {
			if j, ok := expr.CellIndex(code); ok {
				idx = append(idx, j)
			}
		}
		return idx
	}
	low, high := cols(terms.Low), cols(terms.High)
	var out []TerminalGene
	for _, gene := range genes {
		g, ok := expr.GeneIndex(gene)
		if !ok {
			continue
		}
		var a, b stats.Float64Data
		for _, j := range low {
			a = append(a, expr.At(g, j))
		}
		for _, j := range high {
			b = append(b, expr.At(g, j))
		}
		tg := TerminalGene{Gene: gene, LowN: len(a), HighN: len(b)}
		tg.LowMean, tg.LowSE = meanSE(a)
		tg.HighMean, tg.HighSE = meanSE(b)
		tg.T, tg.DF, tg.PValue = welch(tg.LowMean, tg.LowSE, len(a), tg.HighMean, tg.HighSE, len(b))
		out = append(out, tg)
	}
	return out
}

// meanSE returns the mean and standard error of the mean of x. Both
// are NaN for empty input; SE is NaN for a single value.
func meanSE(x stats.Float64Data) (mean, se float64) {
	mean, err := stats.Mean(x)
	if err != nil {
		return math.NaN(), math.NaN()
	}
	if len(x) < 2 {
		return mean, math.NaN()
	}
	sd, err := stats.StandardDeviationSample(x)
	if err != nil {
		return mean, math.NaN()
	}
	return mean, sd / math.Sqrt(float64(len(x)))
}

// welch returns the t statistic, Welch-Satterthwaite degrees of
// freedom, and two-sided p-value for the difference of two means,
// given their standard errors.
func welch(m1, se1 float64, n1 int, m2, se2 float64, n2 int) (t, df, p float64) {
	if n1 < 2 || n2 < 2 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	v1, v2 := se1*se1, se2*se2
	if v1+v2 == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	t = (m1 - m2) / math.Sqrt(v1+v2)
	df = (v1 + v2) * (v1 + v2) / (v1*v1/float64(n1-1) + v2*v2/float64(n2-1))
	p = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
	return t, df, p
}
