// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"runtime"

	"github.com/arvados/pseudotime/spline"
	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// A Tester tests each gene for association between its counts and
// pseudotime. Results are returned in the order of genes, minus any
// genes excluded as degenerate. AdjustedP is left for the caller.
type Tester interface {
	Test(ctx context.Context, counts *ExprMatrix, pt *Pseudotime, genes []string) ([]GeneTest, error)
}

// GeneTest is the association test result for one gene.
type GeneTest struct {
	Gene      string
	Statistic float64
	DF        int
	PValue    float64
	AdjustedP float64
}

// GAMTester fits, for each gene, a Poisson regression of counts on a
// cubic B-spline basis of pseudotime with log library size as offset,
// weighting each cell by its lineage weight, and reports the likelihood ratio test against the intercept-only
// model. The IRLS fit is deterministic, so repeated runs on the same
// input give identical results.
type GAMTester struct {
	// Knots is the number of spline knots, including the two
	// boundary knots.
	Knots int

	// Threads is the number of genes fitted concurrently
	// (default GOMAXPROCS).
	Threads int

	// LibrarySize maps cellcode to total counts. If nil, the
	// count matrix's library sizes (or column sums) are used.
	LibrarySize map[string]float64
}

var gamConfig = &glm.Config{
	Family:    glm.NewFamily(glm.PoissonFamily),
	FitMethod: "IRLS",
	OffsetVar: "offset",
	WeightVar: "weight",
	Log:       log.New(io.Discard, "", 0),
}

// gamDesign holds the covariate columns shared by every per-gene fit.
type gamDesign struct {
	cells   []int // column in the count matrix
	columns [][]statmodel.Dtype
	names   []string
}

func (t GAMTester) Test(ctx context.Context, counts *ExprMatrix, pt *Pseudotime, genes []string) ([]GeneTest, error) {
	design, err := t.design(counts, pt)
	if err != nil {
		return nil, err
	}
	df := len(design.names) - 2
	logrus.Infof("association: testing %d genes over %d cells, %d spline terms", len(genes), len(design.cells), df)

	rows := make([]int, len(genes))
	for i, g := range genes {
		row, ok := counts.GeneIndex(g)
		if !ok {
			return nil, &AlignmentError{Kind: "gene", Key: g, Source: "count matrix", Reason: "gene to be tested is missing"}
		}
		rows[i] = row
	}

	results := make([]GeneTest, len(genes))
	skip := make([]bool, len(genes))
	threads := t.Threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	thr := throttle{
		Max: threads,
		Progress: func(done int) {
			if done%1000 == 0 {
				logrus.Infof("association: %d/%d genes fitted", done, len(genes))
			}
		},
	}
	for i := range genes {
		i := i
		ok := thr.Go(ctx, func() error {
			y := make([]statmodel.Dtype, len(design.cells))
			var total float64
			for j, col := range design.cells {
				y[j] = counts.At(rows[i], col)
				total += y[j]
			}
			if total == 0 {
				skip[i] = true
				return nil
			}
			stat, err := lrt(y, design)
			if err != nil {
				return &ExternalComputationError{Stage: "association test", Key: genes[i], Err: err}
			}
			results[i] = GeneTest{
				Gene:      genes[i],
				Statistic: stat,
				DF:        df,
				PValue:    distuv.ChiSquared{K: float64(df)}.Survival(stat),
				AdjustedP: math.NaN(),
			}
			return nil
		})
		if !ok {
			break
		}
	}
	err = thr.Wait(ctx)
	if err != nil {
		return nil, err
	}

	var out []GeneTest
	var zero []string
	for i, r := range results {
		if skip[i] {
			zero = append(zero, genes[i])
			continue
		}
		out = append(out, r)
	}
	if len(zero) > 0 {
		(&DegenerateInputError{Stage: "association test", Keys: zero, Reason: "no counts in trajectory cells, excluded"}).warn()
	}
	return out, nil
}

func (t GAMTester) design(counts *ExprMatrix, pt *Pseudotime) (*gamDesign, error) {
	libsize := t.LibrarySize
	if libsize == nil {
		libsize = counts.LibrarySizes()
	}
	if libsize == nil {
		libsize = librarySizes(counts)
	}
	var cells []int
	var x, offset, weight []float64
	var nolib int
	for i, code := range pt.Cells {
		w := 1.0
		if pt.Weights != nil {
			w = pt.Weights[i]
		}
		if math.IsNaN(pt.Values[i]) || !(w > 0) {
			continue
		}
		col, ok := counts.CellIndex(code)
		if !ok {
			return nil, &AlignmentError{Kind: "cell", Key: code, Source: "count matrix", Reason: "cell with pseudotime has no counts"}
		}
		if libsize[code] <= 0 {
			nolib++
			continue
		}
		cells = append(cells, col)
		x = append(x, pt.Values[i])
		offset = append(offset, math.Log(libsize[code]))
		weight = append(weight, w)
	}
	if nolib > 0 {
		(&DegenerateInputError{Stage: "association test", Reason: fmt.Sprintf("%d cells with zero library size excluded", nolib)}).warn()
	}
	if len(cells) == 0 {
		return nil, &ExternalComputationError{Stage: "association test", Err: errors.New("no cells with pseudotime")}
	}
	basis, err := spline.NewQuantileBasis(x, t.Knots)
	if err != nil {
		return nil, &ExternalComputationError{Stage: "association test", Err: fmt.Errorf("spline basis: %w", err)}
	}

	// The basis sums to 1 everywhere, so the first function is
	// dropped to keep the design identifiable with an intercept.
	nterms := basis.Len() - 1
	if nterms < 1 {
		return nil, &ExternalComputationError{Stage: "association test", Err: errors.New("spline basis has no free terms")}
	}
	design := &gamDesign{cells: cells, names: []string{"y", "icept"}}
	icept := make([]statmodel.Dtype, len(cells))
	terms := make([][]statmodel.Dtype, nterms)
	for k := range terms {
		terms[k] = make([]statmodel.Dtype, len(cells))
		design.names = append(design.names, fmt.Sprintf("s%d", k+1))
	}
	b := make([]float64, basis.Len())
	for j, v := range x {
		icept[j] = 1
		basis.Eval(v, b)
		for k := range terms {
			terms[k][j] = b[k+1]
		}
	}
	design.columns = append([][]statmodel.Dtype{nil, icept}, terms...)
	design.columns = append(design.columns, offset, weight)
	return design, nil
}

// lrt returns the likelihood ratio statistic of the spline model
// against the intercept-only model.
func lrt(y []statmodel.Dtype, design *gamDesign) (stat float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			// typically "matrix singular or near-singular"
			stat, err = math.NaN(), fmt.Errorf("glm: %v", r)
		}
	}()
	data := append([][]statmodel.Dtype{y}, design.columns[1:]...)
	names := append(append([]string(nil), design.names...), "offset", "weight")
	dataset := statmodel.NewDataset(data, names)

	null, err := glm.NewGLM(dataset, "y", []string{"icept"}, gamConfig)
	if err != nil {
		return math.NaN(), err
	}
	full, err := glm.NewGLM(dataset, "y", design.names[1:], gamConfig)
	if err != nil {
		return math.NaN(), err
	}
	llNull := null.Fit().LogLike()
	llFull := full.Fit().LogLike()
	stat = -2 * (llNull - llFull)
	if math.IsNaN(stat) || math.IsInf(stat, 0) {
		return math.NaN(), fmt.Errorf("non-finite likelihood ratio (null %v, full %v)", llNull, llFull)
	}
	if stat < 0 {
		// IRLS tolerance can leave the nested fit fractionally ahead.
		stat = 0
	}
	return stat, nil
}

// librarySizes returns the total counts of each cell in m.
func librarySizes(m *ExprMatrix) map[string]float64 {
	sizes := make(map[string]float64, len(m.Cells))
	genes, cells := m.Dims()
	for c := 0; c < cells; c++ {
		var sum float64
		for g := 0; g < genes; g++ {
			sum += m.At(g, c)
		}
		sizes[m.Cells[c]] = sum
	}
	return sizes
}
