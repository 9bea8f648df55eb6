// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ExprMatrix holds a gene × cell matrix of raw counts or normalized
// expression, indexed by gene symbol and cellcode.
type ExprMatrix struct {
	Genes []string
	Cells []string

	geneIdx map[string]int
	cellIdx map[string]int
	data    *mat.Dense
	totals  []float64 // per-cell sums over all genes read, counts only
}

// NewExprMatrix returns a matrix with the given row (gene) and column
// (cell) keys. data is row-major and is retained.
func NewExprMatrix(genes, cells []string, data []float64) (*ExprMatrix, error) {
	if len(data) != len(genes)*len(cells) {
		return nil, fmt.Errorf("matrix data has %d values, expected %d genes × %d cells", len(data), len(genes), len(cells))
	}
	m := &ExprMatrix{
		Genes:   genes,
		Cells:   cells,
		geneIdx: make(map[string]int, len(genes)),
		cellIdx: make(map[string]int, len(cells)),
	}
	for i, g := range genes {
		if _, dup := m.geneIdx[g]; dup {
			return nil, &AlignmentError{Kind: "gene", Key: g, Reason: "duplicate gene in expression matrix"}
		}
		m.geneIdx[g] = i
	}
	for i, c := range cells {
		if _, dup := m.cellIdx[c]; dup {
			return nil, &AlignmentError{Kind: "cell", Key: c, Reason: "duplicate cell in expression matrix"}
		}
		m.cellIdx[c] = i
	}
	if len(genes) > 0 && len(cells) > 0 {
		m.data = mat.NewDense(len(genes), len(cells), data)
	}
	return m, nil
}

func (m *ExprMatrix) Dims() (genes, cells int) { return len(m.Genes), len(m.Cells) }

func (m *ExprMatrix) At(gene, cell int) float64 { return m.data.At(gene, cell) }

func (m *ExprMatrix) GeneIndex(gene string) (int, bool) {
	i, ok := m.geneIdx[gene]
	return i, ok
}

func (m *ExprMatrix) CellIndex(cell string) (int, bool) {
	i, ok := m.cellIdx[cell]
	return i, ok
}

// Row returns a copy of the values for gene i across all cells.
func (m *ExprMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.data)
}

// Subset returns a new matrix restricted to the given genes and
// cells, in the given order. Every requested key must be present.
func (m *ExprMatrix) Subset(genes, cells []string) (*ExprMatrix, error) {
	gi := make([]int, len(genes))
	for i, g := range genes {
		idx, ok := m.geneIdx[g]
		if !ok {
			return nil, &AlignmentError{Kind: "gene", Key: g, Reason: "not present in expression matrix"}
		}
		gi[i] = idx
	}
	ci := make([]int, len(cells))
	for i, c := range cells {
		idx, ok := m.cellIdx[c]
		if !ok {
			return nil, &AlignmentError{Kind: "cell", Key: c, Reason: "not present in expression matrix"}
		}
		ci[i] = idx
	}
	data := make([]float64, 0, len(gi)*len(ci))
	for _, g := range gi {
		for _, c := range ci {
			data = append(data, m.data.At(g, c))
		}
	}
	return NewExprMatrix(append([]string(nil), genes...), append([]string(nil), cells...), data)
}

// loadMatrix returns the expression data held in the tab-delimited
// file at path. The first row is "gene" (or "Geneid") followed by
// cellcodes; each following row is a gene symbol followed by one value
// per cell. If keep is non-nil, rows for genes not in keep are
// skipped. If counts is true, values must be non-negative.
func loadMatrix(path string, keep map[string]bool, counts bool) (*ExprMatrix, error) {
	f, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := readMatrix(f, keep, counts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("loaded %d genes × %d cells from %s", len(m.Genes), len(m.Cells), path)
	return m, nil
}

func readMatrix(r io.Reader, keep map[string]bool, counts bool) (*ExprMatrix, error) {
	c := csv.NewReader(r)
	c.Comma = '\t'
	c.Comment = '#'

	labels, err := c.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if labels[0] != "gene" && labels[0] != "Geneid" {
		return nil, fmt.Errorf(`unexpected first column name: %q != "gene"`, labels[0])
	}
	cells := append([]string(nil), labels[1:]...)

	var genes []string
	var data []float64
	totals := make([]float64, len(cells))
	c.ReuseRecord = true
	for {
		rec, err := c.Read()
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			break
		}
		gene := rec[0]
		skip := keep != nil && !keep[gene]
		if skip && !counts {
			continue
		}
		if !skip {
			genes = append(genes, gene)
		}
		for i, f := range rec[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("error parsing value for %q in cell %q: %v", gene, cells[i], err)
			}
			if counts && v < 0 {
				return nil, fmt.Errorf("negative count %v for %q in cell %q", v, gene, cells[i])
			}
			if counts {
				totals[i] += v
			}
			if !skip {
				data = append(data, v)
			}
		}
	}
	m, err := NewExprMatrix(genes, cells, data)
	if err != nil {
		return nil, err
	}
	if counts {
		m.totals = totals
	}
	return m, nil
}

// LibrarySizes returns the total counts of each cell over every gene
// in the source file, including genes that were not loaded. It is nil
// unless the matrix was loaded as counts.
func (m *ExprMatrix) LibrarySizes() map[string]float64 {
	if m.totals == nil {
		return nil
	}
	sizes := make(map[string]float64, len(m.Cells))
	for i, c := range m.Cells {
		sizes[c] = m.totals[i]
	}
	return sizes
}
