// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// LongRow is one (cell, gene) row of the flat output table.
type LongRow struct {
	Cell        string
	Gene        string
	Pseudotime  float64
	Raw         float64
	Scaled      float64
	GeneCluster int
}

// JoinLong builds the long-form table with one row for every (cell,
// gene) pair present in all inputs: cells with pseudotime, genes in
// the scaled matrix with a cluster label, and both present in the raw
// matrix. Pairs missing from any input are dropped. Rows are ordered
// by gene (scaled matrix order), then by cell (pseudotime order).
func JoinLong(pt *Pseudotime, raw, scaled *ExprMatrix, gc *GeneClustering) []LongRow {
	label := make(map[string]int, len(gc.Genes))
	for i, g := range gc.Genes {
		label[g] = gc.Labels[i]
	}
	type cellCols struct {
		code        string
		pt          float64
		raw, scaled int
	}
	var cells []cellCols
	for i, code := range pt.Cells {
		if math.IsNaN(pt.Values[i]) {
			continue
		}
		rc, ok := raw.CellIndex(code)
		if !ok {
			continue
		}
		sc, ok := scaled.CellIndex(code)
		if !ok {
			continue
		}
		cells = append(cells, cellCols{code, pt.Values[i], rc, sc})
	}
	var rows []LongRow
	for sg, gene := range scaled.Genes {
		cl, ok := label[gene]
		if !ok {
			continue
		}
		rg, ok := raw.GeneIndex(gene)
		if !ok {
			continue
		}
		for _, c := range cells {
			rows = append(rows, LongRow{
				Cell:        c.code,
				Gene:        gene,
				Pseudotime:  c.pt,
				Raw:         raw.At(rg, c.raw),
				Scaled:      scaled.At(sg, c.scaled),
				GeneCluster: cl,
			})
		}
	}
	log.Infof("join: %d rows over %d cells", len(rows), len(cells))
	return rows
}

// CellValue is a (cell, value) pair.
type CellValue struct {
	Cell  string
	Value float64
}

// SplitByGene regroups a long table into per-gene (cell, scaled
// expression) lists, preserving row order.
func SplitByGene(rows []LongRow) map[string][]CellValue {
	out := map[string][]CellValue{}
	for _, r := range rows {
		out[r.Gene] = append(out[r.Gene], CellValue{Cell: r.Cell, Value: r.Scaled})
	}
	return out
}
