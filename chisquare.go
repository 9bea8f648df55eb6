// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// chiSquareTest runs Pearson's test of independence on a contingency
// table of observed counts. Rows and columns whose margin is zero are
// ignored. If fewer than two rows or columns remain, the test is
// undefined and p is 1.
func chiSquareTest(obs [][]float64) (stat float64, df int, p float64) {
	var rowsum, colsum []float64
	var rows, cols []int
	var total float64
	ncols := 0
	for _, row := range obs {
		if len(row) > ncols {
			ncols = len(row)
		}
	}
	colsum = make([]float64, ncols)
	for i, row := range obs {
		var sum float64
		for j, v := range row {
			sum += v
			colsum[j] += v
		}
		if sum > 0 {
			rows = append(rows, i)
			rowsum = append(rowsum, sum)
			total += sum
		}
	}
	for j, sum := range colsum {
		if sum > 0 {
			cols = append(cols, j)
		}
	}
	if len(rows) < 2 || len(cols) < 2 {
		return 0, 0, 1
	}
	for ri, i := range rows {
		for _, j := range cols {
			var o float64
			if j < len(obs[i]) {
				o = obs[i][j]
			}
			e := rowsum[ri] * colsum[j] / total
			d := o - e
			stat += d * d / e
		}
	}
	df = (len(rows) - 1) * (len(cols) - 1)
	return stat, df, distuv.ChiSquared{K: float64(df)}.Survival(stat)
}
