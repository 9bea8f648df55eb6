// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// ScaleRows returns a copy of m with each gene standardized to zero
// mean and unit (sample) variance across cells. Genes with zero
// variance cannot be scaled; they are left out of the result and
// reported with a warning.
func ScaleRows(m *ExprMatrix) (*ExprMatrix, error) {
	ngenes, ncells := m.Dims()
	if ncells == 0 {
		ngenes = 0
	}
	var genes, constant []string
	data := make([]float64, 0, ngenes*ncells)
	for g := 0; g < ngenes; g++ {
		row := m.Row(g)
		mean, std := stat.MeanStdDev(row, nil)
		if !(std > 0) {
			constant = append(constant, m.Genes[g])
			continue
		}
		for _, v := range row {
			data = append(data, (v-mean)/std)
		}
		genes = append(genes, m.Genes[g])
	}
	if len(constant) > 0 {
		(&DegenerateInputError{Stage: "scaling", Keys: constant, Reason: "zero variance across cells, excluded from clustering"}).warn()
	}
	log.Infof("scaling: %d genes × %d cells", len(genes), ncells)
	return NewExprMatrix(genes, append([]string(nil), m.Cells...), data)
}
