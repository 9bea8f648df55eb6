// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"fmt"
	"math"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// PCAOrderer uses the first principal component of the embedding as a
// single-lineage pseudotime, oriented so that the Start cluster (or
// the first cluster of the domain) has the lower mean, and shifted so
// that the minimum is 0.
type PCAOrderer struct {
	Start string
}

func (o PCAOrderer) Order(ctx context.Context, cells *CellTable) (traj *Trajectory, err error) {
	dims := len(cells.Dims())
	if dims == 0 {
		return nil, &ExternalComputationError{Stage: "trajectory inference", Err: fmt.Errorf("no embedding attached")}
	}
	start := o.Start
	if start == "" {
		if clusters := cells.Clusters(); len(clusters) > 0 {
			start = clusters[0]
		}
	}
	var rows []int
	for i := 0; i < cells.Len(); i++ {
		if cells.Cell(i).HasCoords() {
			rows = append(rows, i)
		}
	}
	if len(rows) < 2 {
		return nil, &ExternalComputationError{Stage: "trajectory inference", Err: fmt.Errorf("need at least 2 cells with coordinates, have %d", len(rows))}
	}

	// nlp expects features in rows, observations in columns.
	mtx := mat.NewDense(dims, len(rows), nil)
	for col, i := range rows {
		for d, v := range cells.Cell(i).Coords {
			mtx.Set(d, col, v)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			traj, err = nil, &ExternalComputationError{Stage: "trajectory inference", Err: fmt.Errorf("pca: %v", r)}
		}
	}()
	log.Infof("trajectory: fitting PCA on %d cells × %d dimensions", len(rows), dims)
	transformer := nlp.NewPCA(1)
	transformer.Fit(mtx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := transformer.Transform(mtx)
	if err != nil {
		return nil, &ExternalComputationError{Stage: "trajectory inference", Err: err}
	}

	values := make([]float64, len(rows))
	min := math.Inf(1)
	var startSum, allSum float64
	var startN int
	for col, i := range rows {
		v := pc.At(0, col)
		values[col] = v
		allSum += v
		if cells.Cell(i).Cluster == start {
			startSum += v
			startN++
		}
	}
	sign := 1.0
	if startN > 0 && startSum/float64(startN) > allSum/float64(len(rows)) {
		sign = -1
	}
	for col := range values {
		values[col] *= sign
		min = math.Min(min, values[col])
	}

	lineage := Lineage{Clusters: []string{start}}
	for _, id := range cells.Clusters() {
		if id != start {
			lineage.Clusters = append(lineage.Clusters, id)
		}
	}
	traj = newTrajectory(cells.Codes(), []Lineage{lineage})
	for col, i := range rows {
		traj.pseudotime[0][i] = values[col] - min
		traj.weights[0][i] = 1
	}
	return traj, nil
}
