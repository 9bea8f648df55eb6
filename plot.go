// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 18 * vg.Centimeter
	plotHeight = 12 * vg.Centimeter
)

func renderPlot(p *plot.Plot) ([]byte, error) {
	wt, err := p.WriterTo(plotWidth, plotHeight, "svg")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	_, err = wt.WriteTo(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// plotSmoothed draws one line per group: the windowed membership sum
// against pseudotime. Incomplete windows are left out.
func plotSmoothed(s *Smoothed, title string) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "pseudotime"
	p.Y.Label.Text = "windowed fraction of group"
	for g, name := range s.Groups {
		var xys plotter.XYs
		for r, v := range s.Sums[g] {
			if math.IsNaN(v) {
				continue
			}
			xys = append(xys, plotter.XY{X: s.Pseudotime[r], Y: v})
		}
		if len(xys) == 0 {
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(g)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	return renderPlot(p)
}

// plotGeneClusters draws, for each gene cluster, the mean scaled
// expression of its genes in each cell against the cell's
// pseudotime.
func plotGeneClusters(rows []LongRow, k int) ([]byte, error) {
	type key struct {
		cluster int
		cell    string
	}
	sum := map[key]float64{}
	n := map[key]int{}
	pt := map[string]float64{}
	for _, r := range rows {
		kk := key{r.GeneCluster, r.Cell}
		sum[kk] += r.Scaled
		n[kk]++
		pt[r.Cell] = r.Pseudotime
	}
	series := make([]plotter.XYs, k+1)
	for kk, s := range sum {
		if kk.cluster < 1 || kk.cluster > k {
			continue
		}
		series[kk.cluster] = append(series[kk.cluster], plotter.XY{X: pt[kk.cell], Y: s / float64(n[kk])})
	}

	p := plot.New()
	p.Title.Text = "gene clusters"
	p.X.Label.Text = "pseudotime"
	p.Y.Label.Text = "mean scaled expression"
	for cl := 1; cl <= k; cl++ {
		xys := series[cl]
		if len(xys) == 0 {
			continue
		}
		sort.Slice(xys, func(i, j int) bool {
			if xys[i].X != xys[j].X {
				return xys[i].X < xys[j].X
			}
			return xys[i].Y < xys[j].Y
		})
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(cl - 1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("cluster %d", cl), line)
	}
	return renderPlot(p)
}
