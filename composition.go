// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"sort"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

// CompositionRow is the number of cells from one hashtag in one
// cluster, and that number as a fraction of the hashtag's clustered
// cells.
type CompositionRow struct {
	Cluster  string
	Hashtag  string
	Genotype string
	Count    int
	Total    int
	Fraction float64
}

// CompositionSummary is the mean and standard error, over the
// hashtags of one genotype, of the fraction of cells in one cluster.
type CompositionSummary struct {
	Cluster  string
	Genotype string
	Hashtags int
	Mean     float64
	SE       float64
}

// Composition tabulates every cluster × hashtag pair of the store,
// including empty ones. Cells without a cluster or hashtag are not
// counted.
func Composition(cells *CellTable) ([]CompositionRow, []CompositionSummary) {
	count := map[[2]string]int{}
	total := map[string]int{}
	genotype := map[string]string{}
	for i := 0; i < cells.Len(); i++ {
		c := cells.Cell(i)
		if c.Cluster == "" || c.Hashtag == "" {
			continue
		}
		count[[2]string{c.Cluster, c.Hashtag}]++
		total[c.Hashtag]++
		genotype[c.Hashtag] = c.Genotype
	}
	var hashtags []string
	for h := range total {
		hashtags = append(hashtags, h)
	}
	sort.Strings(hashtags)
	byGenotype := map[string][]string{}
	var genotypes []string
	for _, h := range hashtags {
		g := genotype[h]
		if g == "" {
			continue
		}
		if byGenotype[g] == nil {
			genotypes = append(genotypes, g)
		}
		byGenotype[g] = append(byGenotype[g], h)
	}
	sort.Strings(genotypes)

	var rows []CompositionRow
	var summary []CompositionSummary
	for _, cl := range cells.Clusters() {
		frac := map[string]float64{}
		for _, h := range hashtags {
			n := count[[2]string{cl, h}]
			frac[h] = float64(n) / float64(total[h])
			rows = append(rows, CompositionRow{
				Cluster:  cl,
				Hashtag:  h,
				Genotype: genotype[h],
				Count:    n,
				Total:    total[h],
				Fraction: frac[h],
			})
		}
		for _, g := range genotypes {
			var x stats.Float64Data
			for _, h := range byGenotype[g] {
				x = append(x, frac[h])
			}
			mean, se := meanSE(x)
			summary = append(summary, CompositionSummary{Cluster: cl, Genotype: g, Hashtags: len(x), Mean: mean, SE: se})
		}
	}
	log.Infof("composition: %d clusters × %d hashtags", len(cells.Clusters()), len(hashtags))
	return rows, summary
}
