// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"errors"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Merge is one agglomeration step: the clusters containing leaves A
// and B are joined at the given height.
type Merge struct {
	A, B   int
	Height float64
}

// Dendrogram is the result of agglomerative clustering of Leaves.
// Merges are sorted by height (ties in the order they were found).
type Dendrogram struct {
	Leaves []string
	Merges []Merge
}

// CompleteLinkage clusters the rows of m by Euclidean distance with
// the complete-linkage (maximum distance) criterion, using the
// nearest-neighbor chain algorithm. Ties are broken by lowest row
// index, so the result depends only on the input.
func CompleteLinkage(m *ExprMatrix) (*Dendrogram, error) {
	n, _ := m.Dims()
	if n == 0 {
		return &Dendrogram{}, nil
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = m.Row(i)
		for _, v := range rows[i] {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("gene clustering: NaN expression value for %q", m.Genes[i])
			}
		}
	}
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(rows[i], rows[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}

	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}
	merges := make([]Merge, 0, n-1)
	var chain []int
	for remaining := n; remaining > 1; {
		if len(chain) == 0 {
			for i, ok := range active {
				if ok {
					chain = append(chain, i)
					break
				}
			}
		}
		a := chain[len(chain)-1]
		prev, best, bestD := -1, -1, math.Inf(1)
		if len(chain) > 1 {
			prev = chain[len(chain)-2]
			best, bestD = prev, dist[a][prev]
		}
		for j := 0; j < n; j++ {
			if active[j] && j != a && dist[a][j] < bestD {
				best, bestD = j, dist[a][j]
			}
		}
		if best != prev {
			chain = append(chain, best)
			continue
		}
		// a and prev are reciprocal nearest neighbors.
		chain = chain[:len(chain)-2]
		keep, drop := a, prev
		if drop < keep {
			keep, drop = drop, keep
		}
		merges = append(merges, Merge{A: keep, B: drop, Height: bestD})
		active[drop] = false
		for k := 0; k < n; k++ {
			if active[k] && k != keep {
				d := math.Max(dist[keep][k], dist[drop][k])
				dist[keep][k], dist[k][keep] = d, d
			}
		}
		remaining--
	}
	sort.SliceStable(merges, func(i, j int) bool { return merges[i].Height < merges[j].Height })
	return &Dendrogram{Leaves: append([]string(nil), m.Genes...), Merges: merges}, nil
}

// CutK partitions the leaves into k groups by applying the n-k lowest
// merges. Labels are 1..k, numbered in order of each group's first
// leaf.
func (d *Dendrogram) CutK(k int) ([]int, error) {
	n := len(d.Leaves)
	if k < 1 || k > n {
		return nil, fmt.Errorf("cannot cut %d genes into %d clusters", n, k)
	}
	return d.apply(n - k), nil
}

// CutHeight partitions the leaves by applying every merge at or below
// height h.
func (d *Dendrogram) CutHeight(h float64) []int {
	var steps int
	for steps < len(d.Merges) && d.Merges[steps].Height <= h {
		steps++
	}
	return d.apply(steps)
}

func (d *Dendrogram) apply(steps int) []int {
	n := len(d.Leaves)
	group := make([]int, n)
	members := make([][]int, n)
	for i := range group {
		group[i] = i
		members[i] = []int{i}
	}
	for _, m := range d.Merges[:steps] {
		ga, gb := group[m.A], group[m.B]
		if ga == gb {
			continue
		}
		if gb < ga {
			ga, gb = gb, ga
		}
		for _, leaf := range members[gb] {
			group[leaf] = ga
		}
		members[ga] = append(members[ga], members[gb]...)
		members[gb] = nil
	}
	labels := make([]int, n)
	renumber := map[int]int{}
	for i, g := range group {
		if _, ok := renumber[g]; !ok {
			renumber[g] = len(renumber) + 1
		}
		labels[i] = renumber[g]
	}
	return labels
}

// GeneClustering assigns each gene a cluster label in 1..K.
type GeneClustering struct {
	Genes      []string
	Labels     []int
	K          int
	Dendrogram *Dendrogram
}

// Label returns the cluster of gene, or 0 if the gene was not
// clustered.
func (gc *GeneClustering) Label(gene string) int {
	for i, g := range gc.Genes {
		if g == gene {
			return gc.Labels[i]
		}
	}
	return 0
}

// ClusterGenes clusters the rows of a scaled expression matrix and
// cuts the tree into k groups, or, if k is 0, at the given height.
func ClusterGenes(scaled *ExprMatrix, k int, height float64) (*GeneClustering, error) {
	if k > 0 && height > 0 {
		return nil, errors.New("gene clustering: specify either a cluster count or a cut height, not both")
	}
	if k <= 0 && !(height > 0) {
		return nil, errors.New("gene clustering: need a cluster count or a cut height")
	}
	ngenes, _ := scaled.Dims()
	if ngenes == 0 {
		return &GeneClustering{Dendrogram: &Dendrogram{}}, nil
	}
	log.Infof("gene clustering: complete linkage over %d genes", ngenes)
	dend, err := CompleteLinkage(scaled)
	if err != nil {
		return nil, err
	}
	var labels []int
	if k > 0 {
		if k > ngenes {
			log.Warnf("gene clustering: %d clusters requested but only %d genes, using %d", k, ngenes, ngenes)
			k = ngenes
		}
		labels, err = dend.CutK(k)
		if err != nil {
			return nil, err
		}
	} else {
		labels = dend.CutHeight(height)
		for _, l := range labels {
			if l > k {
				k = l
			}
		}
		log.Infof("gene clustering: cut at height %g gives %d clusters", height, k)
	}
	return &GeneClustering{
		Genes:      append([]string(nil), scaled.Genes...),
		Labels:     labels,
		K:          k,
		Dendrogram: dend,
	}, nil
}
