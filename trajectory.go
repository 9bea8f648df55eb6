// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/theodesp/unionfind"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// An Orderer infers a trajectory from the embedding coordinates and
// cluster labels of the cells in a (cluster-subset) metadata store.
//
// Implementations must be deterministic for a given input, and must
// leave cells that are not part of a lineage with NaN pseudotime and
// zero weight.
type Orderer interface {
	Order(ctx context.Context, cells *CellTable) (*Trajectory, error)
}

// Lineage is one branch of a trajectory, described by the ordered
// list of clusters it passes through.
type Lineage struct {
	Clusters []string
}

// Trajectory holds, for each lineage, a pseudotime value and a weight
// for every cell. Per-cell weights sum to at most 1 across lineages.
type Trajectory struct {
	Cells    []string
	Lineages []Lineage

	pseudotime [][]float64
	weights    [][]float64
}

func newTrajectory(cells []string, lineages []Lineage) *Trajectory {
	t := &Trajectory{Cells: cells, Lineages: lineages}
	for range lineages {
		pt := make([]float64, len(cells))
		for i := range pt {
			pt[i] = math.NaN()
		}
		t.pseudotime = append(t.pseudotime, pt)
		t.weights = append(t.weights, make([]float64, len(cells)))
	}
	return t
}

// Pseudotime is the ordering of cells along one lineage. Values[i] is
// NaN if Cells[i] is not on the lineage. Weights, if not nil, holds
// each cell's lineage weight; nil means every cell has weight 1.
type Pseudotime struct {
	Cells   []string
	Values  []float64
	Weights []float64
}

// Lineage returns the pseudotime ordering of lineage l.
func (t *Trajectory) Lineage(l int) (*Pseudotime, error) {
	if l < 0 || l >= len(t.Lineages) {
		return nil, fmt.Errorf("lineage %d out of range (trajectory has %d lineages)", l+1, len(t.Lineages))
	}
	return &Pseudotime{
		Cells:   append([]string(nil), t.Cells...),
		Values:  append([]float64(nil), t.pseudotime[l]...),
		Weights: t.Weights(l),
	}, nil
}

// Weights returns a copy of the per-cell weights for lineage l.
func (t *Trajectory) Weights(l int) []float64 {
	return append([]float64(nil), t.weights[l]...)
}

// Reverse returns a copy of t with the direction of lineage l flipped,
// so that the cell with the highest pseudotime gets 0.
func (t *Trajectory) Reverse(l int) *Trajectory {
	n := &Trajectory{
		Cells:      t.Cells,
		Lineages:   append([]Lineage(nil), t.Lineages...),
		pseudotime: append([][]float64(nil), t.pseudotime...),
		weights:    t.weights,
	}
	clusters := append([]string(nil), t.Lineages[l].Clusters...)
	for i, j := 0, len(clusters)-1; i < j; i, j = i+1, j-1 {
		clusters[i], clusters[j] = clusters[j], clusters[i]
	}
	n.Lineages[l] = Lineage{Clusters: clusters}
	max := math.Inf(-1)
	for _, v := range t.pseudotime[l] {
		if !math.IsNaN(v) && v > max {
			max = v
		}
	}
	pt := make([]float64, len(t.pseudotime[l]))
	for i, v := range t.pseudotime[l] {
		pt[i] = max - v
	}
	n.pseudotime[l] = pt
	return n
}

// MSTOrderer orders cells along the minimum spanning tree of the
// cluster centroids. Each path from the Start cluster to a leaf of
// the tree is a lineage; a cell on a lineage is projected onto the
// piecewise-linear path through the centroids and its pseudotime is
// the arc length to the projection.
type MSTOrderer struct {
	// Start is the root cluster. If empty, the first cluster of
	// the domain is used.
	Start string
}

type centroid struct {
	cluster string
	coords  []float64
}

func (o MSTOrderer) Order(ctx context.Context, cells *CellTable) (*Trajectory, error) {
	cents, err := clusterCentroids(cells)
	if err != nil {
		return nil, &ExternalComputationError{Stage: "trajectory inference", Err: err}
	}
	start := 0
	if o.Start != "" {
		start = -1
		for i, c := range cents {
			if c.cluster == o.Start {
				start = i
			}
		}
		if start < 0 {
			return nil, &ExternalComputationError{Stage: "trajectory inference", Err: fmt.Errorf("start cluster %q is not in the cluster subset (or has no coordinates)", o.Start)}
		}
	}
	log.Infof("trajectory: spanning tree over %d cluster centroids, start %s", len(cents), cents[start].cluster)

	mst := spanningTree(cents)
	shortest := path.DijkstraFrom(simple.Node(start), mst)
	var lineages []Lineage
	var paths [][]int
	for i := range cents {
		if i == start || mst.From(int64(i)).Len() != 1 {
			continue
		}
		nodes, _ := shortest.To(int64(i))
		if len(nodes) < 2 {
			return nil, &ExternalComputationError{Stage: "trajectory inference", Err: fmt.Errorf("no path from %s to %s in spanning tree", cents[start].cluster, cents[i].cluster)}
		}
		var l Lineage
		var p []int
		for _, n := range nodes {
			l.Clusters = append(l.Clusters, cents[n.ID()].cluster)
			p = append(p, int(n.ID()))
		}
		lineages = append(lineages, l)
		paths = append(paths, p)
	}
	if len(lineages) == 0 {
		return nil, &ExternalComputationError{Stage: "trajectory inference", Err: errors.New("spanning tree has no leaves")}
	}

	traj := newTrajectory(cells.Codes(), lineages)
	shared := map[string]int{}
	for _, l := range lineages {
		for _, c := range l.Clusters {
			shared[c]++
		}
	}
	for li, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		onLineage := map[string]bool{}
		for _, c := range lineages[li].Clusters {
			onLineage[c] = true
		}
		points := make([][]float64, len(p))
		for i, ci := range p {
			points[i] = cents[ci].coords
		}
		var n int
		for i := 0; i < cells.Len(); i++ {
			c := cells.Cell(i)
			if !onLineage[c.Cluster] || !c.HasCoords() {
				continue
			}
			traj.pseudotime[li][i] = projectOnPath(c.Coords, points)
			traj.weights[li][i] = 1 / float64(shared[c.Cluster])
			n++
		}
		log.Infof("trajectory: lineage %d %v covers %d cells", li+1, lineages[li].Clusters, n)
	}
	return traj, nil
}

type centroidEdge struct {
	i, j   int
	weight float64
}

// spanningTree returns the minimum spanning tree of the complete
// graph on cents, weighted by Euclidean distance. Among edges of equal
// weight, the one whose endpoints come first in domain order is taken
// first, so ties always resolve the same way.
func spanningTree(cents []centroid) *simple.WeightedUndirectedGraph {
	var edges []centroidEdge
	for i := range cents {
		for j := i + 1; j < len(cents); j++ {
			edges = append(edges, centroidEdge{i: i, j: j, weight: floats.Distance(cents[i].coords, cents[j].coords, 2)})
		}
	}
	sort.SliceStable(edges, func(a, b int) bool { return edges[a].weight < edges[b].weight })

	mst := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range cents {
		mst.AddNode(simple.Node(i))
	}
	uf := unionfind.NewThreadSafeUnionFind(len(cents))
	added := 0
	for _, e := range edges {
		if uf.Root(e.i) == uf.Root(e.j) {
			continue
		}
		uf.Union(e.i, e.j)
		mst.SetWeightedEdge(mst.NewWeightedEdge(simple.Node(e.i), simple.Node(e.j), e.weight))
		added++
		if added == len(cents)-1 {
			break
		}
	}
	return mst
}

// clusterCentroids returns the mean coordinates of each cluster in the
// table's domain, skipping clusters with no coordinates.
func clusterCentroids(cells *CellTable) ([]centroid, error) {
	dims := len(cells.Dims())
	if dims == 0 {
		return nil, errors.New("no embedding attached")
	}
	sums := map[string][]float64{}
	counts := map[string]int{}
	for i := 0; i < cells.Len(); i++ {
		c := cells.Cell(i)
		if c.Cluster == "" || !c.HasCoords() {
			continue
		}
		if sums[c.Cluster] == nil {
			sums[c.Cluster] = make([]float64, dims)
		}
		floats.Add(sums[c.Cluster], c.Coords)
		counts[c.Cluster]++
	}
	var cents []centroid
	for _, id := range cells.Clusters() {
		if counts[id] == 0 {
			log.Warnf("trajectory: cluster %q has no cells with coordinates", id)
			continue
		}
		floats.Scale(1/float64(counts[id]), sums[id])
		cents = append(cents, centroid{cluster: id, coords: sums[id]})
	}
	if len(cents) < 2 {
		return nil, fmt.Errorf("need at least 2 clusters with coordinates, have %d", len(cents))
	}
	return cents, nil
}

// projectOnPath returns the arc length along the polyline points of
// the point on the polyline nearest to x. Ties go to the earlier
// segment.
func projectOnPath(x []float64, points [][]float64) float64 {
	seg := make([]float64, len(x))
	off := make([]float64, len(x))
	proj := make([]float64, len(x))
	best, bestDist := 0.0, math.Inf(1)
	var travelled float64
	for k := 0; k+1 < len(points); k++ {
		floats.SubTo(seg, points[k+1], points[k])
		floats.SubTo(off, x, points[k])
		seglen2 := floats.Dot(seg, seg)
		var t float64
		if seglen2 > 0 {
			t = math.Max(0, math.Min(1, floats.Dot(off, seg)/seglen2))
		}
		floats.AddScaledTo(proj, points[k], t, seg)
		if d := floats.Distance(x, proj, 2); d < bestDist {
			bestDist = d
			best = travelled + t*math.Sqrt(seglen2)
		}
		travelled += math.Sqrt(seglen2)
	}
	return best
}

// sortedIndex returns the indices of the non-NaN values, ordered by
// value (descending if desc), ties in original order.
func sortedIndex(values []float64, desc bool) []int {
	idx := make([]int, 0, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if desc {
			return values[idx[a]] > values[idx[b]]
		}
		return values[idx[a]] < values[idx[b]]
	})
	return idx
}
