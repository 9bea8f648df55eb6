// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Embedding is a per-cell coordinate table. Coords is row-major with
// len(Names) values per cell; missing values are NaN.
type Embedding struct {
	Names  []string
	Cells  []string
	Coords []float64
}

func (e *Embedding) Dims() int { return len(e.Names) }

func (e *Embedding) Row(i int) []float64 {
	d := e.Dims()
	return e.Coords[i*d : (i+1)*d]
}

// Cell is one row of the cell metadata store.
type Cell struct {
	Code     string
	Cluster  string // "" if unassigned
	Hashtag  string
	Genotype string
	Coords   []float64 // nil until an embedding is attached
}

// HasCoords reports whether the cell has a complete set of
// coordinates.
func (c Cell) HasCoords() bool {
	if len(c.Coords) == 0 {
		return false
	}
	for _, v := range c.Coords {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// CellTable is the cell metadata store. It is never modified after
// construction; stages that change it return a new table.
type CellTable struct {
	cells    []Cell
	index    map[string]int
	clusters []string
	dims     []string
}

// NewCellTable builds a metadata store from the cluster assignment
// (in file order) and the per-cell hashtag labels. genotypes collapses
// hashtags into genotype classes and may be nil.
func NewCellTable(order []string, clusters, hashtags, genotypes map[string]string) (*CellTable, error) {
	t := &CellTable{index: make(map[string]int, len(order))}
	domain := map[string]bool{}
	unmapped := map[string]bool{}
	for _, code := range order {
		if _, dup := t.index[code]; dup {
			return nil, &AlignmentError{Kind: "cell", Key: code, Reason: "duplicate cellcode in metadata store"}
		}
		c := Cell{Code: code, Cluster: clusters[code], Hashtag: hashtags[code]}
		if c.Cluster != "" {
			domain[c.Cluster] = true
		}
		if genotypes != nil && c.Hashtag != "" {
			g, ok := genotypes[c.Hashtag]
			if !ok {
				unmapped[c.Hashtag] = true
			}
			c.Genotype = g
		}
		t.index[code] = len(t.cells)
		t.cells = append(t.cells, c)
	}
	for h := range unmapped {
		log.Warnf("hashtag %q has no genotype mapping", h)
	}
	if len(hashtags) > 0 {
		var missing int
		for _, c := range t.cells {
			if c.Hashtag == "" {
				missing++
			}
		}
		if missing > 0 {
			log.Warnf("%d of %d cells have no hashtag label", missing, len(t.cells))
		}
	}
	for id := range domain {
		t.clusters = append(t.clusters, id)
	}
	sortClusterIDs(t.clusters)
	return t, nil
}

// sortClusterIDs sorts numerically when every ID is a number (as
// metacell IDs are), otherwise lexically.
func sortClusterIDs(ids []string) {
	nums := make([]float64, len(ids))
	for i, id := range ids {
		f, err := strconv.ParseFloat(id, 64)
		if err != nil {
			sort.Strings(ids)
			return
		}
		nums[i] = f
	}
	sort.Sort(byNumber{ids, nums})
}

type byNumber struct {
	ids  []string
	nums []float64
}

func (b byNumber) Len() int { return len(b.ids) }
func (b byNumber) Less(i, j int) bool {
	if b.nums[i] != b.nums[j] {
		return b.nums[i] < b.nums[j]
	}
	return b.ids[i] < b.ids[j]
}
func (b byNumber) Swap(i, j int) {
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
	b.nums[i], b.nums[j] = b.nums[j], b.nums[i]
}

func (t *CellTable) Len() int { return len(t.cells) }

// Cell returns the i'th cell. The Coords slice must not be modified.
func (t *CellTable) Cell(i int) Cell { return t.cells[i] }

func (t *CellTable) Lookup(code string) (Cell, bool) {
	i, ok := t.index[code]
	if !ok {
		return Cell{}, false
	}
	return t.cells[i], true
}

// Clusters returns the known cluster domain, sorted.
func (t *CellTable) Clusters() []string { return append([]string(nil), t.clusters...) }

// Dims returns the names of the attached embedding dimensions, if any.
func (t *CellTable) Dims() []string { return append([]string(nil), t.dims...) }

func (t *CellTable) Codes() []string {
	codes := make([]string, len(t.cells))
	for i, c := range t.cells {
		codes[i] = c.Code
	}
	return codes
}

// Groups returns the distinct values of the given cell attribute
// ("hashtag", "genotype" or "cluster"), sorted, omitting "".
func (t *CellTable) Groups(attr string) []string {
	seen := map[string]bool{}
	var groups []string
	for _, c := range t.cells {
		g := c.attr(attr)
		if g != "" && !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	return groups
}

func (c Cell) attr(name string) string {
	switch name {
	case "hashtag":
		return c.Hashtag
	case "genotype":
		return c.Genotype
	case "cluster":
		return c.Cluster
	}
	panic("bug: unknown cell attribute " + name)
}

func (t *CellTable) derive(cells []Cell, clusters, dims []string) *CellTable {
	n := &CellTable{
		cells:    cells,
		index:    make(map[string]int, len(cells)),
		clusters: clusters,
		dims:     dims,
	}
	for i, c := range cells {
		n.index[c.Code] = i
	}
	return n
}

// SelectClusters returns a table containing only the cells assigned to
// one of the wanted clusters. wanted must be non-empty and every ID
// must belong to the known cluster domain. The returned table's
// cluster domain is the wanted IDs that actually have cells.
func SelectClusters(t *CellTable, wanted []string) (*CellTable, error) {
	if len(wanted) == 0 {
		return nil, errors.New("cluster subset: no cluster IDs requested")
	}
	known := map[string]bool{}
	for _, id := range t.clusters {
		known[id] = true
	}
	want := map[string]bool{}
	for _, id := range wanted {
		if !known[id] {
			return nil, fmt.Errorf("cluster subset: %q is not a known cluster ID", id)
		}
		want[id] = true
	}
	var cells []Cell
	present := map[string]bool{}
	for _, c := range t.cells {
		if want[c.Cluster] {
			cells = append(cells, c)
			present[c.Cluster] = true
		}
	}
	var domain []string
	for _, id := range t.clusters {
		if !want[id] {
			continue
		}
		if present[id] {
			domain = append(domain, id)
		} else {
			log.Infof("cluster subset: requested cluster %q has no cells", id)
		}
	}
	log.Infof("cluster subset: %d of %d cells in %d clusters", len(cells), len(t.cells), len(domain))
	return t.derive(cells, domain, t.dims), nil
}

// AttachEmbedding returns a copy of t with coordinates from emb.
// Every cell of t is kept; cells with no row in emb get NaN
// coordinates. Rows of emb for cells not in t are ignored.
func AttachEmbedding(t *CellTable, emb *Embedding) (*CellTable, error) {
	if emb.Dims() == 0 {
		return nil, errors.New("embedding has no coordinate columns")
	}
	rows := make(map[string]int, len(emb.Cells))
	for i, code := range emb.Cells {
		if _, dup := rows[code]; dup {
			return nil, &AlignmentError{Kind: "cell", Key: code, Source: "embedding", Reason: "duplicate cellcode"}
		}
		rows[code] = i
	}
	missing := make([]float64, emb.Dims())
	for i := range missing {
		missing[i] = math.NaN()
	}
	cells := make([]Cell, len(t.cells))
	var matched int
	for i, c := range t.cells {
		if row, ok := rows[c.Code]; ok {
			c.Coords = append([]float64(nil), emb.Row(row)...)
			matched++
		} else {
			c.Coords = missing
		}
		cells[i] = c
	}
	if extra := len(emb.Cells) - matched; extra > 0 {
		log.Infof("embedding: ignoring %d coordinate rows for cells not in metadata store", extra)
	}
	if unmatched := len(cells) - matched; unmatched > 0 {
		log.Infof("embedding: %d of %d cells have no coordinates", unmatched, len(cells))
	}
	return t.derive(cells, t.clusters, append([]string(nil), emb.Names...)), nil
}
