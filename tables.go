// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/csimplestring/go-csv/detector"
	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

type clusterRow struct {
	Cell    string `csv:"cellcode"`
	Cluster string `csv:"cluster"`
}

type hashtagRow struct {
	Cell    string `csv:"cellcode"`
	Hashtag string `csv:"hashtag"`
}

type genotypeRow struct {
	Hashtag  string `csv:"hashtag"`
	Genotype string `csv:"genotype"`
}

type geneRow struct {
	Gene string `csv:"gene"`
}

// detectDelimiter returns the most likely field separator in buf
// among comma, tab, semicolon and pipe, defaulting to tab.
func detectDelimiter(buf []byte) rune {
	d := detector.New()
	for _, delim := range d.DetectDelimiter(bytes.NewReader(buf), '"') {
		if len(delim) == 1 && strings.ContainsRune(",\t;|", rune(delim[0])) {
			return rune(delim[0])
		}
	}
	return '\t'
}

func newTableReader(buf []byte, comma rune) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(buf))
	r.Comma = comma
	r.Comment = '#'
	r.LazyQuotes = true
	// with a whitespace delimiter this would merge empty fields
	r.TrimLeadingSpace = comma != '\t' && comma != ' '
	return r
}

// decodeTable checks that the header of the table in buf has all of
// the required column names, then unmarshals the rows into out (a
// pointer to a slice of structs with csv tags).
func decodeTable(fnm string, buf []byte, out interface{}, required ...string) error {
	comma := detectDelimiter(buf)
	header, err := newTableReader(buf, comma).Read()
	if err == io.EOF {
		return fmt.Errorf("%s: empty table", fnm)
	} else if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	if err := requireColumns(fnm, header, required...); err != nil {
		return err
	}
	err = gocsv.UnmarshalCSV(newTableReader(buf, comma), out)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return nil
}

func requireColumns(fnm string, header []string, required ...string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, col := range required {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: header %q is missing required column(s) %q", fnm, header, missing)
	}
	return nil
}

// loadClusters reads a cellcode/cluster table. Cells with an empty
// cluster are kept as unassigned.
func loadClusters(fnm string) (map[string]string, []string, error) {
	buf, err := readAll(fnm)
	if err != nil {
		return nil, nil, err
	}
	return parseClusters(fnm, buf)
}

func parseClusters(fnm string, buf []byte) (map[string]string, []string, error) {
	var rows []clusterRow
	err := decodeTable(fnm, buf, &rows, "cellcode", "cluster")
	if err != nil {
		return nil, nil, err
	}
	clusters := make(map[string]string, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Cell == "" {
			return nil, nil, &AlignmentError{Kind: "cell", Source: fnm, Reason: "empty cellcode"}
		}
		if _, dup := clusters[row.Cell]; dup {
			return nil, nil, &AlignmentError{Kind: "cell", Key: row.Cell, Source: fnm, Reason: "duplicate cellcode"}
		}
		clusters[row.Cell] = strings.TrimSpace(row.Cluster)
		order = append(order, row.Cell)
	}
	log.Infof("loaded cluster assignments for %d cells from %s", len(order), fnm)
	return clusters, order, nil
}

// loadHashtags reads a cellcode/hashtag table.
func loadHashtags(fnm string) (map[string]string, error) {
	buf, err := readAll(fnm)
	if err != nil {
		return nil, err
	}
	var rows []hashtagRow
	err = decodeTable(fnm, buf, &rows, "cellcode", "hashtag")
	if err != nil {
		return nil, err
	}
	hashtags := make(map[string]string, len(rows))
	for _, row := range rows {
		if _, dup := hashtags[row.Cell]; dup {
			return nil, &AlignmentError{Kind: "cell", Key: row.Cell, Source: fnm, Reason: "duplicate cellcode"}
		}
		hashtags[row.Cell] = row.Hashtag
	}
	return hashtags, nil
}

// loadGenotypes reads a hashtag/genotype table, which collapses sample
// labels into the top-level genotype classes.
func loadGenotypes(fnm string) (map[string]string, error) {
	buf, err := readAll(fnm)
	if err != nil {
		return nil, err
	}
	var rows []genotypeRow
	err = decodeTable(fnm, buf, &rows, "hashtag", "genotype")
	if err != nil {
		return nil, err
	}
	genotypes := make(map[string]string, len(rows))
	for _, row := range rows {
		if prev, dup := genotypes[row.Hashtag]; dup && prev != row.Genotype {
			return nil, fmt.Errorf("%s: hashtag %q mapped to both %q and %q", fnm, row.Hashtag, prev, row.Genotype)
		}
		genotypes[row.Hashtag] = row.Genotype
	}
	return genotypes, nil
}

// loadGeneSet reads a single-column table with header "gene".
func loadGeneSet(fnm string) ([]string, error) {
	buf, err := readAll(fnm)
	if err != nil {
		return nil, err
	}
	var rows []geneRow
	err = decodeTable(fnm, buf, &rows, "gene")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	genes := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Gene == "" || seen[row.Gene] {
			continue
		}
		seen[row.Gene] = true
		genes = append(genes, row.Gene)
	}
	return genes, nil
}

// loadEmbedding reads a coordinate table whose first column is
// "cellcode" and whose remaining columns are embedding dimensions.
// Empty or "NA" values are read as missing (NaN). Duplicate cellcodes
// are reported by AttachEmbedding, not here, so that the loaded table
// reflects the file exactly.
func loadEmbedding(fnm string) (*Embedding, error) {
	buf, err := readAll(fnm)
	if err != nil {
		return nil, err
	}
	return parseEmbedding(fnm, buf)
}

func parseEmbedding(fnm string, buf []byte) (*Embedding, error) {
	r := newTableReader(buf, detectDelimiter(buf))
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty table", fnm)
	} else if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(header) < 3 || strings.TrimSpace(header[0]) != "cellcode" {
		return nil, fmt.Errorf(`%s: header %q: want "cellcode" followed by at least two coordinate columns`, fnm, header)
	}
	emb := &Embedding{Names: append([]string(nil), header[1:]...)}
	dims := len(emb.Names)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		line, _ := r.FieldPos(0)
		if len(rec) != dims+1 {
			return nil, fmt.Errorf("%s line %d: %d fields, expected %d", fnm, line, len(rec), dims+1)
		}
		emb.Cells = append(emb.Cells, rec[0])
		for _, s := range rec[1:] {
			v, err := parseValue(s)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", fnm, line, err)
			}
			emb.Coords = append(emb.Coords, v)
		}
	}
	log.Infof("loaded %d-dimensional embedding for %d cells from %s", dims, len(emb.Cells), fnm)
	return emb, nil
}

func parseValue(s string) (float64, error) {
	switch strings.TrimSpace(s) {
	case "", "NA", "NaN", "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
