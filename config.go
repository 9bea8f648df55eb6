// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// stringList is a comma-separated flag value.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(s string) error {
	*l = nil
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			*l = append(*l, f)
		}
	}
	return nil
}

// inputFiles names the input tables shared by all commands.
type inputFiles struct {
	Clusters  string
	Coords    string
	Counts    string
	Expr      string
	Hashtags  string
	Genotypes string
	Genes     string
}

func (in *inputFiles) Flags(flags *flag.FlagSet) {
	flags.StringVar(&in.Clusters, "clusters", "", "cell-to-cluster assignment `file` (columns cellcode, cluster)")
	flags.StringVar(&in.Coords, "coords", "", "per-cell embedding coordinates `file` (columns cellcode, then one column per dimension)")
	flags.StringVar(&in.Counts, "counts", "", "raw count matrix `file` (genes × cells, tab-separated, optionally gzipped)")
	flags.StringVar(&in.Expr, "expr", "", "normalized expression matrix `file` (genes × cells, tab-separated, optionally gzipped)")
	flags.StringVar(&in.Hashtags, "hashtags", "", "per-cell sample label `file` (columns cellcode, hashtag)")
	flags.StringVar(&in.Genotypes, "genotypes", "", "hashtag-to-genotype `file` (columns hashtag, genotype)")
	flags.StringVar(&in.Genes, "genes", "", "gene set `file` (column gene); default: all genes in both matrices")
}

// files returns the named input files that are set, for provenance.
func (in *inputFiles) files() map[string]string {
	all := map[string]string{
		"clusters":  in.Clusters,
		"coords":    in.Coords,
		"counts":    in.Counts,
		"expr":      in.Expr,
		"hashtags":  in.Hashtags,
		"genotypes": in.Genotypes,
		"genes":     in.Genes,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	return all
}

// trajectoryConfig selects and orients the lineage used downstream.
type trajectoryConfig struct {
	Subset  stringList
	Start   string
	Method  string
	Lineage int
	Reverse bool
}

func (tc *trajectoryConfig) Flags(flags *flag.FlagSet) {
	flags.Var(&tc.Subset, "subset", "comma-separated cluster `IDs` to keep (required)")
	flags.StringVar(&tc.Start, "start", "", "root cluster `ID` of the trajectory (default: first cluster of the subset)")
	flags.StringVar(&tc.Method, "orderer", "mst", "trajectory inference `method`: mst or pca")
	flags.IntVar(&tc.Lineage, "lineage", 1, "1-based lineage `number` to analyze")
	flags.BoolVar(&tc.Reverse, "reverse", false, "reverse the direction of the analyzed lineage")
}

func (tc *trajectoryConfig) Check() error {
	if len(tc.Subset) == 0 {
		return errors.New("-subset is required")
	}
	switch tc.Method {
	case "mst", "pca":
	default:
		return fmt.Errorf("unknown -orderer %q (want mst or pca)", tc.Method)
	}
	if tc.Lineage < 1 {
		return fmt.Errorf("invalid -lineage %d", tc.Lineage)
	}
	return nil
}

func (tc *trajectoryConfig) orderer() Orderer {
	if tc.Method == "pca" {
		return PCAOrderer{Start: tc.Start}
	}
	return MSTOrderer{Start: tc.Start}
}

// pipelineConfig holds every parameter of a pipeline run.
type pipelineConfig struct {
	Inputs     inputFiles
	Trajectory trajectoryConfig
	OutputDir  string

	Knots      int
	Threads    int
	Correction string
	Alpha      float64

	GeneClusters int
	CutHeight    float64

	SmoothBy string
	Window   int
	Step     int
	Factor   float64

	TerminalSize int

	Numpy bool
	Plots bool
}

func (pc *pipelineConfig) Flags(flags *flag.FlagSet) {
	pc.Inputs.Flags(flags)
	pc.Trajectory.Flags(flags)
	flags.StringVar(&pc.OutputDir, "output-dir", "./out", "output `directory`")
	flags.IntVar(&pc.Knots, "knots", 6, "number of spline `knots` (including boundary knots) in the association test")
	flags.IntVar(&pc.Threads, "threads", 0, "number of genes to fit concurrently (default: number of CPUs)")
	flags.StringVar(&pc.Correction, "correction", "bonferroni", "multiple testing correction `method`: bonferroni or bh")
	flags.Float64Var(&pc.Alpha, "alpha", 0.05, "adjusted p-value `threshold` for significant genes")
	flags.IntVar(&pc.GeneClusters, "gene-clusters", 6, "cut the gene dendrogram into `K` clusters")
	flags.Float64Var(&pc.CutHeight, "cut-height", 0, "cut the gene dendrogram at this `height` instead of into a fixed number of clusters")
	flags.StringVar(&pc.SmoothBy, "smooth-by", "genotype", "cell `attribute` for windowed group fractions and terminal counts: genotype, hashtag or cluster")
	flags.IntVar(&pc.Window, "window", 60, "rolling window `width` in cells")
	flags.IntVar(&pc.Step, "step", 1, "emit every `N`th window position")
	flags.Float64Var(&pc.Factor, "factor", 1, "scale each group's membership indicator by `F`/group size")
	flags.IntVar(&pc.TerminalSize, "terminal-size", 120, "`N` lowest and N highest distinct pseudotime values form the terminals")
	flags.BoolVar(&pc.Numpy, "numpy", false, "also write the scaled expression matrix to scaled.npy")
	flags.BoolVar(&pc.Plots, "plots", true, "write SVG plots")
}

// Check validates the configuration before any input is read.
func (pc *pipelineConfig) Check() error {
	for _, req := range []struct{ flag, val string }{
		{"clusters", pc.Inputs.Clusters},
		{"coords", pc.Inputs.Coords},
		{"counts", pc.Inputs.Counts},
		{"expr", pc.Inputs.Expr},
	} {
		if req.val == "" {
			return fmt.Errorf("-%s is required", req.flag)
		}
	}
	if err := pc.Trajectory.Check(); err != nil {
		return err
	}
	if pc.Knots < 2 {
		return fmt.Errorf("invalid -knots %d (need at least 2)", pc.Knots)
	}
	if pc.Threads < 0 {
		return fmt.Errorf("invalid -threads %d", pc.Threads)
	}
	switch pc.Correction {
	case "bh", "fdr", "bonferroni":
	default:
		return fmt.Errorf("unknown -correction %q", pc.Correction)
	}
	if !(pc.Alpha > 0 && pc.Alpha <= 1) {
		return fmt.Errorf("invalid -alpha %v (need 0 < alpha ≤ 1)", pc.Alpha)
	}
	if pc.CutHeight < 0 {
		return fmt.Errorf("invalid -cut-height %v", pc.CutHeight)
	} else if pc.CutHeight > 0 {
		pc.GeneClusters = 0
	} else if pc.GeneClusters < 1 {
		return fmt.Errorf("invalid -gene-clusters %d", pc.GeneClusters)
	}
	switch pc.SmoothBy {
	case "genotype":
		if pc.Inputs.Genotypes == "" || pc.Inputs.Hashtags == "" {
			return errors.New("-smooth-by=genotype needs -hashtags and -genotypes")
		}
	case "hashtag":
		if pc.Inputs.Hashtags == "" {
			return errors.New("-smooth-by=hashtag needs -hashtags")
		}
	case "cluster":
	default:
		return fmt.Errorf("unknown -smooth-by %q", pc.SmoothBy)
	}
	if pc.Window < 1 {
		return fmt.Errorf("invalid -window %d", pc.Window)
	}
	if pc.Step < 1 {
		return fmt.Errorf("invalid -step %d", pc.Step)
	}
	if !(pc.Factor > 0) {
		return fmt.Errorf("invalid -factor %v", pc.Factor)
	}
	if pc.TerminalSize < 1 {
		return fmt.Errorf("invalid -terminal-size %d", pc.TerminalSize)
	}
	return nil
}
