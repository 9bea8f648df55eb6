// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

type pipeline struct {
	config pipelineConfig
}

func (cmd *pipeline) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *pipeline) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.config.Flags(flags)
	pprofAddr := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	profileDir := flags.String("profile-dir", "", "write CPU and heap profiles to `directory` every minute")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	cfg := &cmd.config
	err := cfg.Check()
	if err != nil {
		return err
	}

	if *pprofAddr != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *profileDir != "" {
		go writeProfiles(ctx, *profileDir, time.Minute)
	}

	summary, err := newRunSummary("pipeline", &cfg.Inputs, cfg)
	if err != nil {
		return err
	}
	cells, err := loadCells(&cfg.Inputs)
	if err != nil {
		return err
	}
	subset, traj, pt, err := inferTrajectory(ctx, cells, &cfg.Trajectory)
	if err != nil {
		return err
	}
	var lineageCells []string
	for i, v := range pt.Values {
		if !math.IsNaN(v) {
			lineageCells = append(lineageCells, pt.Cells[i])
		}
	}

	var geneSet []string
	var keep map[string]bool
	if cfg.Inputs.Genes != "" {
		geneSet, err = loadGeneSet(cfg.Inputs.Genes)
		if err != nil {
			return err
		}
		keep = make(map[string]bool, len(geneSet))
		for _, g := range geneSet {
			keep[g] = true
		}
	}
	counts, err := loadMatrix(cfg.Inputs.Counts, keep, true)
	if err != nil {
		return err
	}
	expr, err := loadMatrix(cfg.Inputs.Expr, keep, false)
	if err != nil {
		return err
	}
	geneSet, err = alignGenes(geneSet, counts, expr)
	if err != nil {
		return err
	}

	// statmodel writes to stdout when a fit fails, which would
	// otherwise interleave with our own output.
	stdoutWas := os.Stdout
	os.Stdout, err = os.Open(os.DevNull)
	if err != nil {
		return err
	}
	tests, err := GAMTester{Knots: cfg.Knots, Threads: cfg.Threads}.Test(ctx, counts, pt, geneSet)
	os.Stdout.Close()
	os.Stdout = stdoutWas
	if err != nil {
		return err
	}
	tests, err = AdjustPValues(tests, cfg.Correction)
	if err != nil {
		return err
	}
	significant := Significant(tests, cfg.Alpha)
	if len(significant) == 0 {
		(&DegenerateInputError{Stage: "multiple testing correction", Reason: fmt.Sprintf("no genes with adjusted p-value below %g", cfg.Alpha)}).warn()
	}
	log.Infof("association: %d of %d genes significant (%s, alpha %g)", len(significant), len(tests), cfg.Correction, cfg.Alpha)

	sigExpr, err := expr.Subset(significant, lineageCells)
	if err != nil {
		return err
	}
	scaled, err := ScaleRows(sigExpr)
	if err != nil {
		return err
	}
	gc, err := ClusterGenes(scaled, cfg.GeneClusters, cfg.CutHeight)
	if err != nil {
		return err
	}
	long := JoinLong(pt, counts, scaled, gc)

	labels, err := GroupLabels(subset, pt, cfg.SmoothBy)
	if err != nil {
		return err
	}
	smoothed, err := SmoothWindows(pt, labels, SmoothOptions{Window: cfg.Window, Step: cfg.Step, Factor: cfg.Factor})
	if err != nil {
		return err
	}
	terminals, err := CompareTerminals(pt, subset, expr, CompareTerminalsOptions{Size: cfg.TerminalSize, Attr: cfg.SmoothBy, Genes: significant})
	if err != nil {
		return err
	}

	out := newOutputSet(cfg.OutputDir)
	out.add("pseudotime.tsv", renderTrajectory(traj, subset))
	out.add("genes.tsv", renderGenes(tests, gc, cfg.Alpha))
	out.add("long.tsv", renderLong(long))
	out.add("smoothed.tsv", renderSmoothed(smoothed))
	out.add("terminals.tsv", renderTerminals(terminals))
	out.add("terminal_genes.tsv", renderTerminalGenes(terminals.Genes))
	if cfg.Inputs.Hashtags != "" {
		out.add("composition.tsv", renderComposition(Composition(subset)))
	}
	if cfg.Numpy {
		buf, err := renderNumpy(scaled)
		if err != nil {
			return err
		}
		out.add("scaled.npy", buf)
	}
	if cfg.Plots {
		buf, err := plotSmoothed(smoothed, fmt.Sprintf("%s along lineage %d", cfg.SmoothBy, cfg.Trajectory.Lineage))
		if err != nil {
			return err
		}
		out.add("smoothed.svg", buf)
		buf, err = plotGeneClusters(long, gc.K)
		if err != nil {
			return err
		}
		out.add("gene_clusters.svg", buf)
	}

	summary.Counts["cells"] = cells.Len()
	summary.Counts["subset_cells"] = subset.Len()
	summary.Counts["lineages"] = len(traj.Lineages)
	summary.Counts["lineage_cells"] = len(lineageCells)
	summary.Counts["genes_tested"] = len(tests)
	summary.Counts["genes_significant"] = len(significant)
	summary.Counts["gene_clusters"] = gc.K
	summary.Counts["long_rows"] = len(long)
	summary.Counts["terminal_low_cells"] = len(terminals.Low)
	summary.Counts["terminal_high_cells"] = len(terminals.High)
	buf, err := summary.render(out)
	if err != nil {
		return err
	}
	out.add("summary.json", buf)
	return out.commit()
}

// loadCells builds the metadata store from the cluster, hashtag and
// genotype tables, and attaches the embedding if one is given.
func loadCells(in *inputFiles) (*CellTable, error) {
	clusters, order, err := loadClusters(in.Clusters)
	if err != nil {
		return nil, err
	}
	var hashtags, genotypes map[string]string
	if in.Hashtags != "" {
		hashtags, err = loadHashtags(in.Hashtags)
		if err != nil {
			return nil, err
		}
	}
	if in.Genotypes != "" {
		genotypes, err = loadGenotypes(in.Genotypes)
		if err != nil {
			return nil, err
		}
	}
	cells, err := NewCellTable(order, clusters, hashtags, genotypes)
	if err != nil {
		return nil, err
	}
	if in.Coords == "" {
		return cells, nil
	}
	emb, err := loadEmbedding(in.Coords)
	if err != nil {
		return nil, err
	}
	return AttachEmbedding(cells, emb)
}

// inferTrajectory restricts cells to the configured cluster subset,
// orders them, and returns the analyzed lineage.
func inferTrajectory(ctx context.Context, cells *CellTable, tc *trajectoryConfig) (*CellTable, *Trajectory, *Pseudotime, error) {
	subset, err := SelectClusters(cells, tc.Subset)
	if err != nil {
		return nil, nil, nil, err
	}
	traj, err := tc.orderer().Order(ctx, subset)
	if err != nil {
		return nil, nil, nil, err
	}
	l := tc.Lineage - 1
	if l >= len(traj.Lineages) {
		return nil, nil, nil, fmt.Errorf("-lineage %d requested but trajectory has %d lineages", tc.Lineage, len(traj.Lineages))
	}
	if tc.Reverse {
		traj = traj.Reverse(l)
	}
	pt, err := traj.Lineage(l)
	if err != nil {
		return nil, nil, nil, err
	}
	return subset, traj, pt, nil
}

// alignGenes returns the genes to test: geneSet if given, otherwise
// every gene of counts that is also in expr. Every returned gene is in
// both matrices.
func alignGenes(geneSet []string, counts, expr *ExprMatrix) ([]string, error) {
	if geneSet == nil {
		for _, g := range counts.Genes {
			if _, ok := expr.GeneIndex(g); ok {
				geneSet = append(geneSet, g)
			}
		}
		return geneSet, nil
	}
	for _, g := range geneSet {
		if _, ok := counts.GeneIndex(g); !ok {
			return nil, &AlignmentError{Kind: "gene", Key: g, Source: "count matrix", Reason: "gene set member missing"}
		}
		if _, ok := expr.GeneIndex(g); !ok {
			return nil, &AlignmentError{Kind: "gene", Key: g, Source: "expression matrix", Reason: "gene set member missing"}
		}
	}
	return geneSet, nil
}
