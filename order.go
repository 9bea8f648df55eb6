// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"errors"
	"flag"
	"io"
)

// orderCmd infers the trajectory only and writes per-cell pseudotime.
type orderCmd struct {
	inputs     inputFiles
	trajectory trajectoryConfig
	outputDir  string
}

func (cmd *orderCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *orderCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputs.Clusters, "clusters", "", "cell-to-cluster assignment `file` (columns cellcode, cluster)")
	flags.StringVar(&cmd.inputs.Coords, "coords", "", "per-cell embedding coordinates `file`")
	cmd.trajectory.Flags(flags)
	flags.StringVar(&cmd.outputDir, "output-dir", "./out", "output `directory`")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	if cmd.inputs.Clusters == "" || cmd.inputs.Coords == "" {
		return errors.New("-clusters and -coords are required")
	}
	err := cmd.trajectory.Check()
	if err != nil {
		return err
	}
	summary, err := newRunSummary("order", &cmd.inputs, cmd.trajectory)
	if err != nil {
		return err
	}
	cells, err := loadCells(&cmd.inputs)
	if err != nil {
		return err
	}
	subset, traj, pt, err := inferTrajectory(context.Background(), cells, &cmd.trajectory)
	if err != nil {
		return err
	}
	summary.Counts["cells"] = cells.Len()
	summary.Counts["subset_cells"] = subset.Len()
	summary.Counts["lineages"] = len(traj.Lineages)
	summary.Counts["lineage_cells"] = len(sortedIndex(pt.Values, false))

	out := newOutputSet(cmd.outputDir)
	out.add("pseudotime.tsv", renderTrajectory(traj, subset))
	buf, err := summary.render(out)
	if err != nil {
		return err
	}
	out.add("summary.json", buf)
	return out.commit()
}

// compositionCmd tabulates cluster membership per hashtag.
type compositionCmd struct {
	inputs    inputFiles
	outputDir string
}

func (cmd *compositionCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *compositionCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputs.Clusters, "clusters", "", "cell-to-cluster assignment `file` (columns cellcode, cluster)")
	flags.StringVar(&cmd.inputs.Hashtags, "hashtags", "", "per-cell sample label `file` (columns cellcode, hashtag)")
	flags.StringVar(&cmd.inputs.Genotypes, "genotypes", "", "hashtag-to-genotype `file` (columns hashtag, genotype)")
	flags.StringVar(&cmd.outputDir, "output-dir", "./out", "output `directory`")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	if cmd.inputs.Clusters == "" || cmd.inputs.Hashtags == "" {
		return errors.New("-clusters and -hashtags are required")
	}
	summary, err := newRunSummary("composition", &cmd.inputs, nil)
	if err != nil {
		return err
	}
	cells, err := loadCells(&cmd.inputs)
	if err != nil {
		return err
	}
	rows, stats := Composition(cells)
	summary.Counts["cells"] = cells.Len()
	summary.Counts["clusters"] = len(cells.Clusters())

	out := newOutputSet(cmd.outputDir)
	out.add("composition.tsv", renderComposition(rows, stats))
	buf, err := summary.render(out)
	if err != nil {
		return err
	}
	out.add("summary.json", buf)
	return out.commit()
}
