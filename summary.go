// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"git.arvados.org/arvados.git/lib/cmd"
	"golang.org/x/crypto/blake2b"
)

// runSummary records what a run read, how it was configured, and how
// much data survived each stage.
type runSummary struct {
	Command    string            `json:"command"`
	Version    string            `json:"version"`
	Inputs     map[string]string `json:"inputs"`
	Parameters interface{}       `json:"parameters"`
	Counts     map[string]int    `json:"counts"`
	Outputs    []string          `json:"outputs"`
}

func newRunSummary(command string, in *inputFiles, params interface{}) (*runSummary, error) {
	digests, err := digestFiles(in.files())
	if err != nil {
		return nil, err
	}
	return &runSummary{
		Command:    command,
		Version:    cmd.Version.String(),
		Inputs:     digests,
		Parameters: params,
		Counts:     map[string]int{},
	}, nil
}

// digestFiles maps each input name to "path blake2b:hex" for the
// file's content as stored (before decompression).
func digestFiles(files map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for name, path := range files {
		sum, err := digestFile(path)
		if err != nil {
			return nil, err
		}
		out[name] = fmt.Sprintf("%s blake2b:%x", path, sum)
	}
	return out, nil
}

func digestFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// render returns the summary as indented JSON, listing the files in
// outputs (plus summary.json itself).
func (s *runSummary) render(outputs *outputSet) ([]byte, error) {
	s.Outputs = append(append([]string(nil), outputs.names...), "summary.json")
	sort.Strings(s.Outputs)
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}
