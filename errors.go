// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// AlignmentError indicates that a join key (cell or gene) that must be
// unique or present was duplicated or missing. It always aborts the
// run.
type AlignmentError struct {
	Kind   string // "cell" or "gene"
	Key    string
	Source string
	Reason string
}

func (e *AlignmentError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s %q: %s", e.Kind, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s: %s %q: %s", e.Source, e.Kind, e.Key, e.Reason)
}

// DegenerateInputError describes input that was excluded from a stage
// (zero-variance gene, empty significant gene set). Stages that
// produce it log it with warn() and continue; it is only returned to
// callers that ask for it explicitly.
type DegenerateInputError struct {
	Stage  string
	Keys   []string
	Reason string
}

func (e *DegenerateInputError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	case 1:
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Keys[0], e.Reason)
	default:
		return fmt.Sprintf("%s: %d inputs (first %q): %s", e.Stage, len(e.Keys), e.Keys[0], e.Reason)
	}
}

func (e *DegenerateInputError) warn() {
	log.Warn(e.Error())
}

// ExternalComputationError wraps a failure of a numerical routine
// (trajectory inference, regression fit). It is fatal for the run and
// never retried.
type ExternalComputationError struct {
	Stage string
	Key   string
	Err   error
}

func (e *ExternalComputationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s failed: %s", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed for %q: %s", e.Stage, e.Key, e.Err)
}

func (e *ExternalComputationError) Unwrap() error { return e.Err }
