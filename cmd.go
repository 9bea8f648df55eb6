// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"pipeline":    &pipeline{},
		"order":       &orderCmd{},
		"composition": &compositionCmd{},
	})
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// errUsage means the flag package has already reported the problem.
var errUsage = errors.New("usage error")

// parseFlags parses args. done is true if the caller should stop
// without error (-help).
func parseFlags(flags *flag.FlagSet, args []string) (done bool, err error) {
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		return true, nil
	} else if err != nil {
		return true, errUsage
	} else if flags.NArg() > 0 {
		return true, fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	return false, nil
}

func exitCode(err error, stderr io.Writer) int {
	if err == errUsage {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}
