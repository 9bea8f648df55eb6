// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	log "github.com/sirupsen/logrus"
)

// writeProfiles writes heap and CPU profiles to dir every interval
// until ctx is done, and once more on the way out.
func writeProfiles(ctx context.Context, dir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		writeProfile(dir, "mem.prof", func(w io.Writer) error {
			runtime.GC()
			return pprof.WriteHeapProfile(w)
		})
		writeProfile(dir, "cpu.prof", func(w io.Writer) error {
			err := pprof.StartCPUProfile(w)
			if err != nil {
				return err
			}
			time.Sleep(time.Second)
			pprof.StopCPUProfile()
			return nil
		})
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// writeProfile writes dir/name~ and renames it to dir/name, so readers
// never see a partial profile.
func writeProfile(dir, name string, fn func(io.Writer) error) {
	tmp := filepath.Join(dir, name+"~")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		log.Print(err)
		return
	}
	defer f.Close()
	err = fn(f)
	if err != nil {
		log.Print(err)
		return
	}
	err = f.Close()
	if err != nil {
		log.Print(err)
		return
	}
	err = os.Rename(tmp, filepath.Join(dir, name))
	if err != nil {
		log.Print(err)
	}
}
