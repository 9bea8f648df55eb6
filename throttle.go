// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pseudotime

import (
	"context"
	"sync"
	"sync/atomic"
)

// throttle runs at most Max functions at a time. After the first
// error (or cancellation of the context passed to Go), functions that
// have not started yet are skipped.
type throttle struct {
	Max int

	// Progress, if not nil, is called with the number of
	// functions finished so far, each time one finishes.
	Progress func(done int)

	wg        sync.WaitGroup
	ch        chan struct{}
	finished  int64
	err       atomic.Value
	setupOnce sync.Once
	errorOnce sync.Once
}

func (t *throttle) Acquire() {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan struct{}, t.Max)
	})
	t.wg.Add(1)
	t.ch <- struct{}{}
}

func (t *throttle) Release() {
	<-t.ch
	t.wg.Done()
}

func (t *throttle) Report(err error) {
	if err != nil {
		t.errorOnce.Do(func() { t.err.Store(err) })
	}
}

func (t *throttle) Err() error {
	err, _ := t.err.Load().(error)
	return err
}

// Go waits for a free slot and calls fn in a new goroutine. It returns
// false, without calling fn, if an error has been reported or ctx is
// done; callers should stop queueing work at that point.
func (t *throttle) Go(ctx context.Context, fn func() error) bool {
	t.Acquire()
	if t.Err() != nil || ctx.Err() != nil {
		t.Release()
		return false
	}
	go func() {
		defer t.Release()
		t.Report(fn())
		n := atomic.AddInt64(&t.finished, 1)
		if t.Progress != nil {
			t.Progress(int(n))
		}
	}()
	return true
}

// Wait waits for all started functions to return, and returns the
// first error reported, or ctx's error if it was cancelled.
func (t *throttle) Wait(ctx context.Context) error {
	t.wg.Wait()
	if err := t.Err(); err != nil {
		return err
	}
	return ctx.Err()
}
