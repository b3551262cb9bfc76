// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package job runs a task periodically without overlapping runs.
package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job runs a task at a fixed interval. A tick that fires while the previous run is still in
// progress is dropped.
type Job struct {
	interval   time.Duration
	task       func(context.Context)
	initialRun bool
}

// Option configures a Job.
type Option func(*Job)

// WithInitialRun runs the task right away instead of waiting for the first tick.
func WithInitialRun() Option {
	return func(j *Job) {
		j.initialRun = true
	}
}

func New(interval time.Duration, task func(context.Context), opts ...Option) *Job {
	j := &Job{interval: interval, task: task}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start blocks until ctx is done and the last run of the task returned. Tasks receive a context
// derived from ctx.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	var (
		wg      sync.WaitGroup
		running atomic.Bool
	)
	defer wg.Wait()

	trigger := func() {
		if !running.CompareAndSwap(false, true) {
			return
		}
		wg.Go(func() {
			defer running.Store(false)
			j.task(ctx)
		})
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	if j.initialRun {
		trigger()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}
