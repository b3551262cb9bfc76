// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"time"

	"github.com/wneessen/geofix/internal/job"
)

// Locator determines the current position of a polling source.
type Locator func(ctx context.Context) (Coordinate, error)

// PollStream runs locate right away and then every period, streaming readings that differ
// significantly from the previously streamed one. Errors are streamed once until the next
// successful reading. A fatal error ends the stream.
func PollStream(ctx context.Context, source string, period time.Duration, locate Locator) <-chan Result {
	out := make(chan Result)
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)

	var state GeolocationState
	var lastErr string
	poll := func(runCtx context.Context) {
		coord, err := locate(runCtx)
		if runCtx.Err() != nil {
			return
		}
		if err != nil {
			if IsFatal(err) {
				cancel()
				send(parent, out, ErrorResult(source, err))
				return
			}
			if err.Error() == lastErr {
				return
			}
			lastErr = err.Error()
			send(runCtx, out, ErrorResult(source, err))
			return
		}
		lastErr = ""
		if !state.HasChanged(coord) {
			return
		}
		state.Update(coord)
		send(runCtx, out, Result{
			Lat:            coord.Lat,
			Lon:            coord.Lon,
			AccuracyMeters: coord.Acc,
			Source:         source,
			At:             time.Now(),
		})
	}

	go func() {
		defer close(out)
		defer cancel()
		job.New(period, poll, job.WithInitialRun()).Start(ctx)
	}()
	return out
}

func send(ctx context.Context, out chan<- Result, r Result) {
	select {
	case <-ctx.Done():
	case out <- r:
	}
}
