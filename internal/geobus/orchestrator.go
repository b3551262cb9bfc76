// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wneessen/geofix/internal/logger"
)

const orchestratorSource = "geobus"

// Orchestrator merges the result streams of multiple providers into one stream.
type Orchestrator struct {
	providers []Provider
	logger    *logger.Logger
}

// NewOrchestrator returns an Orchestrator for the given providers.
func NewOrchestrator(log *logger.Logger, providers ...Provider) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		logger:    log,
	}
}

// Providers returns the names of the orchestrated providers.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Stream starts all providers and returns the merged stream of their results. Provider streams
// that close are restarted with exponential backoff. A provider reporting a fatal error is not
// restarted; its error is forwarded as a non-fatal one. Once no provider remains, a fatal
// ErrNoProviders result is emitted. The returned channel is closed after ctx is done and all
// providers have returned.
func (o *Orchestrator) Stream(ctx context.Context) <-chan Result {
	out := make(chan Result)
	if len(o.providers) == 0 {
		go func() {
			defer close(out)
			o.send(ctx, out, ErrorResult(orchestratorSource, Fatal(ErrNoProviders)))
			<-ctx.Done()
		}()
		return out
	}

	var wg sync.WaitGroup
	var alive atomic.Int32
	alive.Store(int32(len(o.providers)))
	for _, p := range o.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if !o.trackProvider(ctx, p, out) {
				return
			}
			if alive.Add(-1) == 0 {
				o.logger.Error("no location source left")
				o.send(ctx, out, ErrorResult(orchestratorSource, Fatal(ErrNoProviders)))
			}
		}(p)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// trackProvider forwards the results of a provider until ctx is done, restarting its stream with
// backoff whenever it closes. It reports true if the provider failed fatally.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, out chan<- Result) bool {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return false
		}

		lookupChan, err := o.safeLookup(ctx, p)
		if err != nil {
			o.logger.Error("location source failed to start", slog.String("source", p.Name()), logger.Err(err))
			if !SleepOrDone(ctx, backoff) {
				return false
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return false
			case r, ok := <-lookupChan:
				if !ok {
					break stream
				}
				if r.Source == "" {
					r.Source = p.Name()
				}
				if IsFatal(r.Err) {
					o.logger.Warn("location source failed permanently", slog.String("source", p.Name()),
						logger.Err(r.Err))
					r.Err = fmt.Errorf("%s: %w", p.Name(), unwrapFatal(r.Err))
					o.send(ctx, out, r)
					return true
				}
				if !o.send(ctx, out, r) {
					return false
				}
				if !r.Failed() {
					backoff = initialBackoff
				}
			}
		}

		o.logger.Debug("location source stream closed, restarting", slog.String("source", p.Name()),
			slog.Duration("backoff", backoff))
		if !SleepOrDone(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff)
	}
}

func (o *Orchestrator) send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

// safeLookup safely invokes the LookupStream method on a Provider and recovers from potential panics.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider) (ch <-chan Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch, err = nil, fmt.Errorf("panic in LookupStream: %v", r)
		}
	}()
	ch = provider.LookupStream(ctx)
	if ch == nil {
		return nil, fmt.Errorf("no result stream returned")
	}
	return ch, nil
}

func unwrapFatal(err error) error {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Err
	}
	return err
}
