// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package platform provides acquirer.Provider implementations backed by the geobus location
// sources.
package platform

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/geobus"
	"github.com/wneessen/geofix/internal/logger"
)

const name = "stream"

// Streamer produces a stream of location results until ctx is done. geobus.Orchestrator
// satisfies it.
type Streamer interface {
	Stream(ctx context.Context) <-chan geobus.Result
}

// StreamProvider adapts a geobus result stream into an acquirer.Provider. Each StartUpdates opens
// a fresh stream; results of a stream that was stopped are never delivered.
//
// Callbacks are delivered while holding the provider lock, so the delegate must not call back
// into the provider synchronously. acquirer.Loop queues all callbacks and is safe to use.
type StreamProvider struct {
	source Streamer
	auth   Authorizer
	logger *logger.Logger

	mu               sync.Mutex
	base             context.Context
	delegate         acquirer.Delegate
	cancel           context.CancelFunc
	generation       uint64
	servicesDisabled bool
	located          bool
}

// NewStreamProvider returns a StreamProvider for the given source and authorizer.
func NewStreamProvider(log *logger.Logger, source Streamer, auth Authorizer) *StreamProvider {
	return &StreamProvider{
		source: source,
		auth:   auth,
		logger: log,
		base:   context.Background(),
	}
}

// Run watches the authorizer for changes until ctx is done. Streams started afterwards are
// bound to ctx. On return, a running stream is stopped.
func (p *StreamProvider) Run(ctx context.Context) {
	p.mu.Lock()
	p.base = ctx
	p.mu.Unlock()

	p.auth.Watch(ctx, p.authorizationChanged)
	p.StopUpdates()
}

func (p *StreamProvider) Name() string {
	return name
}

func (p *StreamProvider) AuthorizationStatus() acquirer.AuthorizationState {
	return p.auth.Status()
}

func (p *StreamProvider) RequestAuthorization() {
	p.auth.Request()
}

// StartUpdates opens a new result stream unless one is already running.
func (p *StreamProvider) StartUpdates() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	p.generation++
	p.servicesDisabled = false
	p.located = false
	ctx, cancel := context.WithCancel(p.base)
	p.cancel = cancel
	go p.forward(ctx, p.generation, p.source.Stream(ctx))
	p.logger.Debug("location stream started", slog.Uint64("generation", p.generation))
}

// StopUpdates closes the running result stream.
func (p *StreamProvider) StopUpdates() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *StreamProvider) SetDelegate(delegate acquirer.Delegate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = delegate
}

// LocationServicesEnabled reports false once the last location source of the current stream
// has failed permanently.
func (p *StreamProvider) LocationServicesEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.servicesDisabled
}

func (p *StreamProvider) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.generation++
	p.logger.Debug("location stream stopped")
}

func (p *StreamProvider) forward(ctx context.Context, generation uint64, results <-chan geobus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			if !p.deliver(generation, r) {
				return
			}
		}
	}
}

// deliver hands a result to the delegate if its stream is still the current one. Once the
// stream delivered a fix, failures of single sources are only logged. Other sources are working
// then, and an error that no later fix clears would mask the fix.
func (p *StreamProvider) deliver(generation uint64, r geobus.Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if generation != p.generation {
		return false
	}
	if p.delegate == nil {
		return true
	}

	if !r.Failed() {
		p.located = true
		p.delegate.OnFixReceived(acquirer.Fix{
			Latitude:           r.Lat,
			Longitude:          r.Lon,
			HorizontalAccuracy: r.AccuracyMeters,
			Timestamp:          r.At,
			Source:             r.Source,
		})
		return true
	}

	acqErr := Classify(r.Err)
	if errors.Is(r.Err, geobus.ErrNoProviders) {
		p.servicesDisabled = true
	}
	if p.located && !acqErr.IsFatal() && acqErr.Code != acquirer.CodeLocationUnknown {
		p.logger.Debug("location source failed, keeping the stream's fixes", slog.String("source", r.Source),
			slog.String("code", acqErr.Code.String()), logger.Err(r.Err))
		return true
	}
	p.logger.Debug("location source reported an error", slog.String("source", r.Source),
		slog.String("code", acqErr.Code.String()), logger.Err(r.Err))
	p.delegate.OnAcquisitionError(acqErr)
	return true
}

func (p *StreamProvider) authorizationChanged(status acquirer.AuthorizationState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info("location authorization changed", slog.String("status", status.String()))
	if p.delegate != nil {
		p.delegate.OnAuthorizationChanged(status)
	}
}

// Classify maps a location source error to an acquirer error. Only the loss of every source is
// fatal, all other errors are expected to clear up again.
func Classify(err error) acquirer.AcquisitionError {
	reason := err.Error()
	var netErr net.Error
	switch {
	case errors.Is(err, geobus.ErrNoProviders), geobus.IsFatal(err):
		return acquirer.Fatal(acquirer.CodeProviderUnavailable, reason)
	case errors.Is(err, geobus.ErrPositionUnknown):
		return acquirer.Transient(acquirer.CodeLocationUnknown, reason)
	case errors.Is(err, geobus.ErrSourceUnavailable), errors.Is(err, geobus.ErrHardwareUnavailable):
		return acquirer.Transient(acquirer.CodeProviderUnavailable, reason)
	case errors.Is(err, context.DeadlineExceeded):
		return acquirer.Transient(acquirer.CodeTimeout, reason)
	case errors.As(err, &netErr):
		return acquirer.Transient(acquirer.CodeNetwork, reason)
	default:
		return acquirer.Transient(acquirer.CodeUnknown, reason)
	}
}
