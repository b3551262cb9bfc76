// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package acquirer implements the location-fix acquisition state machine. An Acquirer decides when
// to start listening to a location provider, which fixes to accept, which to discard, when a
// session has failed for good and when to stop listening.
//
// An Acquirer is not safe for concurrent use. Providers that deliver callbacks from their own
// goroutines must be attached to a Loop, which serializes all events onto one goroutine.
package acquirer

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geofix/internal/logger"
	"github.com/wneessen/geofix/internal/vartype"
)

var (
	ErrNoProvider = errors.New("location provider is required")
	ErrNoLogger   = errors.New("logger is required")
)

// Acquirer owns the session state, the best accepted fix and the last error of one acquisition
// session at a time.
type Acquirer struct {
	provider Provider
	policy   Policy
	logger   *logger.Logger
	observer Observer
	clock    clockwork.Clock
	newID    func() string

	session string
	state   SessionState
	best    vartype.Variable[Fix]
	lastErr vartype.Variable[AcquisitionError]
	rev     uint64
}

// New returns an idle Acquirer driving the given provider.
func New(provider Provider, log *logger.Logger, policy Policy) (*Acquirer, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if log == nil {
		return nil, ErrNoLogger
	}
	return &Acquirer{
		provider: provider,
		policy:   policy,
		logger:   log,
		observer: nopObserver{},
		clock:    clockwork.NewRealClock(),
		newID:    uuid.NewString,
	}, nil
}

// SetObserver registers an Observer for acquirer decisions. A nil observer disables notifications.
func (a *Acquirer) SetObserver(observer Observer) {
	if observer == nil {
		observer = nopObserver{}
	}
	a.observer = observer
}

// Provider returns the provider driven by the acquirer.
func (a *Acquirer) Provider() Provider {
	return a.provider
}

// Snapshot returns a value copy of the current state.
func (a *Acquirer) Snapshot() Snapshot {
	return Snapshot{
		SessionID: a.session,
		State:     a.state,
		BestFix:   a.best,
		LastError: a.lastErr,
		Searching: a.state == StateActive,
	}
}

// Revision increases with every change to the acquirer state. Callers use it to detect whether a
// new snapshot needs publishing.
func (a *Acquirer) Revision() uint64 {
	return a.rev
}

// RequestFix starts acquiring a fix, asking for authorization first if it is undetermined. It
// returns immediately with the resulting snapshot.
func (a *Acquirer) RequestFix() Snapshot {
	auth := a.provider.AuthorizationStatus()
	switch {
	case auth.Refused():
		a.stopStream()
		a.setState(StateStopped)
		a.recordError(Fatal(CodeAuthorizationDenied, ReasonAuthorizationDenied))
	case auth == AuthorizationUndetermined:
		if a.state == StateActive || a.state == StateAwaitingAuthorization {
			break
		}
		a.beginSession()
		a.setState(StateAwaitingAuthorization)
		a.provider.RequestAuthorization()
	default:
		switch a.state {
		case StateActive:
		case StateAwaitingAuthorization:
			a.startStream()
		default:
			a.beginSession()
			a.startStream()
		}
	}
	return a.Snapshot()
}

// OnAuthorizationChanged handles an authorization change reported by the provider.
func (a *Acquirer) OnAuthorizationChanged(status AuthorizationState) {
	if a.state == StateActive && status.Refused() {
		a.logger.Debug("location authorization revoked during active session", a.sessionAttr())
		a.stopStream()
		a.setState(StateStopped)
		a.recordError(Fatal(CodeAuthorizationRevoked, ReasonAuthorizationRevoked))
		return
	}
	if a.state != StateAwaitingAuthorization {
		a.logger.Debug("ignoring stale authorization change", slog.String("status", status.String()),
			slog.String("state", a.state.String()))
		return
	}

	switch {
	case status == AuthorizationAuthorized:
		a.startStream()
	case status.Refused():
		a.setState(StateStopped)
		a.recordError(Fatal(CodeAuthorizationDenied, ReasonAuthorizationDenied))
	}
}

// OnFixReceived handles a fix delivered by the provider. Fixes outside an active session are
// dropped.
func (a *Acquirer) OnFixReceived(fix Fix) {
	if a.state != StateActive {
		a.observer.FixProcessed(fix, FixIgnored)
		a.logger.Debug("ignoring fix outside of active session", slog.String("state", a.state.String()),
			slog.String("source", fix.Source))
		return
	}
	if !a.policy.Usable(fix, a.clock.Now()) {
		a.observer.FixProcessed(fix, FixInvalid)
		a.logger.Debug("dropping unusable fix", a.sessionAttr(), slog.Float64("accuracy", fix.HorizontalAccuracy),
			slog.Time("timestamp", fix.Timestamp), slog.String("source", fix.Source))
		return
	}
	if !a.policy.Accept(a.best, fix) {
		a.observer.FixProcessed(fix, FixRejected)
		a.logger.Debug("rejecting fix, current best is better", a.sessionAttr(),
			slog.Float64("accuracy", fix.HorizontalAccuracy),
			slog.Float64("best_accuracy", a.best.Value().HorizontalAccuracy))
		return
	}

	a.best.Set(fix)
	a.lastErr.Reset()
	a.rev++
	a.observer.FixProcessed(fix, FixAccepted)
	a.logger.Debug("accepted new best fix", a.sessionAttr(), slog.Float64("lat", fix.Latitude),
		slog.Float64("lon", fix.Longitude), slog.Float64("accuracy", fix.HorizontalAccuracy),
		slog.String("source", fix.Source))
}

// OnAcquisitionError handles an error delivered by the provider. Transient errors are recorded
// and the session keeps running; fatal errors end the session but keep the best fix.
func (a *Acquirer) OnAcquisitionError(err AcquisitionError) {
	if a.state != StateActive {
		a.logger.Debug("ignoring provider error outside of active session", slog.String("error", err.Error()),
			slog.String("state", a.state.String()))
		return
	}
	if err.IsFatal() {
		a.stopStream()
		a.setState(StateStopped)
	}
	a.recordError(err)
}

// StopAcquiring ends the current session. It does not clear the best fix or the last error.
func (a *Acquirer) StopAcquiring() Snapshot {
	switch a.state {
	case StateActive:
		a.stopStream()
		a.setState(StateStopped)
	case StateAwaitingAuthorization:
		a.setState(StateStopped)
	}
	return a.Snapshot()
}

// Reset stops any running stream and returns the acquirer to its freshly constructed state.
func (a *Acquirer) Reset() {
	a.stopStream()
	a.session = ""
	a.best.Reset()
	a.lastErr.Reset()
	a.setState(StateIdle)
	a.rev++
}

// StatusMessage returns the human-readable status for the current state. servicesEnabled tells
// whether location services are available on the host at all.
func (a *Acquirer) StatusMessage(servicesEnabled bool) string {
	return a.Snapshot().StatusMessage(servicesEnabled)
}

func (a *Acquirer) beginSession() {
	a.session = a.newID()
	a.best.Reset()
	a.lastErr.Reset()
	a.rev++
	a.observer.SessionStarted(a.session)
	a.logger.Debug("starting new acquisition session", a.sessionAttr(),
		slog.String("provider", a.provider.Name()))
}

// startStream starts the provider stream. The state is switched before StartUpdates so that a
// provider calling back synchronously already finds the session active.
func (a *Acquirer) startStream() {
	if a.state == StateActive {
		return
	}
	a.lastErr.Reset()
	a.setState(StateActive)
	a.provider.StartUpdates()
}

func (a *Acquirer) stopStream() {
	if a.state != StateActive {
		return
	}
	a.provider.StopUpdates()
}

func (a *Acquirer) setState(state SessionState) {
	if a.state == state {
		return
	}
	from := a.state
	a.state = state
	a.rev++
	a.observer.StateChanged(from, state)
	a.logger.Debug("acquisition session state changed", a.sessionAttr(), slog.String("from", from.String()),
		slog.String("to", state.String()))
}

func (a *Acquirer) recordError(err AcquisitionError) {
	a.lastErr.Set(err)
	a.rev++
	a.observer.ErrorRecorded(err)
	a.logger.Debug("recorded acquisition error", a.sessionAttr(), slog.String("severity", err.Severity.String()),
		slog.String("code", err.Code.String()), slog.String("reason", err.Reason))
}

func (a *Acquirer) sessionAttr() slog.Attr {
	return logger.Session(a.session)
}
