// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geofix/internal/logger"
)

// ReasonTimeout is recorded when a session ran out of time without any accepted fix.
const ReasonTimeout = "timed out waiting for a location fix"

// Budget limits an acquisition session. Zero values disable the respective limit.
type Budget struct {
	// DesiredAccuracy stops the session once the best fix is at least this accurate (meters).
	DesiredAccuracy float64

	// Timeout stops the session after it has been active this long. If no fix was accepted by
	// then, a fatal timeout error is recorded.
	Timeout time.Duration
}

// Loop serializes all access to an Acquirer onto a single goroutine. It is the Delegate of the
// acquirer's provider, so provider callbacks may arrive from any goroutine; they are queued and
// handled one at a time in delivery order, together with caller requests.
type Loop struct {
	acq    *Acquirer
	budget Budget
	clock  clockwork.Clock
	logger *logger.Logger

	queueLock sync.Mutex
	queue     []func()
	wake      chan struct{}

	snapLock sync.RWMutex
	snapshot Snapshot
	subs     map[chan Snapshot]struct{}

	// owned by the Run goroutine
	published    uint64
	timer        clockwork.Timer
	timerSession string
}

// NewLoop creates a Loop for the given acquirer and registers it as the delegate of the
// acquirer's provider.
func NewLoop(acq *Acquirer, budget Budget) *Loop {
	loop := &Loop{
		acq:       acq,
		budget:    budget,
		clock:     acq.clock,
		logger:    acq.logger,
		wake:      make(chan struct{}, 1),
		snapshot:  acq.Snapshot(),
		subs:      make(map[chan Snapshot]struct{}),
		published: acq.Revision(),
	}
	acq.provider.SetDelegate(loop)
	return loop
}

// Run processes queued events until the context is cancelled. On return, an active session is
// stopped.
func (l *Loop) Run(ctx context.Context) {
	defer l.stopTimer()
	for {
		var timeout <-chan time.Time
		if l.timer != nil {
			timeout = l.timer.Chan()
		}

		select {
		case <-ctx.Done():
			l.acq.StopAcquiring()
			l.publish()
			return
		case <-l.wake:
			for {
				fn, ok := l.next()
				if !ok {
					break
				}
				fn()
				l.settle()
			}
		case <-timeout:
			l.timer = nil
			l.expire()
			l.settle()
		}
	}
}

// RequestFix asks the acquirer to start a session and returns the resulting snapshot.
func (l *Loop) RequestFix(ctx context.Context) (Snapshot, error) {
	return l.call(ctx, l.acq.RequestFix)
}

// StopAcquiring stops the current session and returns the resulting snapshot.
func (l *Loop) StopAcquiring(ctx context.Context) (Snapshot, error) {
	return l.call(ctx, l.acq.StopAcquiring)
}

// Restart replaces an active session with a fresh one. Inactive sessions are left alone.
func (l *Loop) Restart(ctx context.Context) (Snapshot, error) {
	return l.call(ctx, func() Snapshot {
		if l.acq.state != StateActive {
			return l.acq.Snapshot()
		}
		l.acq.StopAcquiring()
		return l.acq.RequestFix()
	})
}

// Snapshot returns the most recently published snapshot.
func (l *Loop) Snapshot() Snapshot {
	l.snapLock.RLock()
	defer l.snapLock.RUnlock()
	return l.snapshot
}

// StatusMessage returns the status message of the most recently published snapshot.
func (l *Loop) StatusMessage() string {
	return l.Snapshot().StatusMessage(l.ServicesEnabled())
}

// ServicesEnabled reports whether the provider considers location services available. Providers
// that cannot tell are assumed to be available.
func (l *Loop) ServicesEnabled() bool {
	if reporter, ok := l.acq.provider.(ServicesReporter); ok {
		return reporter.LocationServicesEnabled()
	}
	return true
}

// Subscribe returns a channel receiving every newly published snapshot, starting with the
// current one, and a function to cancel the subscription. Slow subscribers miss snapshots
// instead of blocking the loop.
func (l *Loop) Subscribe(size int) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, size)
	l.snapLock.Lock()
	l.subs[ch] = struct{}{}
	select {
	case ch <- l.snapshot:
	default:
	}
	l.snapLock.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			l.snapLock.Lock()
			delete(l.subs, ch)
			l.snapLock.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// OnAuthorizationChanged queues an authorization change for the acquirer.
func (l *Loop) OnAuthorizationChanged(status AuthorizationState) {
	l.post(func() { l.acq.OnAuthorizationChanged(status) })
}

// OnFixReceived queues a fix for the acquirer.
func (l *Loop) OnFixReceived(fix Fix) {
	l.post(func() { l.acq.OnFixReceived(fix) })
}

// OnAcquisitionError queues a provider error for the acquirer.
func (l *Loop) OnAcquisitionError(err AcquisitionError) {
	l.post(func() { l.acq.OnAcquisitionError(err) })
}

func (l *Loop) call(ctx context.Context, fn func() Snapshot) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	l.post(func() { reply <- fn() })
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// post never blocks, so providers may call back from within StartUpdates or StopUpdates while
// the loop goroutine is busy.
func (l *Loop) post(fn func()) {
	l.queueLock.Lock()
	l.queue = append(l.queue, fn)
	l.queueLock.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (func(), bool) {
	l.queueLock.Lock()
	defer l.queueLock.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// settle enforces the budget after an event, keeps the timeout timer in line with the session
// and publishes the snapshot if anything changed.
func (l *Loop) settle() {
	snap := l.acq.Snapshot()
	if best, ok := snap.BestFix.Get(); ok && snap.State == StateActive && l.budget.DesiredAccuracy > 0 &&
		best.HorizontalAccuracy <= l.budget.DesiredAccuracy {
		l.logger.Debug("desired accuracy reached, stopping acquisition", logger.Session(snap.SessionID),
			slog.Float64("accuracy", best.HorizontalAccuracy))
		snap = l.acq.StopAcquiring()
	}

	switch {
	case snap.State != StateActive:
		l.stopTimer()
	case l.budget.Timeout > 0 && (l.timer == nil || l.timerSession != snap.SessionID):
		l.stopTimer()
		l.timer = l.clock.NewTimer(l.budget.Timeout)
		l.timerSession = snap.SessionID
	}

	l.publish()
}

func (l *Loop) expire() {
	snap := l.acq.Snapshot()
	if snap.State != StateActive || snap.SessionID != l.timerSession {
		return
	}
	if snap.BestFix.IsSet() {
		l.logger.Debug("acquisition budget exhausted, stopping with best fix", logger.Session(snap.SessionID))
		l.acq.StopAcquiring()
		return
	}
	l.acq.OnAcquisitionError(Fatal(CodeTimeout, ReasonTimeout))
}

func (l *Loop) stopTimer() {
	if l.timer == nil {
		return
	}
	l.timer.Stop()
	l.timer = nil
	l.timerSession = ""
}

func (l *Loop) publish() {
	rev := l.acq.Revision()
	if rev == l.published {
		return
	}
	l.published = rev
	snap := l.acq.Snapshot()

	l.snapLock.Lock()
	defer l.snapLock.Unlock()
	l.snapshot = snap
	for ch := range l.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
