// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geofix/internal/geobus"
	"github.com/wneessen/geofix/internal/logger"
)

const (
	login1Interface = "org.freedesktop.login1.Manager"
	login1Member    = "PrepareForSleep"

	resumeDebounce   = 2 * time.Second
	sleepSignalQueue = 8

	busRetryDelay       = 5 * time.Second
	busReconnectDelay   = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
	networkWakeupDelay  = 10 * time.Second
)

// resumeGate lets one resume event pass per debounce window. logind tends to report a wakeup
// more than once.
type resumeGate struct {
	last atomic.Int64
}

func (g *resumeGate) pass(now time.Time) bool {
	last := g.last.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < resumeDebounce {
		return false
	}
	return g.last.CompareAndSwap(last, now.UnixNano())
}

// monitorSleepResume watches logind for PrepareForSleep signals on the system bus until ctx is
// done. A lost bus connection is re-established.
func (s *Service) monitorSleepResume(ctx context.Context) {
	gate := new(resumeGate)
	for {
		conn, ok := s.dialSystemBus(ctx)
		if !ok {
			return
		}
		closeConn := func() {
			if err := conn.Close(); err != nil {
				s.logger.Debug("failed to close system bus connection", logger.Err(err))
			}
		}
		stop := context.AfterFunc(ctx, closeConn)

		signals, err := subscribeSleepSignal(conn)
		if err != nil {
			s.logger.Error("failed to watch for system sleep", logger.Err(err))
			if stop() {
				closeConn()
			}
			if !geobus.SleepOrDone(ctx, subscribeRetryDelay) {
				return
			}
			continue
		}
		s.logger.Debug("watching for system sleep", slog.String("interface", login1Interface),
			slog.String("member", login1Member))

		s.watchSleepSignals(ctx, signals, gate)
		conn.RemoveSignal(signals)
		if stop() {
			closeConn()
		}
		if !geobus.SleepOrDone(ctx, busReconnectDelay) {
			return
		}
	}
}

// dialSystemBus retries to connect to the system bus until it succeeds or ctx is done.
func (s *Service) dialSystemBus(ctx context.Context) (*dbus.Conn, bool) {
	for {
		conn, err := s.busConnFn()
		if err == nil {
			return conn, true
		}
		s.logger.Debug("system bus not available, sleep monitoring paused", logger.Err(err))
		if !geobus.SleepOrDone(ctx, busRetryDelay) {
			return nil, false
		}
	}
}

func subscribeSleepSignal(conn *dbus.Conn) (chan *dbus.Signal, error) {
	if err := conn.AddMatchSignal(dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(login1Member)); err != nil {
		return nil, fmt.Errorf("failed to add match for %s.%s: %w", login1Interface, login1Member, err)
	}
	signals := make(chan *dbus.Signal, sleepSignalQueue)
	conn.Signal(signals)
	return signals, nil
}

// watchSleepSignals returns when ctx is done or the connection delivering signals went away.
func (s *Service) watchSleepSignals(ctx context.Context, signals <-chan *dbus.Signal, gate *resumeGate) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			s.processSleepSignal(ctx, sig, gate)
		}
	}
}

// processSleepSignal acts on PrepareForSleep(false), which logind emits after a resume.
func (s *Service) processSleepSignal(ctx context.Context, sig *dbus.Signal, gate *resumeGate) {
	if sig == nil || len(sig.Body) != 1 {
		return
	}
	if sleeping, ok := sig.Body[0].(bool); ok && !sleeping {
		s.handleResumeEvent(ctx, gate)
	}
}

// handleResumeEvent restarts an active session after the system woke up, so a fix from before
// the sleep does not stick.
func (s *Service) handleResumeEvent(ctx context.Context, gate *resumeGate) {
	if !gate.pass(time.Now()) {
		return
	}
	if !geobus.SleepOrDone(ctx, networkWakeupDelay) {
		return
	}

	snap, err := s.loop.Restart(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.logger.Error("failed to restart location session after resume", logger.Err(err))
		return
	}
	s.logger.Debug("resumed from sleep", logger.Session(snap.SessionID),
		slog.String("state", snap.State.String()))
}
