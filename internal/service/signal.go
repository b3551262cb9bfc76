// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// signalSource abstracts os/signal so tests can inject signals.
type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (stdLibSignalSource) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// controlSignals are the signals a waybar on-click or on-click-right handler sends.
var controlSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}

// HandleSignals maps SIGUSR1 to "Get My Location" and SIGUSR2 to stopping the current session
// until ctx is done.
func (s *Service) HandleSignals(ctx context.Context, sigChan <-chan os.Signal) {
	actions := map[os.Signal]func(context.Context){
		syscall.SIGUSR1: s.requestFix,
		syscall.SIGUSR2: s.stopAcquiring,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			action, ok := actions[sig]
			if !ok {
				continue
			}
			s.logger.Debug("received control signal", slog.String("signal", sig.String()))
			action(ctx)
		}
	}
}
