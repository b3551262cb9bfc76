// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/godbus/dbus/v5"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/config"
	"github.com/wneessen/geofix/internal/logger"
	"github.com/wneessen/geofix/internal/metrics"
	"github.com/wneessen/geofix/internal/presenter"
)

const (
	DesktopID = "geofix"

	snapshotBufferSize = 8
)

type outputData struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
	Alt     string `json:"alt"`
}

type Service struct {
	SignalSrc signalSource

	config    *config.Config
	logger    *logger.Logger
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	metrics   *metrics.Metrics

	acquirer    *acquirer.Acquirer
	loop        *acquirer.Loop
	runProvider func(context.Context) error
	busConnFn   func() (*dbus.Conn, error)

	outputLock sync.Mutex
	output     io.Writer
}

func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, acquirer.ErrNoLogger
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	pres, err := presenter.New(conf, t)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	service := &Service{
		SignalSrc: stdLibSignalSource{},
		config:    conf,
		logger:    log,
		presenter: pres,
		scheduler: scheduler,
		metrics:   metrics.New(),
		busConnFn: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() },
		output:    os.Stdout,
	}

	provider, run, err := service.selectLocationProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to create location provider: %w", err)
	}
	policy := acquirer.Policy{
		ToleranceMeters: conf.Acquisition.ToleranceMeters,
		MaxAge:          conf.Acquisition.MaxFixAge,
	}
	service.acquirer, err = acquirer.New(provider, log, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquirer: %w", err)
	}
	service.acquirer.SetObserver(service.metrics)
	service.loop = acquirer.NewLoop(service.acquirer, acquirer.Budget{
		DesiredAccuracy: conf.Acquisition.DesiredAccuracy,
		Timeout:         conf.Acquisition.Timeout,
	})
	service.runProvider = run

	return service, nil
}

// Run starts the location provider, the event loop and all jobs. Unless autostart is disabled,
// a session is requested right away. Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printOutput, "output_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	var wg sync.WaitGroup
	wg.Go(func() { s.loop.Run(ctx) })
	wg.Go(func() {
		if err := s.runProvider(ctx); err != nil {
			s.logger.Error("location provider stopped", logger.Err(err))
		}
	})

	sub, unsub := s.loop.Subscribe(snapshotBufferSize)
	wg.Go(func() { s.processSnapshots(ctx, sub) })

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, controlSignals...)
	wg.Go(func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	})
	wg.Go(func() { s.monitorSleepResume(ctx) })

	if s.config.Metrics.Listen != "" {
		wg.Go(func() {
			if err := s.metrics.Serve(ctx, s.logger, s.config.Metrics.Listen); err != nil {
				s.logger.Error("metrics endpoint stopped", logger.Err(err))
			}
		})
	}

	if !s.config.Acquisition.DisableAutostart {
		s.requestFix(ctx)
	}

	<-ctx.Done()
	unsub()
	wg.Wait()
	return s.scheduler.Shutdown()
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// requestFix is the "Get My Location" action.
func (s *Service) requestFix(ctx context.Context) {
	snap, err := s.loop.RequestFix(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("failed to request location fix", logger.Err(err))
		}
		return
	}
	s.logger.Debug("location fix requested", logger.Session(snap.SessionID),
		slog.String("state", snap.State.String()))
}

func (s *Service) stopAcquiring(ctx context.Context) {
	snap, err := s.loop.StopAcquiring(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("failed to stop location acquisition", logger.Err(err))
		}
		return
	}
	s.logger.Debug("location acquisition stopped", logger.Session(snap.SessionID))
}

// processSnapshots prints every published snapshot until ctx is done or the subscription ends.
func (s *Service) processSnapshots(ctx context.Context, sub <-chan acquirer.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub:
			if !ok {
				return
			}
			s.printSnapshot(snap)
		}
	}
}

// printOutput prints the current snapshot. It is run by the output job so relative times in the
// tooltip stay current.
func (s *Service) printOutput(context.Context) {
	s.printSnapshot(s.loop.Snapshot())
}

func (s *Service) printSnapshot(snap acquirer.Snapshot) {
	out, err := s.presenter.Render(s.presenter.BuildContext(snap, s.loop.ServicesEnabled()))
	if err != nil {
		s.logger.Error("failed to render output", logger.Err(err))
		return
	}

	output := outputData{
		Text:    out["text"],
		Tooltip: out["tooltip"],
		Class:   out["class"],
		Alt:     out["alt"],
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode output", logger.Err(err))
	}
}
