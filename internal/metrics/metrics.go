// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics exports acquisition statistics in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/logger"
)

const (
	namespace       = "geofix"
	shutdownTimeout = 5 * time.Second
)

var states = []acquirer.SessionState{
	acquirer.StateIdle,
	acquirer.StateAwaitingAuthorization,
	acquirer.StateActive,
	acquirer.StateStopped,
}

// Metrics implements acquirer.Observer and keeps its collectors in a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	sessions     prometheus.Counter
	fixes        *prometheus.CounterVec
	errors       *prometheus.CounterVec
	state        *prometheus.GaugeVec
	bestAccuracy prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total acquisition sessions started.",
		}),
		fixes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_total",
			Help:      "Total fixes delivered by the provider grouped by outcome.",
		}, []string{"outcome", "source"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total acquisition errors grouped by severity and code.",
		}, []string{"severity", "code"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state, 1 for the active state and 0 otherwise.",
		}, []string{"state"}),
		bestAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fix_accuracy_meters",
			Help:      "Horizontal accuracy of the best fix of the current session, 0 if none.",
		}),
	}
	m.setState(acquirer.StateIdle)
	return m
}

// Registry returns the registry holding all geofix collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionStarted(string) {
	m.sessions.Inc()
	m.bestAccuracy.Set(0)
}

func (m *Metrics) StateChanged(_, to acquirer.SessionState) {
	m.setState(to)
}

func (m *Metrics) FixProcessed(fix acquirer.Fix, outcome acquirer.FixOutcome) {
	m.fixes.WithLabelValues(outcome.String(), fix.Source).Inc()
	if outcome == acquirer.FixAccepted {
		m.bestAccuracy.Set(fix.HorizontalAccuracy)
	}
}

func (m *Metrics) ErrorRecorded(err acquirer.AcquisitionError) {
	m.errors.WithLabelValues(err.Severity.String(), err.Code.String()).Inc()
}

func (m *Metrics) setState(current acquirer.SessionState) {
	for _, state := range states {
		value := 0.0
		if state == current {
			value = 1
		}
		m.state.WithLabelValues(state.String()).Set(value)
	}
}

// Handler returns the HTTP handler serving the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve serves /metrics on the given address until ctx is done.
func (m *Metrics) Serve(ctx context.Context, log *logger.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down metrics server", logger.Err(err))
		}
	}()

	log.Debug("serving metrics", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}
	return nil
}
