// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geobus connects location sources to the acquirer. Every source streams Results, the
// Orchestrator merges the streams of all configured sources into one.
package geobus

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
	AccuracyUnknown = 1000000
	TruncPrecision  = 4
)

var (
	// ErrPositionUnknown is reported when a source is working but cannot determine a position yet.
	ErrPositionUnknown = errors.New("position currently unknown")

	// ErrSourceUnavailable is reported when a source cannot be reached, e.g. a daemon is not running.
	ErrSourceUnavailable = errors.New("location source unavailable")

	// ErrHardwareUnavailable is reported when the location hardware is missing.
	ErrHardwareUnavailable = errors.New("location hardware unavailable")

	// ErrNoProviders is reported by the Orchestrator once no usable source remains.
	ErrNoProviders = errors.New("no location source available")
)

// Provider defines an interface for location sources. LookupStream must close the returned channel
// once it stops producing results.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context) <-chan Result
}

// Result is either a position reading of a source or an error. Err is nil for readings.
type Result struct {
	Lat, Lon       float64
	Alt            float64
	AccuracyMeters float64
	Source         string
	At             time.Time
	Err            error
}

// Failed reports whether the Result carries an error instead of a reading.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Coordinate returns the position of the Result.
func (r Result) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lon: r.Lon, Acc: r.AccuracyMeters}
}

// FatalError marks an error after which a source will never produce results again.
type FatalError struct {
	Err error
}

// Fatal wraps err into a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err or any error it wraps is a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ErrorResult creates a Result carrying err for the given source.
func ErrorResult(source string, err error) Result {
	return Result{Source: source, At: time.Now(), Err: err}
}

// SleepOrDone waits for d and reports true, or reports false as soon as ctx is done.
func SleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}
