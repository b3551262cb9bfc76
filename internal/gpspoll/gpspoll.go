// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a one-shot gpsd client. Every Poll opens a connection, asks gpsd for
// its latest fix and hangs up again.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	// typical errors of consumer receivers if gpsd reports no error estimate
	fallbackAccuracy3DFix = 10
	fallbackAccuracy2DFix = 25
	fallbackAccuracyNoFix = 1e6

	defaultTimeout = time.Second * 2

	pollRequest = `?WATCH={"enable":true,"json":true};?POLL;` + "\n"
)

// ErrNoReport is returned when gpsd hung up without reporting a position.
var ErrNoReport = errors.New("gpspoll: gpsd sent no position report")

type Client struct {
	Addr string
}

// Fix is the latest position gpsd knows of. Time is zero if the receiver did not report one.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
	Time time.Time
}

// report is a gpsd JSON object. POLL objects carry the latest TPV reports per device, TPV
// objects carry a position themselves.
type report struct {
	Class string    `json:"class"`
	TPV   []report  `json:"tpv,omitempty"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Alt   float64   `json:"alt"`
	Mode  int       `json:"mode"`
	Time  time.Time `json:"time"`
	Epx   float64   `json:"epx"`
	Epy   float64   `json:"epy"`
	Eph   float64   `json:"eph"`
}

func New(host, port string) *Client {
	return &Client{Addr: net.JoinHostPort(host, port)}
}

// Poll asks gpsd for the current fix. Without a deadline on ctx, a poll gives up after two
// seconds.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return Fix{}, fmt.Errorf("gpspoll: failed to connect to gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err = fmt.Fprint(conn, pollRequest); err != nil {
		return Fix{}, fmt.Errorf("gpspoll: failed to send poll request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var rep report
		if err = json.Unmarshal(scanner.Bytes(), &rep); err != nil {
			continue
		}
		if tpv, found := rep.position(); found {
			return tpv.fix(), nil
		}
	}
	if ctx.Err() != nil {
		return Fix{}, ctx.Err()
	}
	if err = scanner.Err(); err != nil {
		return Fix{}, fmt.Errorf("gpspoll: failed to read gpsd response: %w", err)
	}
	return Fix{}, ErrNoReport
}

// position returns the TPV report contained in r, preferring the best fix of a POLL object.
func (r report) position() (report, bool) {
	switch r.Class {
	case "TPV":
		return r, true
	case "POLL":
		if len(r.TPV) == 0 {
			return report{}, false
		}
		best := r.TPV[0]
		for _, tpv := range r.TPV[1:] {
			if tpv.Mode > best.Mode {
				best = tpv
			}
		}
		return best, true
	default:
		return report{}, false
	}
}

func (r report) fix() Fix {
	return Fix{
		Lat:  r.Lat,
		Lon:  r.Lon,
		Alt:  r.Alt,
		Acc:  HorizontalAccuracy(r.Mode, r.Eph, r.Epx, r.Epy),
		Mode: r.Mode,
		Time: r.Time,
	}
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

// HorizontalAccuracy estimates the horizontal error of a gpsd fix in meters from eph, then
// hypot(epx, epy), then the fix mode.
func HorizontalAccuracy(mode int, eph, epx, epy float64) float64 {
	if eph > 0 {
		return eph
	}
	if epx > 0 && epy > 0 {
		return math.Hypot(epx, epy)
	}
	switch {
	case mode >= 3:
		return fallbackAccuracy3DFix
	case mode == 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
