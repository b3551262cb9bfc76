// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geofix/internal/geobus"
	"github.com/wneessen/geofix/internal/gpspoll"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "2947"

	name       = "gpsd"
	pollPeriod = time.Second * 5
	reportBuf  = 8
)

// watchSession is the part of a go-gpsd session used in watch mode.
type watchSession interface {
	AddFilter(class string, filter gpsd.Filter)
	Watch() chan bool
	Close() error
}

// GeolocationGPSDProvider streams fixes from a gpsd daemon. In watch mode it keeps a connection open
// and receives every TPV report, in poll mode it requests a single report every period.
type GeolocationGPSDProvider struct {
	name     string
	addr     string
	watch    bool
	period   time.Duration
	locateFn func(ctx context.Context) (gpspoll.Fix, error)
	dialFn   func(addr string) (watchSession, error)
}

// NewGeolocationGPSDProvider returns a provider for the gpsd daemon at host and port. Empty values
// select the gpsd defaults.
func NewGeolocationGPSDProvider(host, port string, watch bool) *GeolocationGPSDProvider {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	provider := &GeolocationGPSDProvider{
		name:   name,
		addr:   net.JoinHostPort(host, port),
		watch:  watch,
		period: pollPeriod,
	}
	client := gpspoll.New(host, port)
	provider.locateFn = client.Poll
	provider.dialFn = func(addr string) (watchSession, error) {
		session, err := gpsd.Dial(addr)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return provider
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// LookupStream streams gpsd fixes until ctx is done or the gpsd connection ends.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context) <-chan geobus.Result {
	if p.watch {
		return p.watchStream(ctx)
	}
	return geobus.PollStream(ctx, p.name, p.period, p.locate)
}

func (p *GeolocationGPSDProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	fix, err := p.locateFn(ctx)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("%w: %w", geobus.ErrSourceUnavailable, err)
	}
	if !fix.Has2DFix() {
		return geobus.Coordinate{}, geobus.ErrPositionUnknown
	}
	return geobus.Coordinate{
		Lat: geobus.Truncate(fix.Lat, geobus.TruncPrecision+2),
		Lon: geobus.Truncate(fix.Lon, geobus.TruncPrecision+2),
		Acc: fix.Acc,
	}, nil
}

func (p *GeolocationGPSDProvider) watchStream(ctx context.Context) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)

		session, err := p.dialFn(p.addr)
		if err != nil {
			p.send(ctx, out, geobus.ErrorResult(p.name, fmt.Errorf("%w: failed to connect to gpsd at %q: %w",
				geobus.ErrSourceUnavailable, p.addr, err)))
			return
		}

		// The filter runs on the go-gpsd goroutine and must not block it.
		reports := make(chan *gpsd.TPVReport, reportBuf)
		session.AddFilter("TPV", func(r interface{}) {
			tpv, ok := r.(*gpsd.TPVReport)
			if !ok {
				return
			}
			select {
			case reports <- tpv:
			default:
			}
		})
		done := session.Watch()
		watching := true
		defer func() {
			// Closing the socket ends the go-gpsd watch goroutine, which then blocks on done
			// until someone receives.
			_ = session.Close()
			if watching {
				<-done
			}
		}()

		waitingForFix := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				watching = false
				return
			case tpv := <-reports:
				result := p.tpvResult(tpv)
				if result.Failed() {
					if waitingForFix {
						continue
					}
					waitingForFix = true
				} else {
					waitingForFix = false
				}
				if !p.send(ctx, out, result) {
					return
				}
			}
		}
	}()
	return out
}

// tpvResult converts a TPV report into a Result. Reports without at least a 2D fix become a
// position unknown error.
func (p *GeolocationGPSDProvider) tpvResult(tpv *gpsd.TPVReport) geobus.Result {
	if tpv.Mode < gpsd.Mode2D {
		return geobus.ErrorResult(p.name, geobus.ErrPositionUnknown)
	}
	at := tpv.Time
	if at.IsZero() {
		at = time.Now()
	}
	return geobus.Result{
		Lat:            tpv.Lat,
		Lon:            tpv.Lon,
		Alt:            tpv.Alt,
		AccuracyMeters: gpspoll.HorizontalAccuracy(int(tpv.Mode), 0, tpv.Epx, tpv.Epy),
		Source:         p.name,
		At:             at,
	}
}

func (p *GeolocationGPSDProvider) send(ctx context.Context, out chan<- geobus.Result, r geobus.Result) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}
