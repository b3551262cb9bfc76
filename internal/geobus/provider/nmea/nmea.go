// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nmea

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"go.bug.st/serial"

	"github.com/wneessen/geofix/internal/geobus"
)

const (
	// DefaultBaudRate is the standard NMEA 0183 baud rate.
	DefaultBaudRate = 4800

	name = "nmea"
)

// GeolocationNMEAProvider reads NMEA 0183 sentences from a GPS receiver attached to a serial port.
type GeolocationNMEAProvider struct {
	name     string
	portPath string
	baudRate int
	openFn   func(path string, mode *serial.Mode) (io.ReadCloser, error)
}

// NewGeolocationNMEAProvider returns a provider reading from the serial port at portPath. A zero
// baud rate selects DefaultBaudRate.
func NewGeolocationNMEAProvider(portPath string, baudRate int) *GeolocationNMEAProvider {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &GeolocationNMEAProvider{
		name:     name,
		portPath: portPath,
		baudRate: baudRate,
		openFn: func(path string, mode *serial.Mode) (io.ReadCloser, error) {
			port, err := serial.Open(path, mode)
			if err != nil {
				return nil, err
			}
			return port, nil
		},
	}
}

func (p *GeolocationNMEAProvider) Name() string {
	return p.name
}

// LookupStream opens the serial port and streams a Result for every RMC sentence. A missing port
// ends the stream with a fatal error, any other failure with a transient one.
func (p *GeolocationNMEAProvider) LookupStream(ctx context.Context) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)

		port, err := p.openFn(p.portPath, &serial.Mode{
			BaudRate: p.baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			p.send(ctx, out, geobus.ErrorResult(p.name, p.openError(err)))
			return
		}

		// Closing the port unblocks a pending read once the stream is cancelled.
		readCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-readCtx.Done()
			_ = port.Close()
		}()

		parser := &sentenceParser{}
		waitingForFix := false
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			current, ok := parser.parse(scanner.Text())
			if !ok {
				continue
			}
			if !current.valid {
				if waitingForFix {
					continue
				}
				waitingForFix = true
				if !p.send(ctx, out, geobus.ErrorResult(p.name, geobus.ErrPositionUnknown)) {
					return
				}
				continue
			}
			waitingForFix = false
			if !p.send(ctx, out, p.createResult(current)) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		err = scanner.Err()
		if err == nil {
			err = io.EOF
		}
		p.send(ctx, out, geobus.ErrorResult(p.name, fmt.Errorf("%w: failed to read from %s: %w",
			geobus.ErrSourceUnavailable, p.portPath, err)))
	}()
	return out
}

// createResult composes a Result from a valid reading.
func (p *GeolocationNMEAProvider) createResult(r reading) geobus.Result {
	at := r.at
	if at.IsZero() {
		at = time.Now()
	}
	return geobus.Result{
		Lat:            r.lat,
		Lon:            r.lon,
		Alt:            r.alt,
		AccuracyMeters: r.accuracy(),
		Source:         p.name,
		At:             at,
	}
}

// openError classifies a serial port error. Missing or inaccessible devices will not recover on
// their own and are fatal.
func (p *GeolocationNMEAProvider) openError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return geobus.Fatal(fmt.Errorf("%w: %s: %w", geobus.ErrHardwareUnavailable, p.portPath, err))
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PermissionDenied, serial.InvalidSerialPort:
			return geobus.Fatal(fmt.Errorf("%w: %s: %w", geobus.ErrHardwareUnavailable, p.portPath, err))
		}
	}
	return fmt.Errorf("%w: failed to open %s: %w", geobus.ErrSourceUnavailable, p.portPath, err)
}

func (p *GeolocationNMEAProvider) send(ctx context.Context, out chan<- geobus.Result, r geobus.Result) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}
