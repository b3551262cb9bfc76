// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/geofix/internal/geobus"
)

const (
	name = "geolocation_file"

	// Accuracy is used for coordinates without an explicit accuracy. We consider geolocation file
	// data as the most accurate data available.
	Accuracy = 5
)

var ErrNoCoordinates = fmt.Errorf("%w: no valid coordinates found in geolocation file", geobus.ErrPositionUnknown)

// GeolocationFileProvider reads geolocation data from a file. Each non-comment line holds
// "lat,lon" or "lat,lon,accuracy", the first valid line is used.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	locateFn geobus.Locator
}

// NewGeolocationFileProvider initializes a GeolocationFileProvider for the given file path.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
	}
	provider.locateFn = provider.readFile
	return provider
}

// Name returns the name of the GeolocationFileProvider instance.
func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// LookupStream reads the file right away and then every period, streaming changed coordinates.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context) <-chan geobus.Result {
	return geobus.PollStream(ctx, p.name, p.period, p.locateFn)
}

// readFile reads the coordinate from the file at the configured path.
func (p *GeolocationFileProvider) readFile(context.Context) (geobus.Coordinate, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("%w: failed to read geolocation file %q: %s",
			geobus.ErrSourceUnavailable, p.path, err)
	}
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		coord, ok := parseLine(line)
		if !ok {
			continue
		}
		return coord, nil
	}
	return geobus.Coordinate{}, ErrNoCoordinates
}

func parseLine(line string) (geobus.Coordinate, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return geobus.Coordinate{}, false
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geobus.Coordinate{}, false
		}
		values[i] = value
	}

	coord := geobus.Coordinate{Lat: values[0], Lon: values[1], Acc: Accuracy}
	if len(values) == 3 {
		coord.Acc = values[2]
	}
	if !coord.Valid() || coord.Acc <= 0 {
		return geobus.Coordinate{}, false
	}
	return coord, true
}
