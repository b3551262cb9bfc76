// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wneessen/geofix/internal/geobus"
	geohttp "github.com/wneessen/geofix/internal/http"
)

const (
	APIEndpoint   = "https://geoapi.info/api/geo"
	LookupTimeout = time.Second * 5

	name = "geoapi"
)

// GeolocationGeoAPIProvider is a second IP based source. It reports coordinates as strings, so
// broken values are common and reported as position unknown.
type GeolocationGeoAPIProvider struct {
	name     string
	http     *geohttp.Client
	period   time.Duration
	locateFn geobus.Locator
}

type APIResult struct {
	IP       string `json:"ip"`
	Location struct {
		CountryCode string `json:"country,omitempty"`
		Country     string `json:"countryName,omitempty"`
		Region      string `json:"region,omitempty"`
		City        string `json:"city,omitempty"`
		ZipCode     string `json:"postalCode,omitempty"`
		TimeZone    string `json:"timezone"`
		Coordinates struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

func NewGeolocationGeoAPIProvider(client *geohttp.Client) (*GeolocationGeoAPIProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	provider := &GeolocationGeoAPIProvider{
		name:   name,
		http:   client,
		period: time.Minute * 10,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationGeoAPIProvider) Name() string {
	return p.name
}

func (p *GeolocationGeoAPIProvider) LookupStream(ctx context.Context) <-chan geobus.Result {
	return geobus.PollStream(ctx, p.name, p.period, p.locateFn)
}

func (p *GeolocationGeoAPIProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	result := new(APIResult)
	code, err := p.http.GetWithTimeout(ctx, APIEndpoint, result, nil, nil, LookupTimeout)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if code != http.StatusOK {
		return geobus.Coordinate{}, fmt.Errorf("%w: geoapi returned status %d", geobus.ErrSourceUnavailable, code)
	}
	return coordinateFromResult(result)
}

func coordinateFromResult(result *APIResult) (geobus.Coordinate, error) {
	acc := float64(geobus.AccuracyUnknown)
	if result.Location.CountryCode != "" {
		acc = geobus.AccuracyCountry
	}
	if result.Location.Region != "" {
		acc = geobus.AccuracyRegion
	}
	if result.Location.City != "" {
		acc = geobus.AccuracyCity
	}
	if result.Location.ZipCode != "" {
		acc = geobus.AccuracyZip
	}

	lat, err := strconv.ParseFloat(result.Location.Coordinates.Latitude, 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("%w: failed to parse latitude: %w", geobus.ErrPositionUnknown, err)
	}
	lon, err := strconv.ParseFloat(result.Location.Coordinates.Longitude, 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("%w: failed to parse longitude: %w", geobus.ErrPositionUnknown, err)
	}

	coord := geobus.Coordinate{
		Lat: geobus.Truncate(lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(lon, geobus.TruncPrecision),
		Acc: acc,
	}
	if !coord.Valid() {
		return geobus.Coordinate{}, geobus.ErrPositionUnknown
	}
	return coord, nil
}
