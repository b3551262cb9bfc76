// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoip

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wneessen/geofix/internal/geobus"
	geohttp "github.com/wneessen/geofix/internal/http"
)

const (
	APIEndpoint   = "https://reallyfreegeoip.org/json/"
	LookupTimeout = time.Second * 5

	name = "geoip"
)

// GeolocationGeoIPProvider locates the host by its public IP address. The accuracy depends on the
// granularity of the returned location.
type GeolocationGeoIPProvider struct {
	name     string
	http     *geohttp.Client
	period   time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MetroCode   int     `json:"metro_code"`
}

func NewGeolocationGeoIPProvider(client *geohttp.Client) (*GeolocationGeoIPProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	provider := &GeolocationGeoIPProvider{
		name:   name,
		http:   client,
		period: time.Minute * 30,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationGeoIPProvider) Name() string {
	return p.name
}

// LookupStream looks up the IP based location right away and then every period.
func (p *GeolocationGeoIPProvider) LookupStream(ctx context.Context) <-chan geobus.Result {
	return geobus.PollStream(ctx, p.name, p.period, p.locateFn)
}

func (p *GeolocationGeoIPProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	result := new(APIResult)
	code, err := p.http.GetWithTimeout(ctx, APIEndpoint, result, nil, nil, LookupTimeout)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if code != http.StatusOK {
		return geobus.Coordinate{}, fmt.Errorf("%w: geoip API returned status %d", geobus.ErrSourceUnavailable, code)
	}
	return coordinateFromResult(result)
}

// coordinateFromResult derives the coordinate and its accuracy from the most specific location
// detail in the API result.
func coordinateFromResult(result *APIResult) (geobus.Coordinate, error) {
	acc := float64(geobus.AccuracyUnknown)
	if result.CountryCode != "" {
		acc = geobus.AccuracyCountry
	}
	if result.RegionCode != "" {
		acc = geobus.AccuracyRegion
	}
	if result.City != "" {
		acc = geobus.AccuracyCity
	}
	if result.ZipCode != "" {
		acc = geobus.AccuracyZip
	}

	coord := geobus.Coordinate{
		Lat: geobus.Truncate(result.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Longitude, geobus.TruncPrecision),
		Acc: acc,
	}
	if !coord.Valid() || (coord.Lat == 0 && coord.Lon == 0) {
		return geobus.Coordinate{}, geobus.ErrPositionUnknown
	}
	return coord, nil
}
