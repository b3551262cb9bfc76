// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/geofix/internal/geobus"
	geohttp "github.com/wneessen/geofix/internal/http"
)

const (
	APIEndpoint   = "https://api.beacondb.net/v1/geolocate"
	LookupTimeout = time.Second * 5

	name = "ichnaea"
)

// GeolocationICHNAEAProvider locates the host via an Ichnaea compatible API using the nearby WiFi
// access points. Without WiFi support the lookup falls back to the public IP address.
type GeolocationICHNAEAProvider struct {
	name     string
	http     *geohttp.Client
	period   time.Duration
	scanFn   func() ([]WirelessNetwork, error)
	locateFn geobus.Locator
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type request struct {
	ConsiderIP   bool              `json:"considerIp"`
	Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

func NewGeolocationICHNAEAProvider(client *geohttp.Client) (*GeolocationICHNAEAProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}

	provider := &GeolocationICHNAEAProvider{
		name:   name,
		http:   client,
		period: time.Minute * 5,
		scanFn: func() ([]WirelessNetwork, error) { return nil, nil },
	}
	if wlan, err := wifi.New(); err == nil {
		provider.scanFn = func() ([]WirelessNetwork, error) { return wifiAccessPoints(wlan) }
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return p.name
}

// LookupStream looks up the location right away and then every period.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context) <-chan geobus.Result {
	return geobus.PollStream(ctx, p.name, p.period, p.locateFn)
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	// A failed scan still allows an IP based lookup
	networks, _ := p.scanFn()

	req := request{
		ConsiderIP:   true,
		Accesspoints: networks,
	}
	result := new(APIResult)
	code, err := p.http.PostJSON(ctx, APIEndpoint, result, req, LookupTimeout)
	if code == http.StatusNotFound {
		return geobus.Coordinate{}, geobus.ErrPositionUnknown
	}
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if code != http.StatusOK {
		return geobus.Coordinate{}, fmt.Errorf("%w: ichnaea API returned status %d", geobus.ErrSourceUnavailable, code)
	}

	coord := geobus.Coordinate{
		Lat: geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
		Acc: geobus.Truncate(result.Accuracy, geobus.TruncPrecision),
	}
	if !coord.Valid() || coord.Acc <= 0 {
		return geobus.Coordinate{}, geobus.ErrPositionUnknown
	}
	return coord, nil
}

// wifiAccessPoints lists the access points seen by all station interfaces. Hidden networks and
// networks that opted out of location services via the _nomap suffix are skipped.
func wifiAccessPoints(wlan *wifi.Client) ([]WirelessNetwork, error) {
	var list []WirelessNetwork

	ifaces, err := wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if !usableSSID(ap.SSID) {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func usableSSID(ssid string) bool {
	return ssid != "" && ssid[0] != '\x00' && !strings.HasSuffix(ssid, "_nomap")
}
