// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/config"
	"github.com/wneessen/geofix/internal/geobus"
	"github.com/wneessen/geofix/internal/geobus/provider/geoapi"
	"github.com/wneessen/geofix/internal/geobus/provider/geoip"
	"github.com/wneessen/geofix/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/geofix/internal/geobus/provider/gpsd"
	"github.com/wneessen/geofix/internal/geobus/provider/ichnaea"
	"github.com/wneessen/geofix/internal/geobus/provider/nmea"
	"github.com/wneessen/geofix/internal/geoclue"
	"github.com/wneessen/geofix/internal/http"
	"github.com/wneessen/geofix/internal/logger"
	"github.com/wneessen/geofix/internal/platform"
)

// selectLocationProvider returns the configured acquirer.Provider together with the function
// that keeps it running.
func (s *Service) selectLocationProvider() (acquirer.Provider, func(context.Context) error, error) {
	switch s.config.Provider {
	case config.ProviderGeoClue:
		level, err := geoclue.ParseAccuracyLevel(s.config.GeoClue.AccuracyLevel)
		if err != nil {
			return nil, nil, err
		}
		provider := geoclue.New(s.logger, s.config.GeoClue.DesktopID, level)
		return provider, provider.Run, nil
	case config.ProviderStream:
		sources, err := s.selectGeobusProviders()
		if err != nil {
			return nil, nil, err
		}
		auth, err := s.selectAuthorizer()
		if err != nil {
			return nil, nil, err
		}
		provider := platform.NewStreamProvider(s.logger, geobus.NewOrchestrator(s.logger, sources...), auth)
		run := func(ctx context.Context) error {
			provider.Run(ctx)
			return nil
		}
		return provider, run, nil
	default:
		return nil, nil, fmt.Errorf("unsupported location provider: %s", s.config.Provider)
	}
}

func (s *Service) selectAuthorizer() (platform.Authorizer, error) {
	if s.config.Authorization.Mode == config.AuthorizationFile {
		return platform.NewFileAuthorizer(s.logger, s.config.Authorization.File, platform.DefaultPollInterval), nil
	}
	state, err := platform.ParseAuthorization(s.config.Authorization.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorizer: %w", err)
	}
	return platform.NewStaticAuthorizer(state), nil
}

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.GeoLocation.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(s.config.GeoLocation.File))
	}

	if !s.config.GeoLocation.DisableGPSD {
		watch := s.config.GeoLocation.GPSDMode == config.GPSDModeWatch
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.config.GeoLocation.GPSDHost,
			s.config.GeoLocation.GPSDPort, watch))
	}

	if s.config.GeoLocation.NMEAPort != "" {
		provider = append(provider, nmea.NewGeolocationNMEAProvider(s.config.GeoLocation.NMEAPort,
			s.config.GeoLocation.NMEABaud))
	}

	if !s.config.GeoLocation.DisableGeoIP {
		gip, err := geoip.NewGeolocationGeoIPProvider(httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoIP provider: %w", err)
		}
		provider = append(provider, gip)
	}

	if !s.config.GeoLocation.DisableGeoAPI {
		gap, err := geoapi.NewGeolocationGeoAPIProvider(httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoAPI provider: %w", err)
		}
		provider = append(provider, gap)
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("no location sources enabled")
	}

	return provider, nil
}
