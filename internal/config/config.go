// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/geofix/internal/platform"
)

const (
	configEnv         = "GEOFIX"
	DefaultTextTpl    = "{{.Icon}} {{loc .Status}}"
	DefaultTooltipTpl = "{{loc \"status\"}}: {{loc .Status}}" +
		"{{if .Located}}\n{{loc \"position\"}}: {{floatFormat .Latitude 4}}, {{floatFormat .Longitude 4}}" +
		"\n{{loc \"accuracy\"}}: ±{{floatFormat .Accuracy 0}} m\n{{loc \"source\"}}: {{.Source}}" +
		"\n{{loc \"updated\"}}: {{humanTime .Timestamp}}{{end}}" +
		"{{if .Error}}\n{{loc \"error\"}}: {{.Error}}{{end}}"

	ProviderStream  = "stream"
	ProviderGeoClue = "geoclue"

	AuthorizationFile = "file"

	GPSDModeWatch = "watch"
	GPSDModePoll  = "poll"
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`
	// Allowed values: stream, geoclue
	Provider string `fig:"provider" default:"stream"`

	Acquisition struct {
		ToleranceMeters  float64       `fig:"tolerance_meters" default:"10"`
		MaxFixAge        time.Duration `fig:"max_fix_age"`
		DesiredAccuracy  float64       `fig:"desired_accuracy"`
		Timeout          time.Duration `fig:"timeout"`
		DisableAutostart bool          `fig:"disable_autostart"`
	} `fig:"acquisition"`

	Authorization struct {
		// Allowed values: granted, denied, restricted, file
		Mode string `fig:"mode" default:"granted"`
		File string `fig:"file"`
	} `fig:"authorization"`

	GeoClue struct {
		DesktopID string `fig:"desktop_id" default:"geofix"`
		// Allowed values: country, city, neighborhood, street, exact
		AccuracyLevel string `fig:"accuracy_level" default:"exact"`
	} `fig:"geoclue"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	GeoLocation struct {
		File                   string `fig:"file"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
		DisableGeoAPI          bool   `fig:"disable_geoapi"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
		GPSDHost               string `fig:"gpsd_host" default:"localhost"`
		GPSDPort               string `fig:"gpsd_port" default:"2947"`
		// Allowed values: watch, poll
		GPSDMode string `fig:"gpsd_mode" default:"watch"`
		NMEAPort string `fig:"nmea_port"`
		NMEABaud int    `fig:"nmea_baud" default:"4800"`
	} `fig:"geolocation"`

	Metrics struct {
		Listen string `fig:"listen"`
	} `fig:"metrics"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate normalizes the case of all mode settings, checks them and fills in derived defaults.
func (c *Config) Validate() error {
	for _, mode := range []*string{&c.Provider, &c.Authorization.Mode, &c.GeoLocation.GPSDMode,
		&c.GeoClue.AccuracyLevel} {
		*mode = strings.ToLower(strings.TrimSpace(*mode))
	}

	if c.Provider != ProviderStream && c.Provider != ProviderGeoClue {
		return fmt.Errorf("invalid provider: %s", c.Provider)
	}
	if c.Authorization.Mode != AuthorizationFile {
		if _, err := platform.ParseAuthorization(c.Authorization.Mode); err != nil {
			return fmt.Errorf("invalid authorization mode: %w", err)
		}
	}
	if c.GeoLocation.GPSDMode != GPSDModeWatch && c.GeoLocation.GPSDMode != GPSDModePoll {
		return fmt.Errorf("invalid gpsd mode: %s", c.GeoLocation.GPSDMode)
	}
	if c.Acquisition.ToleranceMeters < 0 {
		return fmt.Errorf("invalid tolerance: %f", c.Acquisition.ToleranceMeters)
	}
	if c.Acquisition.DesiredAccuracy < 0 {
		return fmt.Errorf("invalid desired accuracy: %f", c.Acquisition.DesiredAccuracy)
	}
	if c.Acquisition.MaxFixAge < 0 || c.Acquisition.Timeout < 0 {
		return fmt.Errorf("acquisition durations must not be negative")
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.GeoLocation.NMEABaud <= 0 {
		return fmt.Errorf("invalid NMEA baud rate: %d", c.GeoLocation.NMEABaud)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.GeoLocation.File == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.File = filepath.Join(home, ".config", "geofix", "geolocation")
	}
	if c.Authorization.File == "" {
		home, _ := os.UserHomeDir()
		c.Authorization.File = filepath.Join(home, ".config", "geofix", "authorization")
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
