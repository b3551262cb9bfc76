// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the geofix service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/geofix/internal/config"
	"github.com/wneessen/geofix/internal/i18n"
	"github.com/wneessen/geofix/internal/logger"
	"github.com/wneessen/geofix/internal/platform"
	"github.com/wneessen/geofix/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	// Read config
	confRead := false
	confPath := flag.String("config", "", "path to the config file")
	grant := flag.Bool("grant", false, "grant location access and exit")
	deny := flag.Bool("deny", false, "deny location access and exit")
	flag.Parse()

	// Read default config
	conf, err := config.New()
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	// If config file was specified, read it
	if *confPath != "" {
		file := filepath.Base(*confPath)
		path := filepath.Dir(*confPath)
		conf, err = config.NewFromFile(path, file)
		if err != nil {
			log.Error("failed to load config from file", logger.Err(err))
			os.Exit(1)
		}
		confRead = true
	}

	// Check if we have a config file in the default location
	if path, file := findConfigFile(); !confRead && (path != "" && file != "") {
		conf, err = config.NewFromFile(path, file)
		if err != nil {
			log.Error("failed to load config from file", logger.Err(err))
			os.Exit(1)
		}
	}

	log = logger.New(conf.LogLevel)
	if *grant || *deny {
		os.Exit(storeConsent(log, conf, *grant))
	}

	t, err := i18n.New(conf.Locale)
	if err != nil {
		log.Error("failed to initialize localizer", logger.Err(err))
		os.Exit(1)
	}

	// Initialize the service
	serv, err := service.New(conf, log, t)
	if err != nil {
		log.Error("failed to initialize geofix service", logger.Err(err))
		os.Exit(1)
	}

	// Start the service loop
	log.Info("starting geofix service", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = serv.Run(ctx); err != nil {
		log.Error("failed to run geofix service", logger.Err(err))
	}
	log.Info("shutting down geofix service")
}

// storeConsent writes the answer to the location access request into the consent file that a
// running service polls.
func storeConsent(log *logger.Logger, conf *config.Config, granted bool) int {
	auth := platform.NewFileAuthorizer(log, conf.Authorization.File, platform.DefaultPollInterval)
	store, answer := auth.Deny, "denied"
	if granted {
		store, answer = auth.Grant, "granted"
	}
	if err := store(); err != nil {
		log.Error("failed to store location access consent", logger.Err(err))
		return 1
	}
	log.Info("location access "+answer, slog.String("file", conf.Authorization.File))
	return 0
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", "geofix", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
