// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/job"
	"github.com/wneessen/geofix/internal/logger"
)

const (
	DefaultPollInterval = time.Second * 2

	consentGranted    = "granted"
	consentDenied     = "denied"
	consentRestricted = "restricted"
)

// Authorizer decides whether location access is permitted.
type Authorizer interface {
	// Status returns the current authorization state.
	Status() acquirer.AuthorizationState

	// Request asks the user for permission. It must not block; the decision is reported through
	// Watch.
	Request()

	// Watch calls notify on every change of the authorization state until ctx is done.
	Watch(ctx context.Context, notify func(acquirer.AuthorizationState))
}

// StaticAuthorizer always reports the same state.
type StaticAuthorizer struct {
	state acquirer.AuthorizationState
}

func NewStaticAuthorizer(state acquirer.AuthorizationState) *StaticAuthorizer {
	return &StaticAuthorizer{state: state}
}

func (a *StaticAuthorizer) Status() acquirer.AuthorizationState { return a.state }

func (a *StaticAuthorizer) Request() {}

func (a *StaticAuthorizer) Watch(ctx context.Context, _ func(acquirer.AuthorizationState)) {
	<-ctx.Done()
}

// ParseAuthorization converts a configured authorization mode into a state.
func ParseAuthorization(value string) (acquirer.AuthorizationState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case consentGranted, "authorized":
		return acquirer.AuthorizationAuthorized, nil
	case consentDenied:
		return acquirer.AuthorizationDenied, nil
	case consentRestricted:
		return acquirer.AuthorizationRestricted, nil
	case "", "undetermined":
		return acquirer.AuthorizationUndetermined, nil
	default:
		return acquirer.AuthorizationUndetermined, fmt.Errorf("unknown authorization %q", value)
	}
}

// FileAuthorizer keeps the user's consent in a file. As long as the file does not exist, the
// authorization is undetermined.
type FileAuthorizer struct {
	path     string
	interval time.Duration
	logger   *logger.Logger

	mu        sync.Mutex
	last      acquirer.AuthorizationState
	requested bool
}

// DefaultConsentFile returns the consent file path in the user's config directory.
func DefaultConsentFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user config directory: %w", err)
	}
	return filepath.Join(dir, "geofix", "authorization"), nil
}

func NewFileAuthorizer(log *logger.Logger, path string, interval time.Duration) *FileAuthorizer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FileAuthorizer{
		path:     path,
		interval: interval,
		logger:   log,
	}
}

// Status reads the consent file. Unreadable or unknown content counts as undetermined.
func (a *FileAuthorizer) Status() acquirer.AuthorizationState {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("failed to read authorization file", slog.String("path", a.path), logger.Err(err))
		}
		return acquirer.AuthorizationUndetermined
	}
	state, err := ParseAuthorization(string(data))
	if err != nil {
		a.logger.Warn("invalid authorization file content", slog.String("path", a.path), logger.Err(err))
		return acquirer.AuthorizationUndetermined
	}
	return state
}

func (a *FileAuthorizer) Request() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.requested {
		return
	}
	a.requested = true
	a.logger.Info("location access requested, run 'geofix -grant' to allow or 'geofix -deny' to refuse it",
		slog.String("path", a.path))
}

// Watch polls the consent file and reports every change.
func (a *FileAuthorizer) Watch(ctx context.Context, notify func(acquirer.AuthorizationState)) {
	a.mu.Lock()
	a.last = a.Status()
	a.mu.Unlock()

	check := func(context.Context) {
		state := a.Status()
		a.mu.Lock()
		changed := state != a.last
		a.last = state
		if changed {
			a.requested = false
		}
		a.mu.Unlock()
		if changed {
			notify(state)
		}
	}
	job.New(a.interval, check).Start(ctx)
}

// Grant persists the user's consent.
func (a *FileAuthorizer) Grant() error {
	return a.write(consentGranted)
}

// Deny persists the user's refusal.
func (a *FileAuthorizer) Deny() error {
	return a.write(consentDenied)
}

func (a *FileAuthorizer) write(consent string) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("failed to create authorization directory: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(consent+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write authorization file: %w", err)
	}
	return nil
}
