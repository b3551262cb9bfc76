// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclue implements an acquirer.Provider on top of the GeoClue2 D-Bus service.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/logger"
)

const (
	DBusListNamesAddress = "org.freedesktop.DBus.ListNames"
	DefaultDesktopID     = "geofix"

	serviceName       = "org.freedesktop.GeoClue2"
	managerPath       = "/org/freedesktop/GeoClue2/Manager"
	managerInterface  = serviceName + ".Manager"
	clientInterface   = serviceName + ".Client"
	locationInterface = serviceName + ".Location"
	propertiesGetAll  = "org.freedesktop.DBus.Properties.GetAll"
	accessDeniedError = "org.freedesktop.DBus.Error.AccessDenied"
	locationUpdated   = "LocationUpdated"

	name             = "geoclue"
	signalBufferSize = 8
)

// Accuracy levels as defined by GeoClue2.
const (
	AccuracyLevelNone         uint32 = 0
	AccuracyLevelCountry      uint32 = 1
	AccuracyLevelCity         uint32 = 4
	AccuracyLevelNeighborhood uint32 = 5
	AccuracyLevelStreet       uint32 = 6
	AccuracyLevelExact        uint32 = 8
)

// agentNames are the well-known session bus names of GeoClue2 authorization agents.
var agentNames = []string{
	"org.freedesktop.GeoClue2.DemoAgent",
	"org.gnome.Shell",
}

var ErrNotConnected = errors.New("geoclue client not connected")

// Provider streams locations from GeoClue2. GeoClue2 asks the desktop's agent for permission when
// a client is started, so authorization is probed by starting the client.
type Provider struct {
	logger    *logger.Logger
	desktopID string
	level     uint32

	mu               sync.Mutex
	delegate         acquirer.Delegate
	status           acquirer.AuthorizationState
	wantUpdates      bool
	authRequested    bool
	agentMissing     bool
	servicesDisabled bool
	wake             chan struct{}
	dialFn           func(ctx context.Context) (*dbus.Conn, error)

	// owned by the Run goroutine
	conn   *dbus.Conn
	client dbus.ObjectPath
	active bool
}

// New returns a GeoClue2 provider. The desktop ID must match a desktop file known to the agent.
func New(log *logger.Logger, desktopID string, level uint32) *Provider {
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	return &Provider{
		logger:    log,
		desktopID: desktopID,
		level:     level,
		wake:      make(chan struct{}, 1),
		dialFn: func(ctx context.Context) (*dbus.Conn, error) {
			return dbus.ConnectSystemBus(dbus.WithContext(ctx))
		},
	}
}

// ParseAccuracyLevel converts a configured accuracy level name into its GeoClue2 value.
func ParseAccuracyLevel(level string) (uint32, error) {
	switch strings.ToLower(level) {
	case "country":
		return AccuracyLevelCountry, nil
	case "city":
		return AccuracyLevelCity, nil
	case "neighborhood", "neighbourhood":
		return AccuracyLevelNeighborhood, nil
	case "street":
		return AccuracyLevelStreet, nil
	case "", "exact":
		return AccuracyLevelExact, nil
	default:
		return AccuracyLevelNone, fmt.Errorf("unknown geoclue accuracy level %q", level)
	}
}

func (p *Provider) Name() string {
	return name
}

// AuthorizationStatus reports the agent's decision. A restriction caused by a missing agent is
// reported as undetermined, so the next request looks for an agent again.
func (p *Provider) AuthorizationStatus() acquirer.AuthorizationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.agentMissing {
		return acquirer.AuthorizationUndetermined
	}
	return p.status
}

func (p *Provider) RequestAuthorization() {
	p.mu.Lock()
	if p.agentMissing {
		p.agentMissing = false
		p.status = acquirer.AuthorizationUndetermined
	}
	p.authRequested = true
	p.mu.Unlock()
	p.poke()
}

func (p *Provider) StartUpdates() {
	p.mu.Lock()
	p.wantUpdates = true
	p.mu.Unlock()
	p.poke()
}

func (p *Provider) StopUpdates() {
	p.mu.Lock()
	p.wantUpdates = false
	p.mu.Unlock()
	p.poke()
}

func (p *Provider) SetDelegate(delegate acquirer.Delegate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = delegate
}

func (p *Provider) LocationServicesEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.servicesDisabled
}

// Run connects to GeoClue2 and serves the provider requests until ctx is done or the bus
// connection is lost.
func (p *Provider) Run(ctx context.Context) error {
	if err := p.connect(ctx); err != nil {
		p.setServicesDisabled(true)
		p.setStatus(acquirer.AuthorizationRestricted)
		p.notifyError(acquirer.Fatal(acquirer.CodeProviderUnavailable, err.Error()))
		return err
	}
	defer p.disconnect()

	sigCh := make(chan *dbus.Signal, signalBufferSize)
	p.conn.Signal(sigCh)
	defer p.conn.RemoveSignal(sigCh)

	p.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
			p.reconcile(ctx)
		case sig, ok := <-sigCh:
			if !ok {
				p.setServicesDisabled(true)
				p.notifyError(acquirer.Fatal(acquirer.CodeProviderUnavailable, "geoclue connection lost"))
				return errors.New("system bus connection closed")
			}
			p.handleSignal(ctx, sig)
		}
	}
}

func (p *Provider) connect(ctx context.Context) error {
	conn, err := p.dialFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}

	var client dbus.ObjectPath
	manager := conn.Object(serviceName, managerPath)
	if err = manager.CallWithContext(ctx, managerInterface+".GetClient", 0).Store(&client); err != nil {
		return errors.Join(fmt.Errorf("failed to get geoclue client: %w", err), conn.Close())
	}
	clientObj := conn.Object(serviceName, client)
	if err = clientObj.SetProperty(clientInterface+".DesktopId", dbus.MakeVariant(p.desktopID)); err != nil {
		return errors.Join(fmt.Errorf("failed to set desktop id: %w", err), conn.Close())
	}
	if err = clientObj.SetProperty(clientInterface+".RequestedAccuracyLevel", dbus.MakeVariant(p.level)); err != nil {
		return errors.Join(fmt.Errorf("failed to set requested accuracy level: %w", err), conn.Close())
	}
	if err = conn.AddMatchSignal(dbus.WithMatchObjectPath(client), dbus.WithMatchInterface(clientInterface),
		dbus.WithMatchMember(locationUpdated)); err != nil {
		return errors.Join(fmt.Errorf("failed to subscribe to location updates: %w", err), conn.Close())
	}

	p.conn = conn
	p.client = client
	p.setServicesDisabled(false)
	p.logger.Debug("connected to geoclue", slog.String("client", string(client)))
	return nil
}

func (p *Provider) disconnect() {
	if p.active {
		p.stopClient(context.Background())
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Error("failed to close system bus connection", logger.Err(err))
	}
}

// reconcile brings the GeoClue2 client in line with the requested provider state.
func (p *Provider) reconcile(ctx context.Context) {
	p.mu.Lock()
	probe := p.authRequested && p.status == acquirer.AuthorizationUndetermined
	p.authRequested = false
	want := p.wantUpdates
	p.mu.Unlock()

	if probe {
		p.probeAuthorization(ctx)
	}
	switch {
	case want && !p.active:
		p.startClient(ctx)
	case !want && p.active:
		p.stopClient(ctx)
	}
}

// probeAuthorization starts and stops the client once to learn the agent's decision.
func (p *Provider) probeAuthorization(ctx context.Context) {
	running, err := agentIsRunning(ctx)
	if err != nil {
		p.logger.Warn("failed to look up geoclue agent", logger.Err(err))
	}
	if err == nil && !running {
		p.agentAbsent()
		return
	}

	err = p.conn.Object(serviceName, p.client).CallWithContext(ctx, clientInterface+".Start", 0).Err
	if status, ok := authorizationFromError(err); ok {
		p.setStatus(status)
		return
	}
	if err != nil {
		p.notifyError(acquirer.Transient(acquirer.CodeProviderUnavailable, err.Error()))
		return
	}
	p.active = true
	p.setStatus(acquirer.AuthorizationAuthorized)
}

func (p *Provider) startClient(ctx context.Context) {
	err := p.conn.Object(serviceName, p.client).CallWithContext(ctx, clientInterface+".Start", 0).Err
	if status, ok := authorizationFromError(err); ok {
		p.setStatus(status)
		return
	}
	if err != nil {
		p.notifyError(acquirer.Transient(acquirer.CodeProviderUnavailable, err.Error()))
		return
	}
	p.active = true
	p.setStatus(acquirer.AuthorizationAuthorized)
	p.logger.Debug("geoclue client started")
}

func (p *Provider) stopClient(ctx context.Context) {
	if err := p.conn.Object(serviceName, p.client).CallWithContext(ctx, clientInterface+".Stop", 0).Err; err != nil {
		p.logger.Error("failed to stop geoclue client", logger.Err(err))
	}
	p.active = false
	p.logger.Debug("geoclue client stopped")
}

func (p *Provider) handleSignal(ctx context.Context, sig *dbus.Signal) {
	if sig.Path != p.client || sig.Name != clientInterface+"."+locationUpdated || len(sig.Body) != 2 {
		return
	}
	p.mu.Lock()
	want := p.wantUpdates
	p.mu.Unlock()
	if !want {
		return
	}

	path, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok {
		return
	}
	var props map[string]dbus.Variant
	err := p.conn.Object(serviceName, path).CallWithContext(ctx, propertiesGetAll, 0, locationInterface).Store(&props)
	if err != nil {
		p.notifyError(acquirer.Transient(acquirer.CodeLocationUnknown, err.Error()))
		return
	}
	fix, err := fixFromProperties(props, time.Now())
	if err != nil {
		p.notifyError(acquirer.Transient(acquirer.CodeLocationUnknown, err.Error()))
		return
	}

	p.mu.Lock()
	delegate := p.delegate
	p.mu.Unlock()
	if delegate != nil {
		delegate.OnFixReceived(fix)
	}
}

func (p *Provider) setStatus(status acquirer.AuthorizationState) {
	p.mu.Lock()
	changed := p.status != status
	p.status = status
	delegate := p.delegate
	p.mu.Unlock()
	if changed && delegate != nil {
		p.logger.Info("geoclue authorization changed", slog.String("status", status.String()))
		delegate.OnAuthorizationChanged(status)
	}
}

// agentAbsent restricts access until the next authorization request. Without an agent GeoClue2
// refuses every client.
func (p *Provider) agentAbsent() {
	p.logger.Warn("no geoclue agent running, location access is restricted")
	p.mu.Lock()
	changed := p.status != acquirer.AuthorizationRestricted
	p.status = acquirer.AuthorizationRestricted
	p.agentMissing = true
	delegate := p.delegate
	p.mu.Unlock()
	if changed && delegate != nil {
		delegate.OnAuthorizationChanged(acquirer.AuthorizationRestricted)
	}
}

func (p *Provider) setServicesDisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servicesDisabled = disabled
}

func (p *Provider) notifyError(err acquirer.AcquisitionError) {
	p.mu.Lock()
	delegate := p.delegate
	p.mu.Unlock()
	if delegate != nil {
		delegate.OnAcquisitionError(err)
	}
}

// poke wakes the Run goroutine without blocking.
func (p *Provider) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// agentIsRunning reports whether a known GeoClue2 agent is present on the session bus.
func agentIsRunning(ctx context.Context) (isRunning bool, err error) {
	var list []string
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session bus: %w", closeErr))
		}
	}()

	if err = conn.BusObject().CallWithContext(ctx, DBusListNamesAddress, 0).Store(&list); err != nil {
		return false, fmt.Errorf("failed to call DBus ListNames: %w", err)
	}
	return hasAgent(list), nil
}

func hasAgent(names []string) bool {
	for _, v := range names {
		for _, agent := range agentNames {
			if strings.EqualFold(v, agent) {
				return true
			}
		}
	}
	return false
}

// authorizationFromError reports the authorization state implied by a failed client start.
func authorizationFromError(err error) (acquirer.AuthorizationState, bool) {
	if err == nil {
		return acquirer.AuthorizationUndetermined, false
	}
	var errName string
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
		errName = dbusErr.Name
	case errors.As(err, &dbusErrPtr):
		errName = dbusErrPtr.Name
	}
	if errName == accessDeniedError {
		return acquirer.AuthorizationDenied, true
	}
	return acquirer.AuthorizationUndetermined, false
}

// fixFromProperties converts the properties of a GeoClue2 Location object into a fix. The
// location timestamp is used when present, otherwise now.
func fixFromProperties(props map[string]dbus.Variant, now time.Time) (acquirer.Fix, error) {
	lat, err := floatProperty(props, "Latitude")
	if err != nil {
		return acquirer.Fix{}, err
	}
	lon, err := floatProperty(props, "Longitude")
	if err != nil {
		return acquirer.Fix{}, err
	}
	acc, err := floatProperty(props, "Accuracy")
	if err != nil {
		return acquirer.Fix{}, err
	}

	fix := acquirer.Fix{
		Latitude:           lat,
		Longitude:          lon,
		HorizontalAccuracy: acc,
		Timestamp:          now,
		Source:             name,
	}
	if ts, ok := props["Timestamp"]; ok {
		if parts, ok := ts.Value().([]interface{}); ok && len(parts) == 2 {
			sec, okSec := parts[0].(uint64)
			usec, okUsec := parts[1].(uint64)
			if okSec && okUsec && sec > 0 {
				fix.Timestamp = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
			}
		}
	}
	return fix, nil
}

func floatProperty(props map[string]dbus.Variant, key string) (float64, error) {
	v, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("geoclue location is missing %s", key)
	}
	f, ok := v.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("geoclue location %s has unexpected type %s", key, v.Signature())
	}
	return f, nil
}
