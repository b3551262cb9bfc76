// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wneessen/geofix/internal/logger"
	"github.com/wneessen/geofix/internal/vartype"
)

var (
	testEpoch = time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)

	snapshotOpts = cmp.AllowUnexported(vartype.Variable[Fix]{}, vartype.Variable[AcquisitionError]{})
)

// fakeProvider records the calls it receives. It is safe for use from the loop goroutine and
// the test goroutine at the same time.
type fakeProvider struct {
	mu               sync.Mutex
	auth             AuthorizationState
	authRequests     int
	starts           int
	stops            int
	servicesDisabled bool
	delegate         Delegate
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AuthorizationStatus() AuthorizationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auth
}

func (p *fakeProvider) RequestAuthorization() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authRequests++
}

func (p *fakeProvider) StartUpdates() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
}

func (p *fakeProvider) StopUpdates() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakeProvider) SetDelegate(d Delegate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = d
}

func (p *fakeProvider) LocationServicesEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.servicesDisabled
}

func (p *fakeProvider) setAuth(auth AuthorizationState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.auth = auth
}

func (p *fakeProvider) counts() (authRequests, starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authRequests, p.starts, p.stops
}

type recordingObserver struct {
	sessions []string
	outcomes []FixOutcome
	errors   []AcquisitionError
	states   []SessionState
}

func (o *recordingObserver) SessionStarted(id string) { o.sessions = append(o.sessions, id) }

func (o *recordingObserver) StateChanged(_, to SessionState) { o.states = append(o.states, to) }

func (o *recordingObserver) FixProcessed(_ Fix, outcome FixOutcome) {
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ErrorRecorded(err AcquisitionError) { o.errors = append(o.errors, err) }

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}

func testAcquirer(t *testing.T, auth AuthorizationState) (*Acquirer, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{auth: auth}
	acq, err := New(provider, testLogger(), DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to create acquirer: %s", err)
	}
	ids := 0
	acq.newID = func() string {
		ids++
		return fmt.Sprintf("session-%d", ids)
	}
	return acq, provider
}

func testFix(acc float64, second int) Fix {
	return Fix{
		Latitude:           37.0,
		Longitude:          -122.0,
		HorizontalAccuracy: acc,
		Timestamp:          testEpoch.Add(time.Duration(second) * time.Second),
		Source:             "test",
	}
}
