// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
)

func TestNew(t *testing.T) {
	t.Run("new acquirer is idle", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		snap := acq.Snapshot()
		if snap.State != StateIdle {
			t.Errorf("expected state to be %s, got %s", StateIdle, snap.State)
		}
		if snap.BestFix.IsSet() || snap.LastError.IsSet() || snap.Searching || snap.SessionID != "" {
			t.Errorf("expected empty snapshot, got %+v", snap)
		}
		if acq.Provider() != provider {
			t.Error("expected provider to be returned")
		}
	})
	t.Run("new acquirer without provider fails", func(t *testing.T) {
		_, err := New(nil, testLogger(), DefaultPolicy())
		if !errors.Is(err, ErrNoProvider) {
			t.Errorf("expected error to be %s, got %s", ErrNoProvider, err)
		}
	})
	t.Run("new acquirer without logger fails", func(t *testing.T) {
		_, err := New(&fakeProvider{}, nil, DefaultPolicy())
		if !errors.Is(err, ErrNoLogger) {
			t.Errorf("expected error to be %s, got %s", ErrNoLogger, err)
		}
	})
}

func TestAcquirer_RequestFix(t *testing.T) {
	t.Run("authorized provider starts streaming", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		snap := acq.RequestFix()
		if snap.State != StateActive {
			t.Errorf("expected state to be %s, got %s", StateActive, snap.State)
		}
		if !snap.Searching {
			t.Error("expected snapshot to be searching")
		}
		if snap.SessionID != "session-1" {
			t.Errorf("expected session ID to be %s, got %s", "session-1", snap.SessionID)
		}
		if _, starts, _ := provider.counts(); starts != 1 {
			t.Errorf("expected 1 start, got %d", starts)
		}
		if msg := acq.StatusMessage(true); msg != StatusSearching {
			t.Errorf("expected status message to be %q, got %q", StatusSearching, msg)
		}
	})
	t.Run("requesting a fix twice is a no-op", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		first := acq.RequestFix()
		rev := acq.Revision()
		second := acq.RequestFix()
		if diff := cmp.Diff(first, second, snapshotOpts); diff != "" {
			t.Errorf("snapshot mismatch (-first +second):\n%s", diff)
		}
		if acq.Revision() != rev {
			t.Errorf("expected revision to stay at %d, got %d", rev, acq.Revision())
		}
		if _, starts, _ := provider.counts(); starts != 1 {
			t.Errorf("expected exactly 1 start, got %d", starts)
		}
	})
	t.Run("undetermined authorization is requested once", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationUndetermined)
		snap := acq.RequestFix()
		if snap.State != StateAwaitingAuthorization {
			t.Errorf("expected state to be %s, got %s", StateAwaitingAuthorization, snap.State)
		}
		if snap.Searching {
			t.Error("expected snapshot not to be searching")
		}
		acq.RequestFix()
		authRequests, starts, _ := provider.counts()
		if authRequests != 1 {
			t.Errorf("expected 1 authorization request, got %d", authRequests)
		}
		if starts != 0 {
			t.Errorf("expected no start before authorization, got %d", starts)
		}
		if msg := acq.StatusMessage(true); msg != StatusIdle {
			t.Errorf("expected status message to be %q, got %q", StatusIdle, msg)
		}
	})
	t.Run("refused authorization fails without contacting the provider", func(t *testing.T) {
		for _, auth := range []AuthorizationState{AuthorizationDenied, AuthorizationRestricted} {
			t.Run(auth.String(), func(t *testing.T) {
				acq, provider := testAcquirer(t, auth)
				snap := acq.RequestFix()
				if snap.State != StateStopped {
					t.Errorf("expected state to be %s, got %s", StateStopped, snap.State)
				}
				lastErr, ok := snap.LastError.Get()
				if !ok {
					t.Fatal("expected last error to be set")
				}
				if !lastErr.IsFatal() || lastErr.Code != CodeAuthorizationDenied {
					t.Errorf("expected fatal authorization error, got %s", lastErr)
				}
				if lastErr.Reason != ReasonAuthorizationDenied {
					t.Errorf("expected reason to be %q, got %q", ReasonAuthorizationDenied, lastErr.Reason)
				}
				authRequests, starts, stops := provider.counts()
				if authRequests+starts+stops != 0 {
					t.Errorf("expected provider not to be contacted, got %d/%d/%d", authRequests, starts, stops)
				}
				if msg := acq.StatusMessage(true); msg != StatusServicesDisabled {
					t.Errorf("expected status message to be %q, got %q", StatusServicesDisabled, msg)
				}
			})
		}
	})
	t.Run("authorized while awaiting authorization continues the session", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationUndetermined)
		acq.RequestFix()
		provider.setAuth(AuthorizationAuthorized)
		snap := acq.RequestFix()
		if snap.State != StateActive {
			t.Errorf("expected state to be %s, got %s", StateActive, snap.State)
		}
		if snap.SessionID != "session-1" {
			t.Errorf("expected session to be kept, got %s", snap.SessionID)
		}
	})
	t.Run("new session clears previous fix and error", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(20, 1))
		acq.OnAcquisitionError(Fatal(CodeProviderUnavailable, "gone"))
		snap := acq.RequestFix()
		if snap.BestFix.IsSet() {
			t.Error("expected best fix to be cleared")
		}
		if snap.LastError.IsSet() {
			t.Error("expected last error to be cleared")
		}
		if snap.SessionID != "session-2" {
			t.Errorf("expected session ID to be %s, got %s", "session-2", snap.SessionID)
		}
	})
}

func TestAcquirer_OnAuthorizationChanged(t *testing.T) {
	t.Run("granted authorization starts the stream", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationUndetermined)
		acq.RequestFix()
		provider.setAuth(AuthorizationAuthorized)
		acq.OnAuthorizationChanged(AuthorizationAuthorized)
		if acq.Snapshot().State != StateActive {
			t.Errorf("expected state to be %s, got %s", StateActive, acq.Snapshot().State)
		}
		if _, starts, _ := provider.counts(); starts != 1 {
			t.Errorf("expected 1 start, got %d", starts)
		}
	})
	t.Run("denied authorization stops the session", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationUndetermined)
		acq.RequestFix()
		acq.OnAuthorizationChanged(AuthorizationDenied)
		snap := acq.Snapshot()
		if snap.State != StateStopped {
			t.Errorf("expected state to be %s, got %s", StateStopped, snap.State)
		}
		if lastErr := snap.LastError.Value(); lastErr.Code != CodeAuthorizationDenied || !lastErr.IsFatal() {
			t.Errorf("expected fatal denial, got %s", lastErr)
		}
		if _, starts, stops := provider.counts(); starts+stops != 0 {
			t.Errorf("expected no stream calls, got %d starts and %d stops", starts, stops)
		}
	})
	t.Run("undetermined while awaiting keeps waiting", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationUndetermined)
		acq.RequestFix()
		acq.OnAuthorizationChanged(AuthorizationUndetermined)
		if acq.Snapshot().State != StateAwaitingAuthorization {
			t.Errorf("expected state to be %s, got %s", StateAwaitingAuthorization, acq.Snapshot().State)
		}
	})
	t.Run("stale authorization after stop is ignored", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationUndetermined)
		acq.RequestFix()
		acq.StopAcquiring()
		acq.OnAuthorizationChanged(AuthorizationAuthorized)
		if acq.Snapshot().State != StateStopped {
			t.Errorf("expected state to be %s, got %s", StateStopped, acq.Snapshot().State)
		}
		if _, starts, _ := provider.counts(); starts != 0 {
			t.Errorf("expected no start, got %d", starts)
		}
	})
	t.Run("revoked authorization ends an active session", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(30, 1))
		acq.OnAuthorizationChanged(AuthorizationRestricted)
		snap := acq.Snapshot()
		if snap.State != StateStopped {
			t.Errorf("expected state to be %s, got %s", StateStopped, snap.State)
		}
		lastErr := snap.LastError.Value()
		if lastErr.Code != CodeAuthorizationRevoked || lastErr.Reason != ReasonAuthorizationRevoked {
			t.Errorf("expected revocation error, got %s", lastErr)
		}
		if !snap.BestFix.IsSet() {
			t.Error("expected best fix to survive revocation")
		}
		if _, _, stops := provider.counts(); stops != 1 {
			t.Errorf("expected 1 stop, got %d", stops)
		}
		if msg := acq.StatusMessage(true); msg != StatusServicesDisabled {
			t.Errorf("expected status message to be %q, got %q", StatusServicesDisabled, msg)
		}
	})
	t.Run("authorized during active session changes nothing", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		rev := acq.Revision()
		acq.OnAuthorizationChanged(AuthorizationAuthorized)
		if acq.Revision() != rev {
			t.Error("expected revision to be unchanged")
		}
		if _, starts, _ := provider.counts(); starts != 1 {
			t.Errorf("expected 1 start, got %d", starts)
		}
	})
}

func TestAcquirer_OnFixReceived(t *testing.T) {
	t.Run("accuracy scenario keeps the better fix", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		steps := []struct {
			fix  Fix
			best float64
		}{
			{testFix(50, 1), 50},
			{testFix(65, 2), 50},
			{testFix(10, 3), 10},
		}
		for _, step := range steps {
			acq.OnFixReceived(step.fix)
			best := acq.Snapshot().BestFix.Value()
			if best.HorizontalAccuracy != step.best {
				t.Errorf("after fix with accuracy %.1f: expected best accuracy %.1f, got %.1f",
					step.fix.HorizontalAccuracy, step.best, best.HorizontalAccuracy)
			}
		}
	})
	t.Run("newer fix within tolerance replaces best", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(50, 1))
		acq.OnFixReceived(testFix(60, 2))
		if best := acq.Snapshot().BestFix.Value(); best.HorizontalAccuracy != 60 {
			t.Errorf("expected best accuracy to be 60, got %.1f", best.HorizontalAccuracy)
		}
	})
	t.Run("older fix within tolerance is rejected", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(50, 5))
		acq.OnFixReceived(testFix(55, 2))
		acq.OnFixReceived(testFix(50, 5))
		if best := acq.Snapshot().BestFix.Value(); best.HorizontalAccuracy != 50 || !best.Timestamp.Equal(testFix(0, 5).Timestamp) {
			t.Errorf("expected original best fix to be kept, got %+v", best)
		}
	})
	t.Run("more accurate fix is accepted regardless of age", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(50, 5))
		acq.OnFixReceived(testFix(45, 1))
		if best := acq.Snapshot().BestFix.Value(); best.HorizontalAccuracy != 45 {
			t.Errorf("expected best accuracy to be 45, got %.1f", best.HorizontalAccuracy)
		}
	})
	t.Run("invalid fixes are dropped", func(t *testing.T) {
		tests := []struct {
			name string
			fix  Fix
		}{
			{"negative accuracy", Fix{Latitude: 1, Longitude: 1, HorizontalAccuracy: -1}},
			{"NaN latitude", Fix{Latitude: math.NaN(), Longitude: 1, HorizontalAccuracy: 5}},
			{"NaN accuracy", Fix{Latitude: 1, Longitude: 1, HorizontalAccuracy: math.NaN()}},
			{"latitude out of range", Fix{Latitude: 91, Longitude: 1, HorizontalAccuracy: 5}},
			{"longitude out of range", Fix{Latitude: 1, Longitude: -181, HorizontalAccuracy: 5}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				acq, _ := testAcquirer(t, AuthorizationAuthorized)
				acq.RequestFix()
				acq.OnFixReceived(tc.fix)
				snap := acq.Snapshot()
				if snap.BestFix.IsSet() {
					t.Error("expected invalid fix to be dropped")
				}
				if snap.State != StateActive {
					t.Errorf("expected state to be %s, got %s", StateActive, snap.State)
				}
			})
		}
	})
	t.Run("stale fixes are dropped", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.policy.MaxAge = 30 * time.Second
		acq.clock = clockwork.NewFakeClockAt(testEpoch.Add(time.Minute))
		acq.RequestFix()
		acq.OnFixReceived(testFix(5, 0))
		if acq.Snapshot().BestFix.IsSet() {
			t.Fatal("expected stale fix to be dropped")
		}
		acq.OnFixReceived(testFix(5, 45))
		if !acq.Snapshot().BestFix.IsSet() {
			t.Error("expected recent fix to be accepted")
		}
	})
	t.Run("accepted fix clears a transient error", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnAcquisitionError(Transient(CodeLocationUnknown, "no signal"))
		if msg := acq.StatusMessage(true); msg != StatusError {
			t.Errorf("expected status message to be %q, got %q", StatusError, msg)
		}
		acq.OnFixReceived(testFix(25, 1))
		if acq.Snapshot().LastError.IsSet() {
			t.Error("expected last error to be cleared")
		}
		if msg := acq.StatusMessage(true); msg != StatusSearching {
			t.Errorf("expected status message to be %q, got %q", StatusSearching, msg)
		}
	})
	t.Run("rejected fix does not clear the error", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(10, 1))
		acq.OnAcquisitionError(Transient(CodeNetwork, "offline"))
		rev := acq.Revision()
		acq.OnFixReceived(testFix(80, 2))
		if !acq.Snapshot().LastError.IsSet() {
			t.Error("expected last error to be kept")
		}
		if acq.Revision() != rev {
			t.Error("expected rejected fix not to change the revision")
		}
	})
	t.Run("fixes outside an active session are ignored", func(t *testing.T) {
		for _, setup := range []struct {
			name string
			auth AuthorizationState
			prep func(*Acquirer)
		}{
			{"idle", AuthorizationAuthorized, func(*Acquirer) {}},
			{"awaiting authorization", AuthorizationUndetermined, func(a *Acquirer) { a.RequestFix() }},
			{"stopped", AuthorizationAuthorized, func(a *Acquirer) { a.RequestFix(); a.StopAcquiring() }},
		} {
			t.Run(setup.name, func(t *testing.T) {
				acq, _ := testAcquirer(t, setup.auth)
				setup.prep(acq)
				before := acq.Snapshot()
				acq.OnFixReceived(testFix(5, 1))
				if diff := cmp.Diff(before, acq.Snapshot(), snapshotOpts); diff != "" {
					t.Errorf("snapshot changed (-before +after):\n%s", diff)
				}
			})
		}
	})
	t.Run("observer is told about every decision", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		observer := &recordingObserver{}
		acq.SetObserver(observer)
		acq.RequestFix()
		acq.OnFixReceived(testFix(50, 1))
		acq.OnFixReceived(testFix(65, 2))
		acq.OnFixReceived(Fix{HorizontalAccuracy: -1})
		acq.StopAcquiring()
		acq.OnFixReceived(testFix(1, 3))

		want := []FixOutcome{FixAccepted, FixRejected, FixInvalid, FixIgnored}
		if diff := cmp.Diff(want, observer.outcomes); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"session-1"}, observer.sessions); diff != "" {
			t.Errorf("session mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]SessionState{StateActive, StateStopped}, observer.states); diff != "" {
			t.Errorf("state mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("best fix follows the acceptance rule for random sequences", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(42, 1337))
		for run := 0; run < 50; run++ {
			acq, _ := testAcquirer(t, AuthorizationAuthorized)
			acq.RequestFix()
			var (
				best  Fix
				isSet bool
			)
			for i := 0; i < 200; i++ {
				candidate := Fix{
					Latitude:           rng.Float64()*180 - 90,
					Longitude:          rng.Float64()*360 - 180,
					HorizontalAccuracy: float64(rng.IntN(100)),
					Timestamp:          testEpoch.Add(time.Duration(rng.IntN(60)) * time.Second),
				}
				acq.OnFixReceived(candidate)

				switch {
				case !isSet:
					best, isSet = candidate, true
				case candidate.HorizontalAccuracy < best.HorizontalAccuracy:
					best = candidate
				case candidate.Timestamp.After(best.Timestamp) &&
					candidate.HorizontalAccuracy <= best.HorizontalAccuracy+DefaultToleranceMeters:
					best = candidate
				}
				if diff := cmp.Diff(best, acq.Snapshot().BestFix.Value()); diff != "" {
					t.Fatalf("run %d, fix %d: best fix mismatch (-want +got):\n%s", run, i, diff)
				}
			}
		}
	})
}

func TestAcquirer_OnAcquisitionError(t *testing.T) {
	t.Run("transient error keeps the session running", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnAcquisitionError(Transient(CodeLocationUnknown, "no signal"))
		snap := acq.Snapshot()
		if snap.State != StateActive {
			t.Errorf("expected state to be %s, got %s", StateActive, snap.State)
		}
		if lastErr := snap.LastError.Value(); lastErr.IsFatal() || lastErr.Code != CodeLocationUnknown {
			t.Errorf("expected transient error, got %s", lastErr)
		}
		if _, _, stops := provider.counts(); stops != 0 {
			t.Errorf("expected no stop, got %d", stops)
		}
	})
	t.Run("fatal error stops the session and keeps the best fix", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(12, 1))
		acq.OnAcquisitionError(Fatal(CodeProviderUnavailable, "device gone"))
		snap := acq.Snapshot()
		if snap.State != StateStopped {
			t.Errorf("expected state to be %s, got %s", StateStopped, snap.State)
		}
		if best := snap.BestFix.Value(); best.HorizontalAccuracy != 12 {
			t.Errorf("expected best fix to be kept, got %+v", best)
		}
		if !snap.LastError.Value().IsFatal() {
			t.Error("expected fatal error to be recorded")
		}
		if _, _, stops := provider.counts(); stops != 1 {
			t.Errorf("expected 1 stop, got %d", stops)
		}
		if msg := acq.StatusMessage(true); msg != StatusError {
			t.Errorf("expected status message to be %q, got %q", StatusError, msg)
		}
	})
	t.Run("fix after fatal error does not resurrect the session", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnAcquisitionError(Fatal(CodeProviderUnavailable, "device gone"))
		acq.OnFixReceived(testFix(5, 1))
		snap := acq.Snapshot()
		if snap.State != StateStopped {
			t.Errorf("expected state to be %s, got %s", StateStopped, snap.State)
		}
		if snap.BestFix.IsSet() {
			t.Error("expected late fix to be ignored")
		}
	})
	t.Run("errors outside an active session are ignored", func(t *testing.T) {
		acq, _ := testAcquirer(t, AuthorizationAuthorized)
		acq.OnAcquisitionError(Fatal(CodeUnknown, "boom"))
		if acq.Snapshot().LastError.IsSet() {
			t.Error("expected error to be ignored")
		}
		acq.RequestFix()
		acq.StopAcquiring()
		acq.OnAcquisitionError(Transient(CodeNetwork, "offline"))
		if acq.Snapshot().LastError.IsSet() {
			t.Error("expected error after stop to be ignored")
		}
	})
}

func TestAcquirer_StopAcquiring(t *testing.T) {
	t.Run("stop on idle acquirer is a no-op", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		snap := acq.StopAcquiring()
		if snap.State != StateIdle {
			t.Errorf("expected state to be %s, got %s", StateIdle, snap.State)
		}
		if _, _, stops := provider.counts(); stops != 0 {
			t.Errorf("expected no stop, got %d", stops)
		}
	})
	t.Run("stop is idempotent", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationAuthorized)
		acq.RequestFix()
		acq.OnFixReceived(testFix(8, 1))
		first := acq.StopAcquiring()
		second := acq.StopAcquiring()
		if diff := cmp.Diff(first, second, snapshotOpts); diff != "" {
			t.Errorf("snapshot mismatch (-first +second):\n%s", diff)
		}
		if first.State != StateStopped || first.Searching {
			t.Errorf("expected stopped snapshot, got %+v", first)
		}
		if !first.BestFix.IsSet() {
			t.Error("expected best fix to survive stop")
		}
		if _, _, stops := provider.counts(); stops != 1 {
			t.Errorf("expected exactly 1 stop, got %d", stops)
		}
		if msg := acq.StatusMessage(true); msg != StatusIdle {
			t.Errorf("expected status message to be %q, got %q", StatusIdle, msg)
		}
	})
	t.Run("stop while awaiting authorization", func(t *testing.T) {
		acq, provider := testAcquirer(t, AuthorizationUndetermined)
		acq.RequestFix()
		snap := acq.StopAcquiring()
		if snap.State != StateStopped {
			t.Errorf("expected state to be %s, got %s", StateStopped, snap.State)
		}
		if _, _, stops := provider.counts(); stops != 0 {
			t.Errorf("expected no stop before streaming, got %d", stops)
		}
	})
}

func TestAcquirer_Reset(t *testing.T) {
	acq, provider := testAcquirer(t, AuthorizationAuthorized)
	acq.RequestFix()
	acq.OnFixReceived(testFix(8, 1))
	acq.OnAcquisitionError(Transient(CodeNetwork, "offline"))
	acq.Reset()

	snap := acq.Snapshot()
	if diff := cmp.Diff(Snapshot{}, snap, snapshotOpts); diff != "" {
		t.Errorf("expected empty snapshot (-want +got):\n%s", diff)
	}
	if _, _, stops := provider.counts(); stops != 1 {
		t.Errorf("expected 1 stop, got %d", stops)
	}
}
