// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geofix/internal/vartype"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()
	if policy.ToleranceMeters != DefaultToleranceMeters {
		t.Errorf("expected tolerance to be %f, got %f", DefaultToleranceMeters, policy.ToleranceMeters)
	}
	if policy.MaxAge != 0 {
		t.Errorf("expected max age to be disabled, got %s", policy.MaxAge)
	}
}

func TestPolicy_Accept(t *testing.T) {
	policy := DefaultPolicy()
	best := vartype.Some(testFix(50, 10))

	tests := []struct {
		name      string
		best      vartype.Variable[Fix]
		candidate Fix
		accept    bool
	}{
		{"first fix is always accepted", vartype.None[Fix](), testFix(500, 0), true},
		{"more accurate and newer", best, testFix(20, 11), true},
		{"more accurate and older", best, testFix(20, 1), true},
		{"equally accurate and newer", best, testFix(50, 11), true},
		{"equally accurate and same time", best, testFix(50, 10), false},
		{"within tolerance and newer", best, testFix(60, 11), true},
		{"within tolerance and same time", best, testFix(55, 10), false},
		{"within tolerance and older", best, testFix(55, 9), false},
		{"beyond tolerance and newer", best, testFix(60.5, 11), false},
		{"much worse and newer", best, testFix(65, 11), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Accept(tc.best, tc.candidate); got != tc.accept {
				t.Errorf("expected accept to be %t, got %t", tc.accept, got)
			}
		})
	}
	t.Run("tolerance can be narrowed", func(t *testing.T) {
		strict := Policy{ToleranceMeters: 0}
		if strict.Accept(best, testFix(51, 11)) {
			t.Error("expected less accurate fix to be rejected without tolerance")
		}
		if !strict.Accept(best, testFix(50, 11)) {
			t.Error("expected equally accurate newer fix to be accepted without tolerance")
		}
	})
}

func TestPolicy_Usable(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	t.Run("valid fix is usable without max age", func(t *testing.T) {
		policy := DefaultPolicy()
		clock.Advance(time.Hour * 24)
		if !policy.Usable(testFix(5, 0), clock.Now()) {
			t.Error("expected fix to be usable")
		}
	})
	t.Run("max age drops old fixes", func(t *testing.T) {
		policy := Policy{MaxAge: time.Minute}
		now := clockwork.NewFakeClockAt(testEpoch.Add(time.Minute * 2))
		if policy.Usable(testFix(5, 0), now.Now()) {
			t.Error("expected old fix to be dropped")
		}
		if !policy.Usable(testFix(5, 90), now.Now()) {
			t.Error("expected recent fix to be usable")
		}
	})
	t.Run("fix without timestamp passes the age check", func(t *testing.T) {
		policy := Policy{MaxAge: time.Minute}
		if !policy.Usable(Fix{Latitude: 1, Longitude: 1, HorizontalAccuracy: 5}, clock.Now()) {
			t.Error("expected fix without timestamp to be usable")
		}
	})
	t.Run("invalid fix is never usable", func(t *testing.T) {
		policy := DefaultPolicy()
		if policy.Usable(Fix{Latitude: 100, HorizontalAccuracy: 5}, clock.Now()) {
			t.Error("expected invalid fix to be dropped")
		}
	})
}
