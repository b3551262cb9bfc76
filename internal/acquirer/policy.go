// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

import (
	"time"

	"github.com/wneessen/geofix/internal/vartype"
)

const (
	// DefaultToleranceMeters is how much worse than the current best fix a newer fix may be and
	// still replace it.
	DefaultToleranceMeters = 10.0

	accuracyEpsilon = 1e-6
)

// Policy decides which received fixes replace the current best fix.
type Policy struct {
	// ToleranceMeters is the band within which a strictly newer fix counts as not materially worse.
	ToleranceMeters float64

	// MaxAge drops fixes whose timestamp lies further in the past than MaxAge, e.g. cached readings a
	// provider replays on start. Zero disables the check.
	MaxAge time.Duration
}

// DefaultPolicy returns the policy used when nothing else is configured.
func DefaultPolicy() Policy {
	return Policy{ToleranceMeters: DefaultToleranceMeters}
}

// Usable reports whether a fix may be considered at all at the given time.
func (p Policy) Usable(fix Fix, now time.Time) bool {
	if !fix.Valid() {
		return false
	}
	if p.MaxAge > 0 && !fix.Timestamp.IsZero() && now.Sub(fix.Timestamp) > p.MaxAge {
		return false
	}
	return true
}

// Accept reports whether candidate should replace best. A candidate is always accepted when
// there is no best fix. Otherwise it must either be strictly more accurate, or strictly newer and
// at most ToleranceMeters less accurate.
func (p Policy) Accept(best vartype.Variable[Fix], candidate Fix) bool {
	current, ok := best.Get()
	if !ok {
		return true
	}
	if candidate.HorizontalAccuracy < current.HorizontalAccuracy-accuracyEpsilon {
		return true
	}
	if !candidate.Timestamp.After(current.Timestamp) {
		return false
	}
	return candidate.HorizontalAccuracy <= current.HorizontalAccuracy+p.ToleranceMeters+accuracyEpsilon
}
