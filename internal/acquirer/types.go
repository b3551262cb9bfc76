// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

import (
	"fmt"
	"math"
	"time"

	"github.com/wneessen/geofix/internal/vartype"
)

// AuthorizationState is the permission status reported by a location provider. The acquirer only
// reads it.
type AuthorizationState int

const (
	AuthorizationUndetermined AuthorizationState = iota
	AuthorizationAuthorized
	AuthorizationDenied
	AuthorizationRestricted
)

// String satisfies the fmt.Stringer interface.
func (a AuthorizationState) String() string {
	switch a {
	case AuthorizationUndetermined:
		return "undetermined"
	case AuthorizationAuthorized:
		return "authorized"
	case AuthorizationDenied:
		return "denied"
	case AuthorizationRestricted:
		return "restricted"
	default:
		return fmt.Sprintf("authorization(%d)", int(a))
	}
}

// Refused reports whether the state forbids location access.
func (a AuthorizationState) Refused() bool {
	return a == AuthorizationDenied || a == AuthorizationRestricted
}

// SessionState is the lifecycle state of an acquisition session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingAuthorization
	StateActive
	StateStopped
)

// String satisfies the fmt.Stringer interface.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAuthorization:
		return "awaiting-authorization"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fix is a single position reading. Lower HorizontalAccuracy means a more precise reading.
type Fix struct {
	Latitude           float64
	Longitude          float64
	HorizontalAccuracy float64
	Timestamp          time.Time

	// Source names the location source that produced the reading.
	Source string
}

// Valid reports whether the fix carries usable coordinates and a non-negative accuracy.
func (f Fix) Valid() bool {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) || math.IsNaN(f.HorizontalAccuracy) {
		return false
	}
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180 &&
		f.HorizontalAccuracy >= 0
}

// Severity classifies an AcquisitionError.
type Severity int

const (
	// SeverityTransient errors leave the session running; the provider is expected to recover.
	SeverityTransient Severity = iota
	// SeverityFatal errors always end the session.
	SeverityFatal
)

// String satisfies the fmt.Stringer interface.
func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "transient"
}

// ErrorCode narrows down the cause of an AcquisitionError.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeLocationUnknown
	CodeAuthorizationDenied
	CodeAuthorizationRevoked
	CodeProviderUnavailable
	CodeNetwork
	CodeTimeout
)

// String satisfies the fmt.Stringer interface.
func (c ErrorCode) String() string {
	switch c {
	case CodeLocationUnknown:
		return "location-unknown"
	case CodeAuthorizationDenied:
		return "authorization-denied"
	case CodeAuthorizationRevoked:
		return "authorization-revoked"
	case CodeProviderUnavailable:
		return "provider-unavailable"
	case CodeNetwork:
		return "network"
	case CodeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

const (
	ReasonAuthorizationDenied  = "authorization denied"
	ReasonAuthorizationRevoked = "authorization revoked"
)

// AcquisitionError is a failure reported by a provider or raised by the acquirer itself. It is
// recorded as data in the snapshot and never returned from the state machine operations.
type AcquisitionError struct {
	Severity Severity
	Code     ErrorCode
	Reason   string
}

// Transient returns a transient AcquisitionError.
func Transient(code ErrorCode, reason string) AcquisitionError {
	return AcquisitionError{Severity: SeverityTransient, Code: code, Reason: reason}
}

// Fatal returns a fatal AcquisitionError.
func Fatal(code ErrorCode, reason string) AcquisitionError {
	return AcquisitionError{Severity: SeverityFatal, Code: code, Reason: reason}
}

// Error satisfies the error interface.
func (e AcquisitionError) Error() string {
	return fmt.Sprintf("%s location error (%s): %s", e.Severity, e.Code, e.Reason)
}

// IsFatal reports whether the error ends the session.
func (e AcquisitionError) IsFatal() bool {
	return e.Severity == SeverityFatal
}

// IsAuthorization reports whether the error stems from refused location access.
func (e AcquisitionError) IsAuthorization() bool {
	return e.Code == CodeAuthorizationDenied || e.Code == CodeAuthorizationRevoked
}

// Snapshot is the read-only view of an acquirer handed to callers. It is a value copy and never
// aliases acquirer state.
type Snapshot struct {
	SessionID string
	State     SessionState
	BestFix   vartype.Variable[Fix]
	LastError vartype.Variable[AcquisitionError]
	Searching bool
}
