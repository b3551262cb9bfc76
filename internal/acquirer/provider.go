// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

// Provider is a platform location service. All methods must return without blocking; results are
// delivered later through the Delegate set with SetDelegate.
type Provider interface {
	Name() string
	AuthorizationStatus() AuthorizationState
	RequestAuthorization()
	StartUpdates()
	StopUpdates()
	SetDelegate(Delegate)
}

// Delegate receives the asynchronous provider events. Both Acquirer and Loop implement it; a
// provider that calls back from its own goroutines must be attached to a Loop.
type Delegate interface {
	OnAuthorizationChanged(AuthorizationState)
	OnFixReceived(Fix)
	OnAcquisitionError(AcquisitionError)
}

// ServicesReporter is implemented by providers that can tell whether location services are
// available on the host at all.
type ServicesReporter interface {
	LocationServicesEnabled() bool
}

// FixOutcome describes what the acquirer did with a received fix.
type FixOutcome int

const (
	FixAccepted FixOutcome = iota
	FixRejected
	FixInvalid
	FixIgnored
)

// String satisfies the fmt.Stringer interface.
func (o FixOutcome) String() string {
	switch o {
	case FixAccepted:
		return "accepted"
	case FixRejected:
		return "rejected"
	case FixInvalid:
		return "invalid"
	default:
		return "ignored"
	}
}

// Observer is notified about acquirer decisions.
type Observer interface {
	SessionStarted(id string)
	StateChanged(from, to SessionState)
	FixProcessed(fix Fix, outcome FixOutcome)
	ErrorRecorded(err AcquisitionError)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string)                    {}
func (nopObserver) StateChanged(SessionState, SessionState) {}
func (nopObserver) FixProcessed(Fix, FixOutcome)            {}
func (nopObserver) ErrorRecorded(AcquisitionError)          {}
