// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package acquirer

const (
	StatusServicesDisabled = "Location Services Disabled"
	StatusError            = "Error Getting Location"
	StatusSearching        = "Searching..."
	StatusIdle             = "Tap 'Get My Location' to Start"
)

// StatusMessage derives the human-readable status from the snapshot. The checks are ordered: a
// fatal authorization error outranks everything, including an active session whose state has
// not settled yet.
func (s Snapshot) StatusMessage(servicesEnabled bool) string {
	if err, ok := s.LastError.Get(); ok {
		if err.IsFatal() && err.IsAuthorization() {
			return StatusServicesDisabled
		}
		return StatusError
	}
	if !servicesEnabled {
		return StatusServicesDisabled
	}
	if s.State == StateActive {
		return StatusSearching
	}
	return StatusIdle
}
