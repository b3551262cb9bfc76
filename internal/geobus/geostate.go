// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last coordinate a source has emitted. Polling sources use it to
// suppress readings that do not differ significantly from the previous one.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether the coordinate differs significantly from the last emitted one. An
// empty state always reports a change.
func (s *GeolocationState) HasChanged(c Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return c.PosHasSignificantChange(s.last)
}

// Update stores the provided coordinate as the last emitted one.
func (s *GeolocationState) Update(c Coordinate) {
	s.last = c
	s.haveLast = true
}

// Reset forgets the last emitted coordinate.
func (s *GeolocationState) Reset() {
	s.last = Coordinate{}
	s.haveLast = false
}
