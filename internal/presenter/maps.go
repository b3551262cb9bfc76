// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/geofix/internal/acquirer"
)

// CSS classes of the waybar module
const (
	ClassLocated   = "located"
	ClassSearching = "searching"
	ClassError     = "error"
	ClassDisabled  = "disabled"
	ClassIdle      = "idle"
)

// ClassIcons maps the output classes to their icons.
var ClassIcons = map[string]string{
	ClassLocated:   "📍",
	ClassSearching: "🛰️",
	ClassError:     "⚠️",
	ClassDisabled:  "🚫",
	ClassIdle:      "🧭",
}

// statusClasses maps the status messages to the output classes.
var statusClasses = map[string]string{
	acquirer.StatusServicesDisabled: ClassDisabled,
	acquirer.StatusError:            ClassError,
	acquirer.StatusSearching:        ClassSearching,
	acquirer.StatusIdle:             ClassIdle,
}

var i18nVars = map[string]localize.MsgID{
	"status":   "Status",
	"position": "Position",
	"accuracy": "Accuracy",
	"source":   "Source",
	"updated":  "Updated",
	"error":    "Error",
	"session":  "Session",

	// status messages, so templates can use them as keys as well
	"disabled":  acquirer.StatusServicesDisabled,
	"failed":    acquirer.StatusError,
	"searching": acquirer.StatusSearching,
	"idle":      acquirer.StatusIdle,
}
