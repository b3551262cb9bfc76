// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geofix/internal/acquirer"
	"github.com/wneessen/geofix/internal/config"
)

// TemplateContext is the data the text and tooltip templates are rendered with.
type TemplateContext struct {
	Status    string
	Class     string
	Icon      string
	State     string
	SessionID string
	Error     string

	Located   bool
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Source    string
	Timestamp time.Time
}

type Presenter struct {
	text      *template.Template
	tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

// New parses the configured templates and verifies that they render.
func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	pres := &Presenter{
		localizer: loc,
		humanizer: collection.CreateHumanizer(loc.Language()),
	}

	pres.text, err = template.New("text").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	pres.tooltip, err = template.New("tooltip").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tooltip template: %w", err)
	}

	sample := TemplateContext{
		Status: acquirer.StatusIdle, Class: ClassLocated, Icon: ClassIcons[ClassLocated], Located: true,
		Source: "sample", Timestamp: time.Now(), State: acquirer.StateStopped.String(),
	}
	if _, err = pres.Render(sample); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext derives the template context from a snapshot.
func (p *Presenter) BuildContext(snap acquirer.Snapshot, servicesEnabled bool) TemplateContext {
	status := snap.StatusMessage(servicesEnabled)
	tplCtx := TemplateContext{
		Status:    status,
		Class:     statusClasses[status],
		State:     snap.State.String(),
		SessionID: snap.SessionID,
	}
	if err, ok := snap.LastError.Get(); ok {
		tplCtx.Error = err.Reason
	}
	if fix, ok := snap.BestFix.Get(); ok {
		tplCtx.Located = true
		tplCtx.Latitude = fix.Latitude
		tplCtx.Longitude = fix.Longitude
		tplCtx.Accuracy = fix.HorizontalAccuracy
		tplCtx.Source = fix.Source
		tplCtx.Timestamp = fix.Timestamp
		if tplCtx.Class == ClassIdle {
			tplCtx.Class = ClassLocated
		}
	}
	tplCtx.Icon = ClassIcons[tplCtx.Class]
	return tplCtx
}

// Render renders the templates into the waybar output fields text, tooltip, class and alt.
func (p *Presenter) Render(tplCtx TemplateContext) (map[string]string, error) {
	buf := bytes.NewBuffer(nil)
	if err := p.text.Execute(buf, tplCtx); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	text := buf.String()

	buf.Reset()
	if err := p.tooltip.Execute(buf, tplCtx); err != nil {
		return nil, fmt.Errorf("failed to render tooltip template: %w", err)
	}

	return map[string]string{
		"text":    text,
		"tooltip": buf.String(),
		"class":   tplCtx.Class,
		"alt":     tplCtx.State,
	}, nil
}
