// Package attribution derives a contact's lead source from a webhook payload
// according to the company's configured strategy.
package attribution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/tidwall/gjson"
)

// ErrUnknownStrategy is returned by Normalize for strategies outside the accepted set
var ErrUnknownStrategy = errors.New("unknown attribution strategy")

// Candidate paths per strategy, tried in order; the first non-empty value wins.
var (
	CalendarPaths = []string{
		"calendar.id",
		"calendarId",
		"calendar_id",
		"appointment.calendarId",
		"payload.scheduled_event.event_type",
	}

	HyrosPaths = []string{
		"contact.hyros_source",
		"customData.hyros_source",
		"contact.customFields.hyros_source",
		"hyros.source",
		"hyros_source",
	}

	TagListPaths = []string{
		"contact.tags",
		"tags",
	}

	// TagPrefixes are checked in order against every tag
	TagPrefixes = []string{"source:", "src:", "utm_source:"}
)

// Rules returns the ordered candidate paths a strategy reads
func Rules(cfg models.AttributionConfig) []string {
	switch cfg.Strategy {
	case models.StrategyGHLFields:
		return []string{sourceField(cfg)}
	case models.StrategyCalendars:
		return CalendarPaths
	case models.StrategyHyros:
		return HyrosPaths
	case models.StrategyTags:
		return TagListPaths
	}
	return nil
}

// Resolve returns the lead source for payload or nil when the strategy finds none
func Resolve(payload []byte, cfg models.AttributionConfig) *string {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return nil
	}

	switch cfg.Strategy {
	case models.StrategyGHLFields, models.StrategyHyros:
		return firstString(payload, Rules(cfg))
	case models.StrategyCalendars:
		calendar := firstString(payload, CalendarPaths)
		if calendar == nil {
			return nil
		}
		if label, ok := cfg.CalendarSources[*calendar]; ok && label != "" {
			return &label
		}
		return calendar
	case models.StrategyTags:
		return fromTags(payload)
	}
	return nil
}

// Normalize validates cfg at configuration time and fills defaults
func Normalize(cfg models.AttributionConfig) (models.AttributionConfig, error) {
	out := cfg
	out.Strategy = models.AttributionStrategy(strings.ToLower(strings.TrimSpace(string(cfg.Strategy))))
	if !out.Strategy.Valid() {
		return cfg, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}

	out.SourceField = strings.TrimSpace(cfg.SourceField)
	if out.Strategy == models.StrategyGHLFields && out.SourceField == "" {
		out.SourceField = models.DefaultSourceField
	}

	if len(cfg.CalendarSources) > 0 {
		out.CalendarSources = make(map[string]string, len(cfg.CalendarSources))
		for k, v := range cfg.CalendarSources {
			if k = strings.TrimSpace(k); k != "" {
				out.CalendarSources[k] = strings.TrimSpace(v)
			}
		}
	}
	return out, nil
}

func sourceField(cfg models.AttributionConfig) string {
	if f := strings.TrimSpace(cfg.SourceField); f != "" {
		return f
	}
	return models.DefaultSourceField
}

func firstString(payload []byte, paths []string) *string {
	for _, path := range paths {
		r := gjson.GetBytes(payload, path)
		if !r.Exists() || r.IsObject() || r.IsArray() {
			continue
		}
		if v := strings.TrimSpace(r.String()); v != "" {
			return &v
		}
	}
	return nil
}

func fromTags(payload []byte) *string {
	for _, path := range TagListPaths {
		r := gjson.GetBytes(payload, path)
		if !r.Exists() {
			continue
		}

		var tags []string
		if r.IsArray() {
			for _, t := range r.Array() {
				tags = append(tags, t.String())
			}
		} else {
			tags = strings.Split(r.String(), ",")
		}

		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			lower := strings.ToLower(tag)
			for _, prefix := range TagPrefixes {
				if strings.HasPrefix(lower, prefix) {
					if v := strings.TrimSpace(tag[len(prefix):]); v != "" {
						return &v
					}
				}
			}
		}
	}
	return nil
}
