package attribution

import (
	"testing"

	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg(strategy models.AttributionStrategy) models.AttributionConfig {
	return models.AttributionConfig{Strategy: strategy}
}

func TestResolve_GHLFieldsDefaultsToContactSource(t *testing.T) {
	payload := []byte(`{"contact":{"id":"c1","source":"facebook_ads"}}`)

	got := Resolve(payload, cfg(models.StrategyGHLFields))
	require.NotNil(t, got)
	assert.Equal(t, "facebook_ads", *got)
}

func TestResolve_GHLFieldsCustomField(t *testing.T) {
	payload := []byte(`{"contact":{"source":"organic"},"customData":{"lead_source":"webinar"}}`)
	c := models.AttributionConfig{Strategy: models.StrategyGHLFields, SourceField: "customData.lead_source"}

	got := Resolve(payload, c)
	require.NotNil(t, got)
	assert.Equal(t, "webinar", *got)
}

func TestResolve_GHLFieldsMissing(t *testing.T) {
	assert.Nil(t, Resolve([]byte(`{"contact":{"id":"c1"}}`), cfg(models.StrategyGHLFields)))
}

func TestResolve_None(t *testing.T) {
	payload := []byte(`{"contact":{"source":"facebook_ads"},"tags":["source:google"]}`)
	assert.Nil(t, Resolve(payload, cfg(models.StrategyNone)))
}

func TestResolve_Calendars(t *testing.T) {
	c := models.AttributionConfig{
		Strategy:        models.StrategyCalendars,
		CalendarSources: map[string]string{"cal_vsl": "VSL funnel"},
	}

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"nested calendar id mapped", `{"calendar":{"id":"cal_vsl"}}`, "VSL funnel"},
		{"flat calendarId unmapped", `{"calendarId":"cal_other"}`, "cal_other"},
		{"appointment calendar", `{"appointment":{"calendarId":"cal_vsl"}}`, "VSL funnel"},
		{"calendly event type", `{"payload":{"scheduled_event":{"event_type":"https://api.calendly.com/event_types/ABC"}}}`, "https://api.calendly.com/event_types/ABC"},
		{"first rule wins", `{"calendar":{"id":"cal_vsl"},"calendarId":"cal_other"}`, "VSL funnel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve([]byte(tt.payload), c)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestResolve_Hyros(t *testing.T) {
	payload := []byte(`{"hyros":{"source":"yt"},"contact":{"hyros_source":"fb"}}`)
	got := Resolve(payload, cfg(models.StrategyHyros))
	require.NotNil(t, got)
	assert.Equal(t, "fb", *got, "contact.hyros_source precedes hyros.source")
}

func TestResolve_Tags(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    *string
	}{
		{"first tag in payload order", `{"contact":{"tags":["vip","utm_source:google","source:facebook"]}}`, strPtr("google")},
		{"prefix case insensitive", `{"tags":["Source:Referral"]}`, strPtr("Referral")},
		{"comma separated string", `{"tags":"vip, src:podcast"}`, strPtr("podcast")},
		{"contact tags before top-level", `{"contact":{"tags":["src:a"]},"tags":["src:b"]}`, strPtr("a")},
		{"no matching tag", `{"tags":["vip","hot"]}`, nil},
		{"empty value skipped", `{"tags":["source:","src:x"]}`, strPtr("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve([]byte(tt.payload), cfg(models.StrategyTags))
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestResolve_InvalidPayload(t *testing.T) {
	assert.Nil(t, Resolve([]byte(`not json`), cfg(models.StrategyGHLFields)))
	assert.Nil(t, Resolve(nil, cfg(models.StrategyTags)))
}

func TestNormalize(t *testing.T) {
	out, err := Normalize(models.AttributionConfig{Strategy: " GHL_FIELDS "})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyGHLFields, out.Strategy)
	assert.Equal(t, models.DefaultSourceField, out.SourceField)

	_, err = Normalize(models.AttributionConfig{Strategy: "utm"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	out, err = Normalize(models.AttributionConfig{
		Strategy:        models.StrategyCalendars,
		CalendarSources: map[string]string{" cal_1 ": " Ads ", "": "dropped"},
	})
	require.NoError(t, err)
	assert.True(t, out.CalendarBased())
	assert.Equal(t, map[string]string{"cal_1": "Ads"}, out.CalendarSources)
}

func TestRules(t *testing.T) {
	assert.Equal(t, []string{"contact.source"}, Rules(cfg(models.StrategyGHLFields)))
	assert.Equal(t, CalendarPaths, Rules(cfg(models.StrategyCalendars)))
	assert.Nil(t, Rules(cfg(models.StrategyNone)))
}

func strPtr(s string) *string { return &s }
