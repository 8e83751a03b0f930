package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSettingsOverlaysDefaults(t *testing.T) {
	s := ParseSettings(map[string]string{
		SettingSafeModeThreshold:  "65",
		SettingEnableGeoCheck:     "false",
		SettingWeightNoReferer:    "0",
		"mysterious_key":          "ignored",
		SettingLogRetentionDays:   " 14 ",
		SettingWeightUASuspicious: "not-a-number",
	})

	assert.Equal(t, 65, s.SafeModeThreshold)
	assert.False(t, s.EnableGeoCheck)
	assert.Equal(t, 0, s.WeightNoReferer)
	assert.Equal(t, 14, s.LogRetentionDays)

	// Malformed values keep their defaults; untouched fields too.
	assert.Equal(t, 20, s.WeightUASuspicious)
	assert.Equal(t, 100, s.DecisionTimeoutMs)
	assert.True(t, s.EnableIPCheck)
}

func TestParseSettingsClampsDecisionTimeout(t *testing.T) {
	low := ParseSettings(map[string]string{SettingDecisionTimeoutMs: "1"})
	assert.Equal(t, 10, low.DecisionTimeoutMs)

	high := ParseSettings(map[string]string{SettingDecisionTimeoutMs: "30000"})
	assert.Equal(t, 1000, high.DecisionTimeoutMs)

	in := ParseSettings(map[string]string{SettingDecisionTimeoutMs: "250"})
	assert.Equal(t, 250, in.DecisionTimeoutMs)
}

func TestParseSettingsModerationHosts(t *testing.T) {
	s := ParseSettings(map[string]string{
		SettingModerationRefererHosts: " AdSpy.com , , bigspy.com ,",
	})
	assert.Equal(t, []string{"adspy.com", "bigspy.com"}, s.ModerationRefererHosts)

	// An absent row keeps the built-in list.
	assert.NotEmpty(t, ParseSettings(nil).ModerationRefererHosts)
}
