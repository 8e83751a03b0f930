package core

import (
	"strconv"
	"strings"
)

// Setting keys stored in the authoritative store's settings table. The
// decision engine hot-reloads these; absent rows fall back to the defaults
// below.
const (
	SettingDecisionTimeoutMs      = "decision_timeout_ms"
	SettingSafeModeThreshold      = "safe_mode_threshold"
	SettingEnableIPCheck          = "enable_ip_check"
	SettingEnableUACheck          = "enable_ua_check"
	SettingEnableGeoCheck         = "enable_geo_check"
	SettingEnableRefererCheck     = "enable_referer_check"
	SettingWeightDatacenter       = "weight_datacenter"
	SettingWeightVPN              = "weight_vpn"
	SettingWeightProxy            = "weight_proxy"
	SettingWeightTor              = "weight_tor"
	SettingWeightGeoHighRisk      = "weight_geo_high_risk"
	SettingWeightUASuspicious     = "weight_ua_suspicious"
	SettingWeightNoReferer        = "weight_no_referer"
	SettingLogRetentionDays       = "log_retention_days"
	SettingModerationRefererHosts = "moderation_referer_hosts"
)

// Settings is the typed snapshot of the settings table consumed by the
// decision engine.
type Settings struct {
	DecisionTimeoutMs      int
	SafeModeThreshold      int
	EnableIPCheck          bool
	EnableUACheck          bool
	EnableGeoCheck         bool
	EnableRefererCheck     bool
	WeightDatacenter       int
	WeightVPN              int
	WeightProxy            int
	WeightTor              int
	WeightGeoHighRisk      int
	WeightUASuspicious     int
	WeightNoReferer        int
	LogRetentionDays       int
	ModerationRefererHosts []string
}

// DefaultSettings returns the engine defaults used when a settings row is
// absent or unparseable.
func DefaultSettings() Settings {
	return Settings{
		DecisionTimeoutMs:  100,
		SafeModeThreshold:  50,
		EnableIPCheck:      true,
		EnableUACheck:      true,
		EnableGeoCheck:     true,
		EnableRefererCheck: true,
		WeightDatacenter:   25,
		WeightVPN:          25,
		WeightProxy:        25,
		WeightTor:          25,
		WeightGeoHighRisk:  30,
		WeightUASuspicious: 20,
		WeightNoReferer:    20,
		LogRetentionDays:   30,
		ModerationRefererHosts: []string{
			"adspy.com",
			"anstrex.com",
			"bigspy.com",
			"poweradspy.com",
			"spyfu.com",
		},
	}
}

// ParseSettings overlays raw key/value rows onto the defaults. Unknown keys
// are ignored; malformed values keep their default.
func ParseSettings(raw map[string]string) Settings {
	s := DefaultSettings()

	if v, ok := parseIntSetting(raw, SettingDecisionTimeoutMs); ok {
		// Clamp to the supported 10..1000 ms window.
		if v < 10 {
			v = 10
		}
		if v > 1000 {
			v = 1000
		}
		s.DecisionTimeoutMs = v
	}
	if v, ok := parseIntSetting(raw, SettingSafeModeThreshold); ok {
		s.SafeModeThreshold = v
	}
	if v, ok := parseBoolSetting(raw, SettingEnableIPCheck); ok {
		s.EnableIPCheck = v
	}
	if v, ok := parseBoolSetting(raw, SettingEnableUACheck); ok {
		s.EnableUACheck = v
	}
	if v, ok := parseBoolSetting(raw, SettingEnableGeoCheck); ok {
		s.EnableGeoCheck = v
	}
	if v, ok := parseBoolSetting(raw, SettingEnableRefererCheck); ok {
		s.EnableRefererCheck = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightDatacenter); ok {
		s.WeightDatacenter = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightVPN); ok {
		s.WeightVPN = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightProxy); ok {
		s.WeightProxy = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightTor); ok {
		s.WeightTor = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightGeoHighRisk); ok {
		s.WeightGeoHighRisk = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightUASuspicious); ok {
		s.WeightUASuspicious = v
	}
	if v, ok := parseIntSetting(raw, SettingWeightNoReferer); ok {
		s.WeightNoReferer = v
	}
	if v, ok := parseIntSetting(raw, SettingLogRetentionDays); ok {
		s.LogRetentionDays = v
	}
	if v, ok := raw[SettingModerationRefererHosts]; ok {
		hosts := make([]string, 0, 8)
		for _, h := range strings.Split(v, ",") {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				hosts = append(hosts, h)
			}
		}
		s.ModerationRefererHosts = hosts
	}

	return s
}

func parseIntSetting(raw map[string]string, key string) (int, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBoolSetting(raw map[string]string, key string) (bool, bool) {
	v, ok := raw[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}
