package handlers

import (
	"log/slog"
	"net/http"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/engine"
)

// settingKeys is the set of keys the engine understands; writes outside it
// are rejected so typos cannot silently no-op.
var settingKeys = map[string]bool{
	core.SettingDecisionTimeoutMs:      true,
	core.SettingSafeModeThreshold:      true,
	core.SettingEnableIPCheck:          true,
	core.SettingEnableUACheck:          true,
	core.SettingEnableGeoCheck:         true,
	core.SettingEnableRefererCheck:     true,
	core.SettingWeightDatacenter:       true,
	core.SettingWeightVPN:              true,
	core.SettingWeightProxy:            true,
	core.SettingWeightTor:              true,
	core.SettingWeightGeoHighRisk:      true,
	core.SettingWeightNoReferer:        true,
	core.SettingWeightUASuspicious:     true,
	core.SettingLogRetentionDays:       true,
	core.SettingModerationRefererHosts: true,
}

// GetSettings returns the raw settings rows. Unset keys fall back to the
// engine defaults, so an empty map is a valid answer.
func GetSettings(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := st.GetSettings(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if settings == nil {
			settings = map[string]string{}
		}
		respondJSON(w, http.StatusOK, settings)
	}
}

// UpdateSettings upserts the given keys and drops the engine's settings
// snapshot so the next decision reloads them.
func UpdateSettings(st Store, cache *engine.SettingsCache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		if len(req) == 0 {
			respondError(w, logger, core.Validationf("no settings given"))
			return
		}
		for key := range req {
			if !settingKeys[key] {
				respondError(w, logger, core.Validationf("unknown setting %q", key))
				return
			}
		}

		ctx := r.Context()
		for key, value := range req {
			if err := st.SetSetting(ctx, key, value); err != nil {
				respondError(w, logger, err)
				return
			}
		}
		cache.Invalidate()

		logger.Info("Settings updated", "keys", len(req))
		respondJSON(w, http.StatusNoContent, nil)
	}
}
