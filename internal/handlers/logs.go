package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/autoguard/backend/internal/core"
)

// ListLogs returns recent cloak decisions, optionally scoped to one offer.
func ListLogs(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offerID, err := queryInt(r, "offer_id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		logs, err := st.ListRecentLogs(r.Context(), offerID, int(limit))
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if logs == nil {
			logs = []*core.CloakLog{}
		}
		respondJSON(w, http.StatusOK, logs)
	}
}

const statDateFormat = "2006-01-02"

// ListStats returns the daily aggregates for a date range, newest day
// first. The range defaults to the trailing 30 days.
func ListStats(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := queryInt(r, "user_id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		offerID, err := queryInt(r, "offer_id")
		if err != nil {
			respondError(w, logger, err)
			return
		}

		to := time.Now().UTC().Truncate(24 * time.Hour)
		from := to.AddDate(0, 0, -29)
		if raw := r.URL.Query().Get("to"); raw != "" {
			if to, err = time.Parse(statDateFormat, raw); err != nil {
				respondError(w, logger, core.Validationf("invalid to date %q", raw))
				return
			}
		}
		if raw := r.URL.Query().Get("from"); raw != "" {
			if from, err = time.Parse(statDateFormat, raw); err != nil {
				respondError(w, logger, core.Validationf("invalid from date %q", raw))
				return
			}
		}
		if from.After(to) {
			respondError(w, logger, core.Validationf("from is after to"))
			return
		}

		stats, err := st.ListDailyStats(r.Context(), userID, offerID, from, to)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if stats == nil {
			stats = []core.DailyStat{}
		}
		respondJSON(w, http.StatusOK, stats)
	}
}
