package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/core"
)

// CreateRule inserts one blacklist rule and pushes the delta into the fast
// store so the engine enforces it without waiting for the next full
// materialization.
func CreateRule(st Store, mat *blacklist.Materializer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule core.Rule
		if err := decodeJSON(w, r, &rule); err != nil {
			respondError(w, logger, err)
			return
		}
		rule.ID = 0
		rule.IsActive = true
		if rule.Family == core.FamilyGeo && rule.BlockType == "" {
			rule.BlockType = core.GeoBlock
		}

		ctx := r.Context()
		id, err := st.UpsertRule(ctx, &rule)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		rule.ID = id
		mat.ApplyDelta(ctx, rule, true)

		logger.Info("Blacklist rule added",
			"family", rule.Family, "ruleId", id, "scope", rule.Scope())
		respondJSON(w, http.StatusCreated, rule)
	}
}

// DeleteRule deactivates a rule and removes it from the materialized sets.
func DeleteRule(st Store, mat *blacklist.Materializer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family := mux.Vars(r)["family"]
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}

		ctx := r.Context()
		rule, err := st.GetRule(ctx, family, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if err := st.SoftDeactivateRule(ctx, family, id); err != nil {
			respondError(w, logger, err)
			return
		}
		mat.ApplyDelta(ctx, *rule, false)

		logger.Info("Blacklist rule removed",
			"family", family, "ruleId", id, "scope", rule.Scope())
		respondJSON(w, http.StatusNoContent, nil)
	}
}

// ListRules returns the effective (active, unexpired) rules of one family.
func ListRules(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family := r.URL.Query().Get("family")
		if !validFamily(family) {
			respondError(w, logger, core.Validationf("invalid family %q", family))
			return
		}
		rules, err := st.ListEffectiveRules(r.Context(), family)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if rules == nil {
			rules = []core.Rule{}
		}
		respondJSON(w, http.StatusOK, rules)
	}
}

// Materialize rebuilds every fast-store blacklist structure from the
// authoritative rows and reports the per-family rule counts.
func Materialize(mat *blacklist.Materializer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := mat.MaterializeAll(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"families": counts,
			"total":    counts.Total(),
		})
	}
}

// RuleCounts returns the per-family count of active rules in the
// authoritative store.
func RuleCounts(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := st.CountRules(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, counts)
	}
}

func validFamily(family string) bool {
	for _, f := range core.Families {
		if f == family {
			return true
		}
	}
	return false
}
