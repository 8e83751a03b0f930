package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/engine"
)

// Decide resolves the request host to an offer and runs the decision
// engine. The edge proxies visitor traffic here; operators dry-run visits
// against /d with ip/ua/referer/host query overrides. The verdict rides in
// the body and the X-Decision header.
func Decide(eng *engine.Engine, routing *engine.Routing, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		host := strings.ToLower(q.Get("host"))
		if host == "" {
			host = requestHost(r)
		}
		rt, err := routing.Resolve(r.Context(), host)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				respondError(w, logger, core.NotFoundf("no offer for host %q", host))
				return
			}
			respondError(w, logger, err)
			return
		}

		// Draft and paused offers are not running campaigns: every visitor
		// gets the safe page, no engine pass, no cloak log.
		if rt.Status != core.OfferActive {
			rec := core.DecisionRecord{
				Decision: core.DecisionSafe,
				Reason:   "offer_" + rt.Status,
			}
			w.Header().Set("X-Decision", rec.Decision)
			respondJSON(w, http.StatusOK, rec)
			return
		}

		reqURL := q.Get("url")
		if reqURL == "" {
			reqURL = "https://" + host + r.URL.RequestURI()
		}
		req := engine.Request{
			IP:        firstNonEmpty(q.Get("ip"), clientIP(r)),
			UserAgent: firstNonEmpty(q.Get("ua"), r.UserAgent()),
			Referer:   firstNonEmpty(q.Get("referer"), r.Referer()),
			URL:       reqURL,
			Headers:   flattenHeaders(r.Header),
		}
		offer := engine.OfferContext{
			OfferID:         rt.OfferID,
			UserID:          rt.UserID,
			CloakEnabled:    rt.CloakEnabled,
			TargetCountries: rt.TargetCountries,
		}

		rec := eng.Decide(r.Context(), req, offer)
		w.Header().Set("X-Decision", rec.Decision)
		respondJSON(w, http.StatusOK, rec)
	}
}

// requestHost strips the port from the Host header.
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
