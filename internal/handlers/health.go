package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/autoguard/backend/internal/circuitbreaker"
	"github.com/autoguard/backend/internal/faststore"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

// Health pings both stores and reports breaker states. Degraded reads as
// 503 so load balancers rotate the instance out.
func Health(st Store, fast faststore.Client, breakers *circuitbreaker.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := make(map[string]string, 2)
		healthy := true
		if err := st.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
		if err := fast.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}

		resp := healthResponse{Status: "healthy", Checks: checks}
		if breakers != nil {
			status, states := breakers.HealthStatus()
			resp.Breakers = states
			if status != "healthy" {
				healthy = false
			}
		}

		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, resp)
	}
}
