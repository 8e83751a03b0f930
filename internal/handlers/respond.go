package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/autoguard/backend/internal/core"
)

// Request bodies above this are rejected before decoding. Safe-page HTML
// never travels through the API, so a megabyte is generous.
const maxBodyBytes = 1 << 20

// errorBody is the uniform error envelope every endpoint renders.
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// An encode failure here means the client hung up; the status is gone
	// already, so there is nothing left to signal.
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := core.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("Request failed", "code", code, "error", err)
	}
	respondJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func httpStatus(code string) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Validationf("invalid json body: %v", err)
	}
	return nil
}

// pathID parses a numeric {var} route segment.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Validationf("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryInt parses an optional numeric query parameter; absent reads as 0.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, core.Validationf("invalid %s %q", name, raw)
	}
	return n, nil
}

func methodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Preflights land here because routes declare explicit methods.
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.WriteHeader(http.StatusOK)
			return
		}
		respondJSON(w, http.StatusMethodNotAllowed, errorBody{
			Code:    core.CodeValidation,
			Message: "method not allowed",
		})
	})
}
