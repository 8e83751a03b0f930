package handlers

import (
	"log/slog"
	"net/http"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser registers an account. Offers hang off users, so this is the
// first call on a fresh install.
func CreateUser(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		user, err := st.CreateUser(r.Context(), req.Email, req.Password, req.Role)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		logger.Info("User created", "userId", user.ID, "email", user.Email)
		respondJSON(w, http.StatusCreated, user)
	}
}

type userResponse struct {
	User           *core.User `json:"user"`
	ActiveSessions int64      `json:"active_sessions"`
}

// GetUser returns one account plus its live session count from the fast
// store.
func GetUser(st Store, fast faststore.Client, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		ctx := r.Context()
		user, err := st.GetUser(ctx, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		sessions, err := fast.SCard(ctx, faststore.SessionUser(id))
		if err != nil {
			logger.Warn("Session count failed", "userId", id, "error", err)
			sessions = 0
		}
		respondJSON(w, http.StatusOK, userResponse{User: user, ActiveSessions: sessions})
	}
}

// DeleteUser removes an account and cascades to its offers.
func DeleteUser(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if err := st.DeleteUser(r.Context(), id); err != nil {
			respondError(w, logger, err)
			return
		}
		logger.Info("User deleted", "userId", id)
		respondJSON(w, http.StatusNoContent, nil)
	}
}
