package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vendaflow/broker-auth-service/internal/http/middleware"
	"github.com/vendaflow/broker-auth-service/internal/http/response"
	"github.com/vendaflow/broker-auth-service/internal/observability"
	"github.com/vendaflow/broker-auth-service/internal/service"
)

type SessionHandler struct {
	auth   service.AuthServiceInterface
	logger *slog.Logger
}

func NewSessionHandler(auth service.AuthServiceInterface, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{auth: auth, logger: logger}
}

// Me returns the authenticated broker's own profile.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, service.Summarize(identity.Broker))
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	views, err := h.auth.ListSessions(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthenticated):
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		default:
			h.logger.Error("list sessions failed", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "session listing unavailable", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	raw := chi.URLParam(r, "session_id")
	sessionID, perr := strconv.ParseUint(raw, 10, 64)
	if perr != nil {
		response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
		return
	}
	if err := h.auth.RevokeSession(r.Context(), token, uint(sessionID)); err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthenticated):
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		case errors.Is(err, service.ErrSessionNotFound):
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
		default:
			h.logger.Error("revoke session failed", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "session revocation unavailable", nil)
		}
		return
	}
	observability.Audit(r, "session_revoked", "session_id", raw)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}
