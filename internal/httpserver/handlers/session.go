package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"authgate/internal/auth"
	"authgate/internal/session"
)

// SessionsList returns the live sessions of the authenticated user, marking
// the one bound to the presented token.
func SessionsList(sessions *session.Manager, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		list, err := sessions.List(r.Context(), claims.UserID, claims.TenantID, claims.SessionID)
		if err != nil {
			lg.Errorw("session list failed", "error", err, "user_id", claims.UserID)
			RespondError(w, http.StatusInternalServerError, "Service unavailable")
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"sessions": list})
	}
}

// SessionRevoke deletes the session named in the path if it belongs to the
// authenticated user.
func SessionRevoke(sessions *session.Manager, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		id := chi.URLParam(r, "sessionID")
		err := sessions.Revoke(r.Context(), claims.UserID, claims.TenantID, id)
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrMismatch) {
			RespondError(w, http.StatusNotFound, "Session not found")
			return
		}
		if err != nil {
			lg.Errorw("session revoke failed", "error", err, "user_id", claims.UserID)
			RespondError(w, http.StatusInternalServerError, "Service unavailable")
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"revoked": true})
	}
}

// SessionsRevokeOthers deletes every session of the user except the current
// one and reports how many went away.
func SessionsRevokeOthers(sessions *session.Manager, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		n, err := sessions.RevokeOthers(r.Context(), claims.UserID, claims.TenantID, claims.SessionID)
		if err != nil {
			lg.Errorw("session revoke-others failed", "error", err, "user_id", claims.UserID)
			RespondError(w, http.StatusInternalServerError, "Service unavailable")
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"revoked": n})
	}
}
