package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"authgate/internal/session"
)

// Middleware authenticates the bearer token, touches the bound session, and
// places claims plus the token tenant into the request context. The tenant
// resolved upstream (header/query) must match the token tenant; when no
// tenant was resolved upstream, the token claims supply it.
func Middleware(tokens *TokenService, sessions *session.Manager, lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				unauthorized(w, "Authentication required")
				return
			}
			raw := strings.TrimPrefix(h, "Bearer ")

			claims, err := tokens.Verify(r.Context(), raw, TenantFromContext(r.Context()))
			switch {
			case err == nil:
			case errors.Is(err, ErrTenantMismatch):
				envelope(w, http.StatusForbidden, "Token not valid for this tenant")
				return
			case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRevoked),
				errors.Is(err, ErrTokenSignature), errors.Is(err, ErrTokenMalformed):
				unauthorized(w, "Invalid or expired token")
				return
			default:
				lg.Errorw("token verification failed", "error", err)
				envelope(w, http.StatusInternalServerError, "Service unavailable")
				return
			}

			if err := sessions.Touch(r.Context(), claims.SessionID, claims.UserID, claims.TenantID); err != nil {
				if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrMismatch) {
					unauthorized(w, "Invalid or expired token")
					return
				}
				lg.Errorw("session touch failed", "error", err, "user_id", claims.UserID)
				envelope(w, http.StatusInternalServerError, "Service unavailable")
				return
			}

			if h := HolderFromContext(r.Context()); h != nil {
				h.Claims = claims
				h.TenantID = claims.TenantID
			}
			ctx := WithClaims(r.Context(), claims)
			ctx = WithTenant(ctx, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	envelope(w, http.StatusUnauthorized, msg)
}

func envelope(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
