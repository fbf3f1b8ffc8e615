package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"authgate/internal/account"
	"authgate/internal/auth"
	"authgate/internal/models"
)

type authResponse struct {
	Token     string       `json:"token"`
	SessionID string       `json:"sessionId"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

func newAuthResponse(res *account.Result) authResponse {
	return authResponse{
		Token:     res.Token,
		SessionID: res.SessionID,
		ExpiresAt: res.Claims.ExpiresAt.Time,
		User:      res.User,
	}
}

// Register creates a password account inside the resolved tenant.
func Register(svc *account.Service, defaultTenant uint, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := svc.Register(r.Context(), tenantOrDefault(r, defaultTenant), req.Email, req.Password, req.Name, meta(r))
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusCreated, newAuthResponse(res))
	}
}

// Login authenticates email and password inside the resolved tenant.
func Login(svc *account.Service, defaultTenant uint, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := svc.Login(r.Context(), tenantOrDefault(r, defaultTenant), req.Email, req.Password, meta(r))
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, newAuthResponse(res))
	}
}

// Logout revokes the presented token and deletes its session.
func Logout(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if err := svc.Logout(r.Context(), claims, raw, meta(r)); err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
	}
}

// VerifyToken introspects the already-authenticated token.
func VerifyToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		RespondJSON(w, http.StatusOK, map[string]any{
			"valid":         true,
			"userId":        claims.UserID,
			"tenantId":      claims.TenantID,
			"email":         claims.Email,
			"walletAddress": claims.WalletAddress,
			"authMethod":    claims.AuthMethod,
			"sessionId":     claims.SessionID,
			"expiresAt":     claims.ExpiresAt.Time,
		})
	}
}
