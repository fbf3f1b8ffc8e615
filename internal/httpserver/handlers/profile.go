package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"authgate/internal/account"
	"authgate/internal/auth"
)

// Profile returns the authenticated user.
func Profile(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		u, err := svc.Profile(r.Context(), claims.UserID)
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"profile": u})
	}
}

// UpdateProfile changes the display name of the authenticated user.
func UpdateProfile(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decode(w, r, &req) {
			return
		}
		claims := auth.ClaimsFromContext(r.Context())
		u, err := svc.UpdateProfile(r.Context(), claims, req.Name, meta(r))
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"profile": u})
	}
}

// Activity lists the authenticated user's recent activity records.
func Activity(svc *account.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := svc.Activity(r.Context(), claims.TenantID, claims.UserID, limit)
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"activities": records})
	}
}
