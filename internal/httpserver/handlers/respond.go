// Package handlers implements the HTTP surface over the account service,
// session manager, and token service. Handlers are closures over their
// dependencies and translate service errors into response envelopes.
package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"authgate/internal/account"
	"authgate/internal/auth"
)

// ErrorBody is the error envelope shared by every endpoint.
type ErrorBody struct {
	Error      string   `json:"error"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func RespondError(w http.ResponseWriter, status int, msg string) {
	RespondJSON(w, status, ErrorBody{Error: msg})
}

// respondServiceError maps account service errors onto status codes and
// envelopes. Unknown errors become an opaque 500.
func respondServiceError(w http.ResponseWriter, lg *zap.SugaredLogger, err error) {
	var verr *account.ValidationError
	switch {
	case errors.As(err, &verr):
		RespondJSON(w, http.StatusBadRequest, ErrorBody{Error: "Validation failed", Details: verr.Fields})
	case errors.Is(err, account.ErrInvalidCredentials):
		RespondError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, account.ErrDuplicate):
		RespondError(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, account.ErrInvalidChallenge):
		RespondError(w, http.StatusBadRequest, "Invalid or expired challenge")
	case errors.Is(err, account.ErrSignatureInvalid):
		RespondError(w, http.StatusUnauthorized, "Invalid wallet signature")
	case errors.Is(err, account.ErrNotFound):
		RespondError(w, http.StatusNotFound, "Not found")
	default:
		lg.Errorw("request failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "Service unavailable")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func meta(r *http.Request) account.Meta {
	return account.Meta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// tenantOrDefault picks the tenant resolved upstream, falling back to the
// default tenant on unauthenticated routes with no explicit tenant, and
// publishes the choice to the audit recorder's holder.
func tenantOrDefault(r *http.Request, def uint) uint {
	t := auth.TenantFromContext(r.Context())
	if t == 0 {
		t = def
	}
	if h := auth.HolderFromContext(r.Context()); h != nil && h.TenantID == 0 {
		h.TenantID = t
	}
	return t
}
