package httpserver

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"authgate/internal/auth"
	"authgate/internal/httpserver/handlers"
	"authgate/internal/ratelimit"
	"authgate/internal/store"
)

// ResolveTenant places an explicitly requested tenant into the request
// context. Precedence is the X-Tenant-ID header, then the tenantId query
// parameter; values are a numeric id or a slug. When neither is present the
// context stays unresolved and downstream layers fall back to token claims
// or the default tenant.
func ResolveTenant(tenants store.TenantStore, lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref := r.Header.Get("X-Tenant-ID")
			if ref == "" {
				ref = r.URL.Query().Get("tenantId")
			}
			if ref == "" {
				next.ServeHTTP(w, r)
				return
			}

			var id uint
			if n, err := strconv.ParseUint(ref, 10, 64); err == nil {
				t, err := tenants.FindByID(r.Context(), uint(n))
				if errors.Is(err, store.ErrNotFound) {
					handlers.RespondError(w, http.StatusBadRequest, "Unknown tenant")
					return
				}
				if err != nil {
					lg.Errorw("tenant lookup failed", "tenant", ref, "error", err)
					handlers.RespondError(w, http.StatusInternalServerError, "Service unavailable")
					return
				}
				id = t.ID
			} else {
				t, err := tenants.FindBySlug(r.Context(), ref)
				if errors.Is(err, store.ErrNotFound) {
					handlers.RespondError(w, http.StatusBadRequest, "Unknown tenant")
					return
				}
				if err != nil {
					lg.Errorw("tenant lookup failed", "tenant", ref, "error", err)
					handlers.RespondError(w, http.StatusInternalServerError, "Service unavailable")
					return
				}
				id = t.ID
			}
			if h := auth.HolderFromContext(r.Context()); h != nil {
				h.TenantID = id
			}
			next.ServeHTTP(w, r.WithContext(auth.WithTenant(r.Context(), id)))
		})
	}
}

// RateLimit enforces the fixed-window limit for a route class, keyed by the
// tenant resolved so far and the client ip. Limiter failures let the request
// through; the counter is protection, not a dependency.
func RateLimit(limiter *ratelimit.Limiter, class string, lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Allow(r.Context(), auth.TenantFromContext(r.Context()), clientIP(r), class)
			if err != nil {
				lg.Warnw("rate limiter unavailable", "class", class, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				handlers.RespondJSON(w, http.StatusTooManyRequests, handlers.ErrorBody{
					Error:      "Too many requests",
					RetryAfter: retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
