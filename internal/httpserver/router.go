// Package httpserver wires the chi router: tenant resolution, audit
// recording, rate limiting, and the auth endpoints.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"authgate/internal/account"
	"authgate/internal/audit"
	"authgate/internal/auth"
	"authgate/internal/httpserver/handlers"
	"authgate/internal/ratelimit"
	"authgate/internal/session"
	"authgate/internal/store"
)

// Deps bundles everything the router needs.
type Deps struct {
	Accounts      *account.Service
	Tokens        *auth.TokenService
	Sessions      *session.Manager
	Tenants       store.TenantStore
	Limiter       *ratelimit.Limiter
	Pipeline      *audit.Pipeline
	Log           *zap.SugaredLogger
	DefaultTenant uint
	SlowRequest   time.Duration
	LargeResponse int64
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(audit.Middleware(d.Pipeline, d.SlowRequest, d.LargeResponse))
	r.Use(ResolveTenant(d.Tenants, d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		// Public endpoints share the stricter login window.
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(d.Limiter, "login", d.Log))
			r.Post("/register", handlers.Register(d.Accounts, d.DefaultTenant, d.Log))
			r.Post("/login", handlers.Login(d.Accounts, d.DefaultTenant, d.Log))
			r.Post("/challenge", handlers.Challenge(d.Accounts, d.DefaultTenant, d.Log))
			r.Post("/verify", handlers.WalletVerify(d.Accounts, d.DefaultTenant, d.Log))
			r.Post("/wallet-auth", handlers.WalletAuth(d.Accounts, d.DefaultTenant, d.Log))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(d.Tokens, d.Sessions, d.Log))
			r.Use(RateLimit(d.Limiter, "api", d.Log))
			r.Post("/logout", handlers.Logout(d.Accounts, d.Log))
			r.Get("/verify", handlers.VerifyToken())
			r.Get("/profile", handlers.Profile(d.Accounts, d.Log))
			r.Put("/profile", handlers.UpdateProfile(d.Accounts, d.Log))
			r.Get("/sessions", handlers.SessionsList(d.Sessions, d.Log))
			r.Delete("/sessions", handlers.SessionsRevokeOthers(d.Sessions, d.Log))
			r.Delete("/sessions/{sessionID}", handlers.SessionRevoke(d.Sessions, d.Log))
			r.Get("/activity", handlers.Activity(d.Accounts, d.Log))
		})
	})

	return r
}
