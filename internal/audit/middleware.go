package audit

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"authgate/internal/auth"
	"authgate/internal/threat"
)

// maxInspectBytes caps how much request body the recorder buffers for
// threat inspection.
const maxInspectBytes = 64 << 10

// Middleware records an API event for every request through the pipeline,
// runs the threat heuristics, and emits system events for slow requests and
// large responses. It never rejects a request.
func Middleware(p *Pipeline, slow time.Duration, largeBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(r.Body, maxInspectBytes))
				r.Body = rejoin(body, r.Body)
			}

			holder := &auth.ClaimsHolder{}
			r = r.WithContext(auth.WithClaimsHolder(r.Context(), holder))

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			var userID uint
			var sessionID string
			tenantID := holder.TenantID
			if holder.Claims != nil {
				userID = holder.Claims.UserID
				sessionID = holder.Claims.SessionID
				tenantID = holder.Claims.TenantID
			}
			ip := clientIP(r)
			ua := r.UserAgent()

			p.Log(Event{
				UserID:    userID,
				TenantID:  tenantID,
				Action:    ActionFor(r.Method, r.URL.Path, status),
				Severity:  SeverityForStatus(status),
				IPAddress: ip,
				UserAgent: ua,
				SessionID: sessionID,
				Details: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      status,
					"duration_ms": elapsed.Milliseconds(),
					"bytes":       ww.BytesWritten(),
				},
			})

			if flags := threat.Inspect(r.Method, r.URL.Path, ua, r.URL.Query(), body); flags.Any() {
				p.Log(Event{
					UserID:    userID,
					TenantID:  tenantID,
					Action:    ActionSecurityThreat,
					Severity:  SeverityHigh,
					IPAddress: ip,
					UserAgent: ua,
					SessionID: sessionID,
					Details: map[string]any{
						"flags":  flags.List(),
						"method": r.Method,
						"path":   r.URL.Path,
					},
				})
			}

			if slow > 0 && elapsed > slow {
				p.Log(Event{
					TenantID:  tenantID,
					Action:    ActionSlowRequest,
					Severity:  SeverityWarn,
					IPAddress: ip,
					Details:   map[string]any{"path": r.URL.Path, "duration_ms": elapsed.Milliseconds()},
				})
			}
			if largeBytes > 0 && int64(ww.BytesWritten()) > largeBytes {
				p.Log(Event{
					TenantID:  tenantID,
					Action:    ActionLargeResponse,
					Severity:  SeverityWarn,
					IPAddress: ip,
					Details:   map[string]any{"path": r.URL.Path, "bytes": ww.BytesWritten()},
				})
			}
		})
	}
}

type joinedBody struct {
	io.Reader
	io.Closer
}

// rejoin puts the buffered prefix back in front of the unread remainder.
func rejoin(prefix []byte, rest io.ReadCloser) io.ReadCloser {
	return joinedBody{Reader: io.MultiReader(bytes.NewReader(prefix), rest), Closer: rest}
}

func clientIP(r *http.Request) string {
	// middleware.RealIP already rewrote RemoteAddr when forwarding headers
	// are present.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
