package audit

import "strings"

// Canonical action vocabulary. Everything else falls back to
// {method_lower}_{firstSegment}[_failed].
const (
	ActionUserRegistered     = "user_registered"
	ActionRegistrationFailed = "registration_failed"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionUserLogin          = "user_login"
	ActionFailedLogin        = "failed_login"
	ActionUserLogout         = "user_logout"
	ActionChallengeRequest   = "wallet_challenge_request"
	ActionWalletAuthSuccess  = "wallet_auth_success"
	ActionWalletAuthFailed   = "wallet_auth_failed"
	ActionTokenVerified      = "token_verified"
	ActionProfileView        = "profile_view"
	ActionProfileUpdated     = "profile_updated"
	ActionSessionsListed     = "sessions_listed"
	ActionSessionRevoked     = "session_revoked"
	ActionSecurityThreat     = "security_threat"
	ActionSlowRequest        = "slow_request"
	ActionLargeResponse      = "large_response"
)

type routeKey struct {
	method string
	path   string
}

var wellKnown = map[routeKey]struct{ ok, failed string }{
	{"POST", "/auth/register"}:    {ActionUserRegistered, ActionRegistrationFailed},
	{"POST", "/auth/login"}:       {ActionLoginSuccess, ActionLoginFailed},
	{"POST", "/auth/challenge"}:   {ActionChallengeRequest, ActionChallengeRequest + "_failed"},
	{"POST", "/auth/verify"}:      {ActionWalletAuthSuccess, ActionWalletAuthFailed},
	{"POST", "/auth/wallet-auth"}: {ActionWalletAuthSuccess, ActionWalletAuthFailed},
	{"POST", "/auth/logout"}:      {ActionUserLogout, ActionUserLogout + "_failed"},
	{"GET", "/auth/verify"}:       {ActionTokenVerified, ActionTokenVerified + "_failed"},
	{"GET", "/auth/profile"}:      {ActionProfileView, ActionProfileView + "_failed"},
	{"PUT", "/auth/profile"}:      {ActionProfileUpdated, ActionProfileUpdated + "_failed"},
	{"GET", "/auth/sessions"}:     {ActionSessionsListed, ActionSessionsListed + "_failed"},
}

// ActionFor maps a request outcome onto the canonical action vocabulary.
func ActionFor(method, path string, statusCode int) string {
	failed := statusCode >= 400
	if a, ok := wellKnown[routeKey{method, path}]; ok {
		if failed {
			return a.failed
		}
		return a.ok
	}
	if strings.HasPrefix(path, "/auth/sessions/") && method == "DELETE" {
		if failed {
			return ActionSessionRevoked + "_failed"
		}
		return ActionSessionRevoked
	}
	action := strings.ToLower(method) + "_" + firstSegment(path)
	if failed {
		action += "_failed"
	}
	return action
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}

// SeverityForStatus implements the API severity ladder: auth failures are
// security-relevant, other client errors are warnings, server errors are
// errors.
func SeverityForStatus(statusCode int) string {
	switch {
	case statusCode == 401 || statusCode == 403:
		return SeverityHigh
	case statusCode >= 500:
		return SeverityError
	case statusCode >= 400:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}
