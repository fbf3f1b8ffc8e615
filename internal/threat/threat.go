// Package threat applies pattern heuristics to requests. Detection is pure
// and advisory: flags raise the audit severity but never reject a request.
package threat

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

var (
	suspiciousUA = regexp.MustCompile(`(?i)bot|crawler|spider|scraper`)
	sqlPattern   = regexp.MustCompile(`(?i)union|select|insert|delete|drop|exec`)
	knownMethods = map[string]struct{}{
		"GET": {}, "POST": {}, "PUT": {}, "DELETE": {},
		"PATCH": {}, "OPTIONS": {}, "HEAD": {},
	}
)

type Flags struct {
	SuspiciousUserAgent bool
	SQLInjectionAttempt bool
	PathTraversal       bool
	UnusualMethod       bool
}

func (f Flags) Any() bool {
	return f.SuspiciousUserAgent || f.SQLInjectionAttempt || f.PathTraversal || f.UnusualMethod
}

// List names the raised flags for the audit record.
func (f Flags) List() []string {
	var out []string
	if f.SuspiciousUserAgent {
		out = append(out, "suspicious_user_agent")
	}
	if f.SQLInjectionAttempt {
		out = append(out, "sql_injection_attempt")
	}
	if f.PathTraversal {
		out = append(out, "path_traversal")
	}
	if f.UnusualMethod {
		out = append(out, "unusual_method")
	}
	return out
}

// Inspect evaluates the heuristics over method, path, user agent, query,
// and up to the buffered prefix of the body.
func Inspect(method, path, userAgent string, query url.Values, body []byte) Flags {
	var f Flags
	f.SuspiciousUserAgent = suspiciousUA.MatchString(userAgent)
	f.PathTraversal = strings.Contains(path, "../") || strings.Contains(path, `..\`)
	_, known := knownMethods[method]
	f.UnusualMethod = !known

	payload, _ := json.Marshal(struct {
		Query url.Values      `json:"query"`
		Body  json.RawMessage `json:"body,omitempty"`
	}{Query: query, Body: rawBody(body)})
	f.SQLInjectionAttempt = sqlPattern.Match(payload)
	return f
}

// rawBody keeps valid JSON as-is and quotes anything else so the combined
// payload stays marshalable.
func rawBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return json.RawMessage(quoted)
}
