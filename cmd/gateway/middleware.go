package main

import (
	"net/http"

	"github.com/nullbridge/llmgate/internal/metrics"
)

// withAdminAuth wraps an administrative handler with JWT verification. If
// deps.adminAuth is nil (no ADMIN_JWT_PUBLIC_KEY configured) the handler
// runs unauthenticated, matching the startup warning logged in main.
func withAdminAuth(deps *serverDeps, pattern string, handler http.HandlerFunc) (string, http.Handler) {
	var h http.Handler = handler
	if deps.adminAuth != nil {
		h = deps.adminAuth.Authenticate(h)
	}
	return pattern, metrics.Middleware(pattern, h)
}

// withMetrics wraps an unauthenticated (proxy or health) handler with route
// latency/status observability only.
func withMetrics(pattern string, handler http.HandlerFunc) (string, http.Handler) {
	return pattern, metrics.Middleware(pattern, handler)
}

// credentialFromRequest extracts the client-supplied credential for proxy
// routes: a bearer token, or Gemini's x-goog-api-key header (spec §6
// "Authentication").
func credentialFromRequest(r *http.Request) string {
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		return key
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
