package middleware

import "net/http"

// SecurityHeaders adds the hardening headers appropriate to a JSON/WebSocket
// API (no HTML is ever served, so the teacher's CSP/report-uri machinery
// for browser rendering is dropped — there is nothing here that renders a
// DOM). Adapted from internal/security/headers.go's header set, trimmed to
// what a pure API surface needs.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		h.Del("Server")
		h.Del("X-Powered-By")
		next.ServeHTTP(w, r)
	})
}
