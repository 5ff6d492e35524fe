package util

import (
	"net/http"
	"strings"
)

// Responses from this API carry personal data (exports, breach notices,
// audit PDFs), so caching is disabled alongside the usual JSON-API
// hardening headers.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
	"Permissions-Policy":      "geolocation=(), camera=(), microphone=()",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
}

// WithSecurityHeaders applies the fixed header set and, for HTTPS traffic
// (direct or behind the dashboard proxy), HSTS.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range securityHeaders {
			w.Header().Set(name, value)
		}
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
