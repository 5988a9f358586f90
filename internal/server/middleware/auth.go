// Package middleware holds the HTTP middleware chain for the ops API: auth,
// CORS, request logging, and per-client rate limiting. The ops surface fronts
// the settlement queue and the points ledger, so everything except the
// load-balancer probes sits behind the configured key.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// isProbe reports whether the request targets a liveness or readiness
// endpoint. Probes bypass auth and request logging.
func isProbe(path string) bool {
	return path == "/api/health" || path == "/api/ready"
}

// Auth returns middleware that guards the ops API with a static key,
// presented either as a Bearer token or in X-API-Key. An empty configured key
// disables the guard entirely.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := requestToken(r)
			if token == "" {
				unauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				unauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestToken pulls the presented credential out of the request, preferring
// the Authorization header over X-API-Key.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
