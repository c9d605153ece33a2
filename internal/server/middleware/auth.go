package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the API with the static key from server.api_key. Clients send
// it either as "Authorization: Bearer <key>" or in X-API-Key. An empty
// configured key disables the check, which is the expected setup in memory
// mode and local development.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := presentedKey(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			// Comparison is constant time; the key is a shared secret.
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// presentedKey pulls the client's key from the Bearer scheme or the
// X-API-Key header, in that order.
func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
