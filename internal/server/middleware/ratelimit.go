package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// RateLimit throttles API traffic through the provided domain.RateLimiter.
// Requests carrying a caller address are keyed by that address, anonymous
// requests by client IP, each capped at limit requests per window.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "api:" + limitSubject(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				// Limiter errors fail open rather than taking the API
				// down together with Redis.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitSubject picks the identity a request is throttled under: the caller
// address when one is presented, otherwise the client IP from proxy headers
// or the direct remote address.
func limitSubject(r *http.Request) string {
	if caller := r.Header.Get(callerHeader); caller != "" {
		return strings.ToLower(caller)
	}

	// X-Forwarded-For may carry a chain; the first hop is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
