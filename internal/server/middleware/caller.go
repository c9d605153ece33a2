package middleware

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// callerKey is the context key under which the caller address is stored.
type callerKey struct{}

// callerHeader carries the acting account on every mutating request.
const callerHeader = "X-Caller-Address"

// Caller returns middleware that parses the X-Caller-Address header into a
// checksummed address and stores it in the request context. Requests without
// the header pass through with no caller set; handlers that require one
// reject those with 400.
func Caller() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(callerHeader); raw != "" {
				if !common.IsHexAddress(raw) {
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"error":"invalid ` + callerHeader + ` header"}`))
					return
				}
				ctx := context.WithValue(r.Context(), callerKey{}, common.HexToAddress(raw))
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFrom extracts the caller address stored by Caller. The second return
// reports whether a caller was present on the request.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}
