// Package handler implements the HTTP API for the SimpliFi protocol core.
// Mutating endpoints identify the acting account via the X-Caller-Address
// header; engines enforce authorization and handlers translate engine
// errors to HTTP statuses.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
	"github.com/simplifi-protocol/simplifi-core/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps a protocol error to an HTTP status and writes it.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// errorStatus maps protocol errors to HTTP status codes: authorization
// failures are 403, malformed input 400, state conflicts 409, missing
// resources 404, everything else 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotAdmin),
		errors.Is(err, domain.ErrNotCGP),
		errors.Is(err, domain.ErrNotClient),
		errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotClientsCGP),
		errors.Is(err, domain.ErrNotContractOwner),
		errors.Is(err, domain.ErrNotStrategyContract),
		errors.Is(err, domain.ErrNotApproved):
		return http.StatusForbidden

	case errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrZeroPrice),
		errors.Is(err, domain.ErrSelfTarget),
		errors.Is(err, domain.ErrSelfReferral),
		errors.Is(err, domain.ErrFeeTooHigh):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrHasCGP),
		errors.Is(err, domain.ErrHasClients),
		errors.Is(err, domain.ErrRoleConflict),
		errors.Is(err, domain.ErrAlreadyListed),
		errors.Is(err, domain.ErrPositionNotActive),
		errors.Is(err, domain.ErrNotMature),
		errors.Is(err, domain.ErrMarketNotExpired),
		errors.Is(err, domain.ErrMarketExpired),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrNoFees),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict

	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrNotListed),
		errors.Is(err, domain.ErrRoleNotHeld),
		errors.Is(err, domain.ErrNotACGP),
		errors.Is(err, domain.ErrNotAClient),
		errors.Is(err, domain.ErrUnknownMarket):
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}

// requireCaller extracts the caller set by the middleware, writing a 400 and
// returning false when the header was absent.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Caller-Address header")
		return common.Address{}, false
	}
	return caller, true
}

// parseAddress validates and parses a hex address from path or body input.
func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address "+strconv.Quote(raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseAmount parses a decimal token amount. Zero and negative values are
// rejected by the engines, not here.
func parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount "+strconv.Quote(raw))
		return nil, false
	}
	return n, true
}

// parseID parses a numeric path parameter.
func parseID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
