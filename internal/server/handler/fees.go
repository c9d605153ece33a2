package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// FeeService defines the engine methods the fee handler requires.
type FeeService interface {
	GetProtocolFees() domain.FeeBucket
	GetCGPFees(cgp common.Address) domain.FeeBucket
	WithdrawProtocolFees(ctx context.Context, caller common.Address) (*big.Int, error)
	WithdrawCGPFees(ctx context.Context, caller common.Address) (*big.Int, error)
	UpdateFeePoints(ctx context.Context, caller common.Address, protocolFeePoints, cgpFeePoints uint64) error
	FeePoints() (protocol, cgp uint64)
}

// FeeHandler serves fee accounting and withdrawal endpoints.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler with the given service and logger.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{
		fees:   fees,
		logger: logger,
	}
}

// Protocol returns the protocol fee bucket.
// GET /api/fees/protocol
func (h *FeeHandler) Protocol(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fees.GetProtocolFees())
}

// CGP returns the fee bucket for a referrer address.
// GET /api/fees/cgp/{address}
func (h *FeeHandler) CGP(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.fees.GetCGPFees(addr))
}

type withdrawResponse struct {
	Amount string `json:"amount"`
}

// WithdrawProtocol pays out matured protocol fees to the calling admin.
// POST /api/fees/protocol/withdraw
func (h *FeeHandler) WithdrawProtocol(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.fees.WithdrawProtocolFees(r.Context(), caller)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: protocol fee withdrawal rejected",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount.String()})
}

// WithdrawCGP pays out matured referral fees to the calling CGP.
// POST /api/fees/cgp/withdraw
func (h *FeeHandler) WithdrawCGP(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.fees.WithdrawCGPFees(r.Context(), caller)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: cgp fee withdrawal rejected",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount.String()})
}

type feePointsResponse struct {
	ProtocolFeePoints uint64 `json:"protocol_fee_points"`
	CGPFeePoints      uint64 `json:"cgp_fee_points"`
}

// Points returns the current fee basis points.
// GET /api/fees/points
func (h *FeeHandler) Points(w http.ResponseWriter, r *http.Request) {
	protocol, cgp := h.fees.FeePoints()
	writeJSON(w, http.StatusOK, feePointsResponse{
		ProtocolFeePoints: protocol,
		CGPFeePoints:      cgp,
	})
}

type updateFeePointsRequest struct {
	ProtocolFeePoints uint64 `json:"protocol_fee_points"`
	CGPFeePoints      uint64 `json:"cgp_fee_points"`
}

// UpdatePoints changes the fee basis points applied to future entries.
// PUT /api/fees/points
func (h *FeeHandler) UpdatePoints(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req updateFeePointsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.fees.UpdateFeePoints(r.Context(), caller, req.ProtocolFeePoints, req.CGPFeePoints); err != nil {
		h.logger.WarnContext(r.Context(), "handler: fee point update rejected",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	protocol, cgp := h.fees.FeePoints()
	writeJSON(w, http.StatusOK, feePointsResponse{
		ProtocolFeePoints: protocol,
		CGPFeePoints:      cgp,
	})
}
