package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// StrategyService defines the engine methods the strategy handler requires.
type StrategyService interface {
	EnterStrategy(ctx context.Context, caller common.Address, amount *big.Int) (domain.EnterReceipt, error)
	ExitStrategy(ctx context.Context, caller common.Address, positionID uint64) (domain.ExitReceipt, error)
	GetStrategyDetails() (domain.StrategyDetails, error)
}

// StrategyHandler serves strategy entry and exit endpoints.
type StrategyHandler struct {
	strategy StrategyService
	logger   *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler with the given service and logger.
func NewStrategyHandler(strategy StrategyService, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		strategy: strategy,
		logger:   logger,
	}
}

// enterRequest is the body for strategy entry.
type enterRequest struct {
	Amount string `json:"amount"`
}

// Enter deposits the caller's stable tokens into the strategy and mints the
// position NFT.
// POST /api/strategy/enter
func (h *StrategyHandler) Enter(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req enterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	receipt, err := h.strategy.EnterStrategy(r.Context(), caller, amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: strategy entry rejected",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// Exit redeems a matured position and pays out the caller.
// POST /api/strategy/{id}/exit
func (h *StrategyHandler) Exit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	receipt, err := h.strategy.ExitStrategy(r.Context(), caller, id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: strategy exit rejected",
			slog.String("caller", caller.Hex()),
			slog.Uint64("position_id", id),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// Details returns the currently offered strategy terms.
// GET /api/strategy/details
func (h *StrategyHandler) Details(w http.ResponseWriter, r *http.Request) {
	details, err := h.strategy.GetStrategyDetails()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
