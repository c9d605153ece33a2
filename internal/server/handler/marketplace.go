package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// MarketplaceService defines the engine methods the marketplace handler requires.
type MarketplaceService interface {
	ListNFTForSale(ctx context.Context, caller common.Address, positionID uint64, price *big.Int) error
	CancelNFTSale(ctx context.Context, caller common.Address, positionID uint64) error
	BuyNFT(ctx context.Context, buyer common.Address, positionID uint64) error
	NFTSales(positionID uint64) domain.Listing
	ActiveListings() []domain.Listing
}

// MarketplaceHandler serves the secondary market for position NFTs.
type MarketplaceHandler struct {
	market MarketplaceService
	logger *slog.Logger
}

// NewMarketplaceHandler creates a MarketplaceHandler with the given service and logger.
func NewMarketplaceHandler(market MarketplaceService, logger *slog.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{
		market: market,
		logger: logger,
	}
}

type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Count    int              `json:"count"`
}

// Listings returns every active listing.
// GET /api/marketplace/listings
func (h *MarketplaceHandler) Listings(w http.ResponseWriter, r *http.Request) {
	listings := h.market.ActiveListings()
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: listings,
		Count:    len(listings),
	})
}

// Listing returns the sale state for one position, listed or not.
// GET /api/marketplace/listings/{id}
func (h *MarketplaceHandler) Listing(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.market.NFTSales(id))
}

type listForSaleRequest struct {
	Price string `json:"price"`
}

// List puts the caller's position up for sale at a fixed price.
// POST /api/marketplace/listings/{id}
func (h *MarketplaceHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	var req listForSaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, ok := parseAmount(w, req.Price)
	if !ok {
		return
	}

	if err := h.market.ListNFTForSale(r.Context(), caller, id, price); err != nil {
		h.logger.WarnContext(r.Context(), "handler: listing rejected",
			slog.String("caller", caller.Hex()),
			slog.Uint64("position_id", id),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.market.NFTSales(id))
}

// Cancel withdraws the caller's listing.
// DELETE /api/marketplace/listings/{id}
func (h *MarketplaceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	if err := h.market.CancelNFTSale(r.Context(), caller, id); err != nil {
		h.logger.WarnContext(r.Context(), "handler: listing cancel rejected",
			slog.String("caller", caller.Hex()),
			slog.Uint64("position_id", id),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Buy purchases a listed position, paying the seller in stable tokens.
// POST /api/marketplace/listings/{id}/buy
func (h *MarketplaceHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	if err := h.market.BuyNFT(r.Context(), caller, id); err != nil {
		h.logger.WarnContext(r.Context(), "handler: purchase rejected",
			slog.String("buyer", caller.Hex()),
			slog.Uint64("position_id", id),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
