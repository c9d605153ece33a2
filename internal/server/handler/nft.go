package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// NFTService defines the registry methods the NFT handler requires.
type NFTService interface {
	Name() string
	Symbol() string
	TotalSupply() int
	OwnerOf(tokenID uint64) (common.Address, error)
	GetTokensOfOwner(account common.Address) []uint64
	GetStrategyAttributes(tokenID uint64) (domain.StrategyAttributes, error)
	TokenURI(tokenID uint64) (string, error)
	Approve(caller, approved common.Address, tokenID uint64) error
	TransferFrom(ctx context.Context, caller, from, to common.Address, tokenID uint64) error
}

// NFTHandler serves the position NFT collection endpoints.
type NFTHandler struct {
	nft    NFTService
	logger *slog.Logger
}

// NewNFTHandler creates an NFTHandler with the given service and logger.
func NewNFTHandler(nft NFTService, logger *slog.Logger) *NFTHandler {
	return &NFTHandler{
		nft:    nft,
		logger: logger,
	}
}

type collectionResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply int    `json:"total_supply"`
}

// Collection returns the collection name, symbol, and supply.
// GET /api/nft
func (h *NFTHandler) Collection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, collectionResponse{
		Name:        h.nft.Name(),
		Symbol:      h.nft.Symbol(),
		TotalSupply: h.nft.TotalSupply(),
	})
}

type tokenResponse struct {
	TokenID    uint64                    `json:"token_id"`
	Owner      string                    `json:"owner"`
	Attributes domain.StrategyAttributes `json:"attributes"`
	URI        string                    `json:"uri"`
}

// Token returns the owner, attributes, and metadata URI of one token.
// GET /api/nft/{id}
func (h *NFTHandler) Token(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	owner, err := h.nft.OwnerOf(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	attrs, err := h.nft.GetStrategyAttributes(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	uri, err := h.nft.TokenURI(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		TokenID:    id,
		Owner:      owner.Hex(),
		Attributes: attrs,
		URI:        uri,
	})
}

type tokensOfOwnerResponse struct {
	Owner  string   `json:"owner"`
	Tokens []uint64 `json:"tokens"`
	Count  int      `json:"count"`
}

// TokensOfOwner returns every token held by an account, in mint order.
// GET /api/nft/owner/{address}
func (h *NFTHandler) TokensOfOwner(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}

	tokens := h.nft.GetTokensOfOwner(owner)
	if tokens == nil {
		tokens = []uint64{}
	}

	writeJSON(w, http.StatusOK, tokensOfOwnerResponse{
		Owner:  owner.Hex(),
		Tokens: tokens,
		Count:  len(tokens),
	})
}

type approveRequest struct {
	Approved string `json:"approved"`
}

// Approve grants transfer rights on the caller's token.
// POST /api/nft/{id}/approve
func (h *NFTHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	approved, ok := parseAddress(w, req.Approved)
	if !ok {
		return
	}

	if err := h.nft.Approve(caller, approved, id); err != nil {
		h.logger.WarnContext(r.Context(), "handler: token approval rejected",
			slog.String("caller", caller.Hex()),
			slog.Uint64("token_id", id),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Transfer moves a token the caller owns or is approved for.
// POST /api/nft/{id}/transfer
func (h *NFTHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, ok := parseAddress(w, req.From)
	if !ok {
		return
	}
	to, ok := parseAddress(w, req.To)
	if !ok {
		return
	}

	if err := h.nft.TransferFrom(r.Context(), caller, from, to, id); err != nil {
		h.logger.WarnContext(r.Context(), "handler: token transfer rejected",
			slog.String("caller", caller.Hex()),
			slog.Uint64("token_id", id),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
