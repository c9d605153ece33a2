package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// TokenService defines the stable token ledger methods the token handler requires.
type TokenService interface {
	Name() string
	Symbol() string
	Decimals() uint8
	TotalSupply() *big.Int
	BalanceOf(account common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Approve(owner, spender common.Address, amount *big.Int) error
	Transfer(from, to common.Address, amount *big.Int) error
	Mint(to common.Address, amount *big.Int) error
}

// AdminChecker gates supply-changing operations on the admin role.
type AdminChecker interface {
	IsAdmin(account common.Address) bool
}

// TokenHandler serves the stable token endpoints.
type TokenHandler struct {
	token  TokenService
	admins AdminChecker
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler with the given service and logger.
func NewTokenHandler(token TokenService, admins AdminChecker, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		token:  token,
		admins: admins,
		logger: logger,
	}
}

type tokenInfoResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
}

// Info returns the stable token metadata and supply.
// GET /api/token
func (h *TokenHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokenInfoResponse{
		Name:        h.token.Name(),
		Symbol:      h.token.Symbol(),
		Decimals:    h.token.Decimals(),
		TotalSupply: h.token.TotalSupply().String(),
	})
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// Balance returns an account's stable token balance.
// GET /api/token/balance/{address}
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: account.Hex(),
		Balance: h.token.BalanceOf(account).String(),
	})
}

type allowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

// AllowanceOf returns the spending allowance an owner has granted.
// GET /api/token/allowance?owner=0x...&spender=0x...
func (h *TokenHandler) AllowanceOf(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.URL.Query().Get("owner"))
	if !ok {
		return
	}
	spender, ok := parseAddress(w, r.URL.Query().Get("spender"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, allowanceResponse{
		Owner:     owner.Hex(),
		Spender:   spender.Hex(),
		Allowance: h.token.Allowance(owner, spender).String(),
	})
}

type approveTokenRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Approve sets the caller's allowance for a spender.
// POST /api/token/approve
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req approveTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	spender, ok := parseAddress(w, req.Spender)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	if err := h.token.Approve(caller, spender, amount); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type transferTokenRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Transfer moves stable tokens from the caller to another account.
// POST /api/token/transfer
func (h *TokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req transferTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, req.To)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	if err := h.token.Transfer(caller, to, amount); err != nil {
		h.logger.WarnContext(r.Context(), "handler: token transfer rejected",
			slog.String("from", caller.Hex()),
			slog.String("to", to.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Mint credits freshly issued stable tokens to an account. Admin-only: the
// simulated token has no bridge backing its supply, so issuance stays with
// the protocol operator.
// POST /api/token/mint
func (h *TokenHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !h.admins.IsAdmin(caller) {
		writeEngineError(w, domain.ErrNotAdmin)
		return
	}

	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, req.To)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	if err := h.token.Mint(to, amount); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, balanceResponse{
		Account: to.Hex(),
		Balance: h.token.BalanceOf(to).String(),
	})
}
