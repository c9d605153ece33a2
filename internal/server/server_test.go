package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplifi-protocol/simplifi-core/internal/ledger"
	"github.com/simplifi-protocol/simplifi-core/internal/market"
	"github.com/simplifi-protocol/simplifi-core/internal/nft"
	"github.com/simplifi-protocol/simplifi-core/internal/roles"
	"github.com/simplifi-protocol/simplifi-core/internal/server/handler"
	"github.com/simplifi-protocol/simplifi-core/internal/token"
)

var (
	deployer = common.HexToAddress("0x0000000000000000000000000000000000000001")
	cgp      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	client   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000004")
	outsider = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	engineAddr = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	routerAddr = common.HexToAddress("0x0000000000000000000000000000000000000e02")
	stableAddr = common.HexToAddress("0x0000000000000000000000000000000000000e03")
	ptAddr     = common.HexToAddress("0x0000000000000000000000000000000000000e04")
)

// api is a fully wired in-memory protocol behind the real route table and
// middleware chain.
type api struct {
	h      http.Handler
	engine *ledger.Engine
	stable *token.Ledger
	now    time.Time
}

func newAPI(t *testing.T, apiKey string) *api {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	stable := token.NewLedger("Gains USDC", "gUSDC", 6, stableAddr, deployer, new(big.Int))
	pt := token.NewLedger("SimpliFi Principal Token", "PT-gUSDC", 6, ptAddr, deployer, new(big.Int))

	oracle := market.NewOracle()
	require.NoError(t, oracle.SetYield(ptAddr, 10))
	require.NoError(t, oracle.SetDuration(ptAddr, 365*24*time.Hour))
	router := market.NewRouter(routerAddr, stable, pt, oracle)
	require.NoError(t, router.SetTokenToPt(stableAddr, ptAddr))

	reg := roles.NewRegistry(deployer, nil, nil, logger)
	nftReg := nft.NewRegistry(deployer, "QmTest", nil, logger)
	require.NoError(t, nftReg.SetStrategyContract(deployer, engineAddr))

	engine, err := ledger.NewEngine(engineAddr, 1000, 500, ledger.Deps{
		Roles:  reg,
		Router: router,
		Oracle: oracle,
		NFT:    nftReg,
		Stable: stable,
		Logger: logger,
	})
	require.NoError(t, err)

	a := &api{
		engine: engine,
		stable: stable,
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	engine.SetClock(func() time.Time { return a.now })
	router.SetClock(func() time.Time { return a.now })
	nftReg.SetClock(func() time.Time { return a.now })

	handlers := Handlers{
		Health:      handler.NewHealthHandler(logger),
		Status:      handler.NewStatusHandler("server", a.now, engine.GetAllActivePositionsCount),
		Token:       handler.NewTokenHandler(stable, reg, logger),
		Roles:       handler.NewRoleHandler(reg, logger),
		Strategy:    handler.NewStrategyHandler(engine, logger),
		Positions:   handler.NewPositionHandler(engine, logger),
		Fees:        handler.NewFeeHandler(engine, logger),
		Marketplace: handler.NewMarketplaceHandler(engine, logger),
		NFT:         handler.NewNFTHandler(nftReg, logger),
	}
	srv := NewServer(Config{Port: 0, APIKey: apiKey}, handlers, nil, logger)
	a.h = srv.httpServer.Handler
	return a
}

// do issues one request through the full middleware chain. A zero caller
// omits the X-Caller-Address header.
func (a *api) do(t *testing.T, method, path string, caller common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != (common.Address{}) {
		req.Header.Set("X-Caller-Address", caller.Hex())
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// onboard registers the CGP and its clients, funds them, and grants the
// engine a spending allowance.
func (a *api) onboard(t *testing.T) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/roles/cgps", deployer, map[string]string{"account": cgp.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range []common.Address{client, buyer} {
		rec = a.do(t, http.MethodPost, "/api/roles/clients", cgp, map[string]string{"account": c.Hex()})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = a.do(t, http.MethodPost, "/api/token/mint", deployer, map[string]string{
			"to": c.Hex(), "amount": "1000000",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		rec = a.do(t, http.MethodPost, "/api/token/approve", c, map[string]string{
			"spender": engineAddr.Hex(), "amount": "1000000",
		})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	}
}

func TestHealthAndStatus(t *testing.T) {
	a := newAPI(t, "")

	rec := a.do(t, http.MethodGet, "/api/health", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "simplifi-core", body["service"])

	rec = a.do(t, http.MethodGet, "/api/status", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, "server", status["mode"])
	assert.Equal(t, float64(0), status["active_positions"])
}

func TestAuthMiddleware(t *testing.T) {
	a := newAPI(t, "topsecret")

	rec := a.do(t, http.MethodGet, "/api/token", common.Address{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/token", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/token", nil)
	req.Header.Set("X-API-Key", "topsecret")
	w = httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/token", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	w = httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallerHeaderValidation(t *testing.T) {
	a := newAPI(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/token", nil)
	req.Header.Set("X-Caller-Address", "not-an-address")
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Mutating endpoints require the header.
	rec2 := a.do(t, http.MethodPost, "/api/strategy/enter", common.Address{}, map[string]string{"amount": "100"})
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "X-Caller-Address")
}

func TestCORSPreflight(t *testing.T) {
	a := newAPI(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Caller-Address")
}

func TestTokenEndpoints(t *testing.T) {
	a := newAPI(t, "")

	rec := a.do(t, http.MethodGet, "/api/token", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "gUSDC", info["symbol"])
	assert.Equal(t, "0", info["total_supply"])

	// Issuance is admin-only.
	rec = a.do(t, http.MethodPost, "/api/token/mint", outsider, map[string]string{
		"to": client.Hex(), "amount": "500",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/token/mint", deployer, map[string]string{
		"to": client.Hex(), "amount": "500",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/token/balance/"+client.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[map[string]string](t, rec)
	assert.Equal(t, "500", bal["balance"])

	rec = a.do(t, http.MethodPost, "/api/token/transfer", client, map[string]string{
		"to": buyer.Hex(), "amount": "200",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Overdraft maps to 409.
	rec = a.do(t, http.MethodPost, "/api/token/transfer", client, map[string]string{
		"to": buyer.Hex(), "amount": "10000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/token/approve", client, map[string]string{
		"spender": buyer.Hex(), "amount": "50",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/token/allowance?owner="+client.Hex()+"&spender="+buyer.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	allowance := decode[map[string]string](t, rec)
	assert.Equal(t, "50", allowance["allowance"])

	rec = a.do(t, http.MethodGet, "/api/token/balance/garbage", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoleEndpoints(t *testing.T) {
	a := newAPI(t, "")
	a.onboard(t)

	rec := a.do(t, http.MethodGet, "/api/roles/"+deployer.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode[map[string]any](t, rec)
	assert.Equal(t, "ADMIN", r["label"])

	rec = a.do(t, http.MethodGet, "/api/roles/"+client.Hex(), common.Address{}, nil)
	r = decode[map[string]any](t, rec)
	assert.Equal(t, "CLIENT", r["label"])

	// Only admins grant the referrer role.
	rec = a.do(t, http.MethodPost, "/api/roles/cgps", outsider, map[string]string{"account": buyer.Hex()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/roles/cgps", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cgps := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), cgps["count"])

	rec = a.do(t, http.MethodGet, "/api/roles/cgps/"+cgp.Hex()+"/stats", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), stats["client_count"])
	assert.Equal(t, float64(2), stats["active_clients"])

	rec = a.do(t, http.MethodGet, "/api/roles/clients/"+client.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Stats for a non-CGP address is a 404.
	rec = a.do(t, http.MethodGet, "/api/roles/cgps/"+outsider.Hex()+"/stats", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A CGP cannot remove someone else's client.
	rec = a.do(t, http.MethodDelete, "/api/roles/clients", deployer, map[string]string{"account": client.Hex()})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStrategyLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t, "")
	a.onboard(t)

	rec := a.do(t, http.MethodGet, "/api/strategy/details", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[map[string]any](t, rec)
	assert.Equal(t, float64(10), details["current_yield"])

	// Non-clients cannot enter.
	rec = a.do(t, http.MethodPost, "/api/strategy/enter", outsider, map[string]string{"amount": "900"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/strategy/enter", client, map[string]string{"amount": "900"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[map[string]any](t, rec)
	assert.Equal(t, float64(0), receipt["position_id"])
	assert.Equal(t, float64(1), receipt["token_id"])

	rec = a.do(t, http.MethodGet, "/api/positions/count", common.Address{}, nil)
	counts := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), counts["total"])
	assert.Equal(t, float64(1), counts["active"])

	rec = a.do(t, http.MethodGet, "/api/positions?owner="+client.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), positions["count"])

	rec = a.do(t, http.MethodGet, "/api/positions/99", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Exit before maturity conflicts.
	rec = a.do(t, http.MethodPost, "/api/strategy/0/exit", client, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	a.now = a.now.Add(365 * 24 * time.Hour)
	rec = a.do(t, http.MethodPost, "/api/strategy/0/exit", client, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exit := decode[map[string]any](t, rec)
	assert.Equal(t, "985", exit["payout"])

	rec = a.do(t, http.MethodGet, "/api/positions/count", common.Address{}, nil)
	counts = decode[map[string]any](t, rec)
	assert.Equal(t, float64(0), counts["active"])
}

func TestFeeEndpoints(t *testing.T) {
	a := newAPI(t, "")
	a.onboard(t)

	rec := a.do(t, http.MethodGet, "/api/fees/points", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	points := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1000), points["protocol_fee_points"])
	assert.Equal(t, float64(500), points["cgp_fee_points"])

	rec = a.do(t, http.MethodPut, "/api/fees/points", outsider, map[string]uint64{
		"protocol_fee_points": 100, "cgp_fee_points": 100,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodPut, "/api/fees/points", deployer, map[string]uint64{
		"protocol_fee_points": 6000, "cgp_fee_points": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodPut, "/api/fees/points", deployer, map[string]uint64{
		"protocol_fee_points": 2000, "cgp_fee_points": 1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Full cycle so fees mature, then withdraw.
	rec = a.do(t, http.MethodPost, "/api/strategy/enter", client, map[string]string{"amount": "900"})
	require.Equal(t, http.StatusCreated, rec.Code)
	a.now = a.now.Add(365 * 24 * time.Hour)
	rec = a.do(t, http.MethodPost, "/api/strategy/0/exit", client, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/fees/protocol", common.Address{}, nil)
	bucket := decode[map[string]string](t, rec)
	assert.Equal(t, "20", bucket["matured_non_withdrawn"])

	rec = a.do(t, http.MethodGet, "/api/fees/cgp/"+cgp.Hex(), common.Address{}, nil)
	bucket = decode[map[string]string](t, rec)
	assert.Equal(t, "10", bucket["matured_non_withdrawn"])

	rec = a.do(t, http.MethodPost, "/api/fees/protocol/withdraw", outsider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodPost, "/api/fees/protocol/withdraw", deployer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	withdrawn := decode[map[string]string](t, rec)
	assert.Equal(t, "20", withdrawn["amount"])

	rec = a.do(t, http.MethodPost, "/api/fees/cgp/withdraw", cgp, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Nothing left: 409.
	rec = a.do(t, http.MethodPost, "/api/fees/protocol/withdraw", deployer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarketplaceEndpoints(t *testing.T) {
	a := newAPI(t, "")
	a.onboard(t)

	rec := a.do(t, http.MethodPost, "/api/strategy/enter", client, map[string]string{"amount": "900"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/marketplace/listings", common.Address{}, nil)
	listings := decode[map[string]any](t, rec)
	assert.Equal(t, float64(0), listings["count"])

	rec = a.do(t, http.MethodPost, "/api/marketplace/listings/0", client, map[string]string{"price": "950"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	listing := decode[map[string]any](t, rec)
	assert.Equal(t, true, listing["is_listed"])

	rec = a.do(t, http.MethodPost, "/api/marketplace/listings/0", client, map[string]string{"price": "960"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/marketplace/listings/0/buy", client, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/marketplace/listings/0/buy", buyer, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/positions/0", common.Address{}, nil)
	pos := decode[map[string]any](t, rec)
	assert.Equal(t, buyer.Hex(), common.HexToAddress(pos["owner"].(string)).Hex())

	// Sold listings disappear.
	rec = a.do(t, http.MethodGet, "/api/marketplace/listings/0", common.Address{}, nil)
	listing = decode[map[string]any](t, rec)
	assert.Equal(t, false, listing["is_listed"])

	rec = a.do(t, http.MethodDelete, "/api/marketplace/listings/0", buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNFTEndpoints(t *testing.T) {
	a := newAPI(t, "")
	a.onboard(t)

	rec := a.do(t, http.MethodGet, "/api/nft", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	coll := decode[map[string]any](t, rec)
	assert.Equal(t, "SimpliFi Strategies", coll["name"])
	assert.Equal(t, "SFNFT", coll["symbol"])

	rec = a.do(t, http.MethodPost, "/api/strategy/enter", client, map[string]string{"amount": "900"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/nft/1", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), tok["token_id"])
	assert.Contains(t, tok["uri"], "data:application/json;base64,")

	rec = a.do(t, http.MethodGet, "/api/nft/owner/"+client.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/nft/42", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
