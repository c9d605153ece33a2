package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
	"github.com/simplifi-protocol/simplifi-core/internal/market"
	"github.com/simplifi-protocol/simplifi-core/internal/nft"
	"github.com/simplifi-protocol/simplifi-core/internal/roles"
	"github.com/simplifi-protocol/simplifi-core/internal/token"
)

var (
	deployer   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	cgpAddr    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	clientAddr = common.HexToAddress("0x0000000000000000000000000000000000000003")
	buyerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000004")

	engineAddr = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	routerAddr = common.HexToAddress("0x0000000000000000000000000000000000000e02")
	stableAddr = common.HexToAddress("0x0000000000000000000000000000000000000e03")
	ptAddr     = common.HexToAddress("0x0000000000000000000000000000000000000e04")
)

// testHarness wires a complete in-memory protocol around a single 10% yield,
// one-year market. The client and buyer each start with one million stable
// tokens and a full allowance for the engine.
type testHarness struct {
	engine *Engine
	stable *token.Ledger
	pt     *token.Ledger
	roles  *roles.Registry
	nft    *nft.Registry
	router *market.Router
	now    time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()

	stable := token.NewLedger("Gains USDC", "gUSDC", 6, stableAddr, deployer, new(big.Int))
	pt := token.NewLedger("SimpliFi Principal Token", "PT-gUSDC", 6, ptAddr, deployer, new(big.Int))

	oracle := market.NewOracle()
	require.NoError(t, oracle.SetYield(ptAddr, 10))
	require.NoError(t, oracle.SetDuration(ptAddr, 365*24*time.Hour))

	router := market.NewRouter(routerAddr, stable, pt, oracle)
	require.NoError(t, router.SetTokenToPt(stableAddr, ptAddr))

	reg := roles.NewRegistry(deployer, nil, nil, nil)
	require.NoError(t, reg.AddCGP(ctx, deployer, cgpAddr))
	require.NoError(t, reg.AddClient(ctx, cgpAddr, clientAddr))
	require.NoError(t, reg.AddClient(ctx, cgpAddr, buyerAddr))

	nftReg := nft.NewRegistry(deployer, "QmTest", nil, nil)
	require.NoError(t, nftReg.SetStrategyContract(deployer, engineAddr))

	engine, err := NewEngine(engineAddr, 1000, 500, Deps{
		Roles:  reg,
		Router: router,
		Oracle: oracle,
		NFT:    nftReg,
		Stable: stable,
	})
	require.NoError(t, err)

	h := &testHarness{
		engine: engine,
		stable: stable,
		pt:     pt,
		roles:  reg,
		nft:    nftReg,
		router: router,
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	engine.SetClock(func() time.Time { return h.now })
	router.SetClock(func() time.Time { return h.now })
	nftReg.SetClock(func() time.Time { return h.now })

	million := big.NewInt(1_000_000)
	for _, a := range []common.Address{clientAddr, buyerAddr} {
		require.NoError(t, stable.Mint(a, million))
		require.NoError(t, stable.Approve(a, engineAddr, million))
	}
	return h
}

func (h *testHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *testHarness) enter(t *testing.T, caller common.Address, amount int64) domain.EnterReceipt {
	t.Helper()
	rcpt, err := h.engine.EnterStrategy(context.Background(), caller, big.NewInt(amount))
	require.NoError(t, err)
	return rcpt
}

func TestNewEngineRejectsExcessiveFeePoints(t *testing.T) {
	_, err := NewEngine(engineAddr, 5001, 0, Deps{})
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
	_, err = NewEngine(engineAddr, 0, 5001, Deps{})
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
}

func TestEnterStrategy(t *testing.T) {
	h := newHarness(t)
	rcpt := h.enter(t, clientAddr, 900)

	// 10% yield: rate 0.9, so 900 stable buys 1000 principal tokens.
	assert.Equal(t, uint64(0), rcpt.PositionID)
	assert.Equal(t, uint64(1), rcpt.TokenID)
	assert.Equal(t, big.NewInt(1000), rcpt.PTReceived)
	assert.Equal(t, h.now, rcpt.EntryDate)
	assert.Equal(t, h.now.Add(365*24*time.Hour), rcpt.MaturityDate)

	assert.Equal(t, big.NewInt(999_100), h.stable.BalanceOf(clientAddr))
	assert.Equal(t, big.NewInt(1000), h.pt.BalanceOf(engineAddr))
	assert.Equal(t, big.NewInt(900), h.stable.BalanceOf(routerAddr))

	pos, err := h.engine.AllPositions(0)
	require.NoError(t, err)
	assert.Equal(t, clientAddr, pos.Owner)
	assert.True(t, pos.Active)
	assert.Equal(t, big.NewInt(900), pos.Principal)
	// Expected yield 100, split 10% protocol / 5% CGP.
	assert.Equal(t, big.NewInt(10), pos.ProtocolFee)
	assert.Equal(t, big.NewInt(5), pos.CGPFee)
	assert.Equal(t, cgpAddr, pos.CGP)

	owner, err := h.nft.OwnerOf(rcpt.TokenID)
	require.NoError(t, err)
	assert.Equal(t, clientAddr, owner)

	assert.Equal(t, 1, h.engine.PositionCount())
	assert.Equal(t, 1, h.engine.GetAllActivePositionsCount())
}

func TestEnterStrategyValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.EnterStrategy(ctx, cgpAddr, big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrNotClient)

	_, err = h.engine.EnterStrategy(ctx, clientAddr, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = h.engine.EnterStrategy(ctx, clientAddr, nil)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	// Overdrawing the allowance leaves the client's balance untouched.
	_, err = h.engine.EnterStrategy(ctx, clientAddr, big.NewInt(2_000_000))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.Equal(t, big.NewInt(1_000_000), h.stable.BalanceOf(clientAddr))
}

func TestExitStrategy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)

	_, err := h.engine.ExitStrategy(ctx, clientAddr, rcpt.PositionID)
	assert.ErrorIs(t, err, domain.ErrNotMature)

	h.advance(365 * 24 * time.Hour)

	_, err = h.engine.ExitStrategy(ctx, buyerAddr, rcpt.PositionID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = h.engine.ExitStrategy(ctx, clientAddr, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	exit, err := h.engine.ExitStrategy(ctx, clientAddr, rcpt.PositionID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(900), exit.InitialAmount)
	assert.Equal(t, big.NewInt(1000), exit.FinalAmount)
	assert.Equal(t, big.NewInt(100), exit.YieldEarned)
	assert.Equal(t, big.NewInt(985), exit.Payout)
	assert.Equal(t, big.NewInt(10), exit.ProtocolFee)
	assert.Equal(t, big.NewInt(5), exit.CGPFee)

	// The client nets 85 on the year; custody retains exactly the fees.
	assert.Equal(t, big.NewInt(1_000_085), h.stable.BalanceOf(clientAddr))
	assert.Equal(t, big.NewInt(15), h.stable.BalanceOf(engineAddr))
	assert.Equal(t, big.NewInt(0), h.pt.BalanceOf(engineAddr))

	pos, err := h.engine.AllPositions(rcpt.PositionID)
	require.NoError(t, err)
	assert.False(t, pos.Active)
	assert.Equal(t, h.now, pos.ExitDate)
	assert.Equal(t, 0, h.engine.GetAllActivePositionsCount())

	_, err = h.nft.OwnerOf(rcpt.TokenID)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = h.engine.ExitStrategy(ctx, clientAddr, rcpt.PositionID)
	assert.ErrorIs(t, err, domain.ErrPositionNotActive)
}

func TestFeeLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)

	pf := h.engine.GetProtocolFees()
	assert.Equal(t, big.NewInt(10), pf.NonMatured)
	assert.Equal(t, big.NewInt(0), pf.MaturedNonWithdrawn)
	cf := h.engine.GetCGPFees(cgpAddr)
	assert.Equal(t, big.NewInt(5), cf.NonMatured)

	// Nothing to withdraw while the position is open.
	_, err := h.engine.WithdrawProtocolFees(ctx, deployer)
	assert.ErrorIs(t, err, domain.ErrNoFees)
	_, err = h.engine.WithdrawCGPFees(ctx, cgpAddr)
	assert.ErrorIs(t, err, domain.ErrNoFees)

	h.advance(365 * 24 * time.Hour)
	_, err = h.engine.ExitStrategy(ctx, clientAddr, rcpt.PositionID)
	require.NoError(t, err)

	pf = h.engine.GetProtocolFees()
	assert.Equal(t, big.NewInt(0), pf.NonMatured)
	assert.Equal(t, big.NewInt(10), pf.MaturedNonWithdrawn)

	_, err = h.engine.WithdrawProtocolFees(ctx, clientAddr)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)
	_, err = h.engine.WithdrawCGPFees(ctx, clientAddr)
	assert.ErrorIs(t, err, domain.ErrNotCGP)

	amount, err := h.engine.WithdrawProtocolFees(ctx, deployer)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), amount)
	assert.Equal(t, big.NewInt(10), h.stable.BalanceOf(deployer))

	amount, err = h.engine.WithdrawCGPFees(ctx, cgpAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), amount)
	assert.Equal(t, big.NewInt(5), h.stable.BalanceOf(cgpAddr))
	assert.Equal(t, big.NewInt(0), h.stable.BalanceOf(engineAddr))

	pf = h.engine.GetProtocolFees()
	assert.Equal(t, big.NewInt(0), pf.MaturedNonWithdrawn)
	assert.Equal(t, big.NewInt(10), pf.Withdrawn)
	assert.Equal(t, big.NewInt(10), pf.Total())

	// A second withdrawal finds nothing.
	_, err = h.engine.WithdrawProtocolFees(ctx, deployer)
	assert.ErrorIs(t, err, domain.ErrNoFees)
}

func TestGetCGPFeesUnknownReferrer(t *testing.T) {
	h := newHarness(t)
	bucket := h.engine.GetCGPFees(common.HexToAddress("0xdead"))
	assert.Equal(t, big.NewInt(0), bucket.Total())
}

func TestUpdateFeePoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)

	assert.ErrorIs(t, h.engine.UpdateFeePoints(ctx, cgpAddr, 100, 100), domain.ErrNotAdmin)
	assert.ErrorIs(t, h.engine.UpdateFeePoints(ctx, deployer, 5001, 0), domain.ErrFeeTooHigh)

	require.NoError(t, h.engine.UpdateFeePoints(ctx, deployer, 2000, 1000))
	p, c := h.engine.FeePoints()
	assert.Equal(t, uint64(2000), p)
	assert.Equal(t, uint64(1000), c)

	// Open positions keep their entry-time fees.
	pos, err := h.engine.AllPositions(rcpt.PositionID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), pos.ProtocolFee)

	// New entries pick up the new shares: yield 100 at 20%/10%.
	rcpt2 := h.enter(t, buyerAddr, 900)
	pos2, err := h.engine.AllPositions(rcpt2.PositionID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(20), pos2.ProtocolFee)
	assert.Equal(t, big.NewInt(10), pos2.CGPFee)
}

func TestMarketplaceListCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)
	id := rcpt.PositionID

	err := h.engine.ListNFTForSale(ctx, clientAddr, id, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrZeroPrice)
	err = h.engine.ListNFTForSale(ctx, buyerAddr, id, big.NewInt(950))
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	require.NoError(t, h.engine.ListNFTForSale(ctx, clientAddr, id, big.NewInt(950)))
	err = h.engine.ListNFTForSale(ctx, clientAddr, id, big.NewInt(960))
	assert.ErrorIs(t, err, domain.ErrAlreadyListed)

	l := h.engine.NFTSales(id)
	assert.True(t, l.IsListed)
	assert.Equal(t, big.NewInt(950), l.Price)
	assert.Len(t, h.engine.ActiveListings(), 1)

	err = h.engine.CancelNFTSale(ctx, buyerAddr, id)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	require.NoError(t, h.engine.CancelNFTSale(ctx, clientAddr, id))
	assert.False(t, h.engine.NFTSales(id).IsListed)
	assert.Empty(t, h.engine.ActiveListings())

	err = h.engine.CancelNFTSale(ctx, clientAddr, id)
	assert.ErrorIs(t, err, domain.ErrNotListed)
}

func TestMarketplaceBuy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)
	id := rcpt.PositionID

	err := h.engine.BuyNFT(ctx, buyerAddr, id)
	assert.ErrorIs(t, err, domain.ErrNotListed)

	require.NoError(t, h.engine.ListNFTForSale(ctx, clientAddr, id, big.NewInt(950)))
	err = h.engine.BuyNFT(ctx, clientAddr, id)
	assert.ErrorIs(t, err, domain.ErrSelfTarget)

	require.NoError(t, h.engine.BuyNFT(ctx, buyerAddr, id))

	// Price moves buyer to seller, the NFT and position follow.
	assert.Equal(t, big.NewInt(1_000_050), h.stable.BalanceOf(clientAddr))
	assert.Equal(t, big.NewInt(999_050), h.stable.BalanceOf(buyerAddr))
	owner, err := h.nft.OwnerOf(rcpt.TokenID)
	require.NoError(t, err)
	assert.Equal(t, buyerAddr, owner)

	pos, err := h.engine.AllPositions(id)
	require.NoError(t, err)
	assert.Equal(t, buyerAddr, pos.Owner)
	assert.False(t, h.engine.NFTSales(id).IsListed)

	// Entry-time fee attribution survives the sale: the CGP still earns
	// when the new owner exits.
	h.advance(365 * 24 * time.Hour)
	exit, err := h.engine.ExitStrategy(ctx, buyerAddr, id)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(985), exit.Payout)
	assert.Equal(t, big.NewInt(5), h.engine.GetCGPFees(cgpAddr).MaturedNonWithdrawn)
}

func TestExitClearsListing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)

	require.NoError(t, h.engine.ListNFTForSale(ctx, clientAddr, rcpt.PositionID, big.NewInt(950)))
	h.advance(365 * 24 * time.Hour)
	_, err := h.engine.ExitStrategy(ctx, clientAddr, rcpt.PositionID)
	require.NoError(t, err)

	assert.False(t, h.engine.NFTSales(rcpt.PositionID).IsListed)
	err = h.engine.BuyNFT(ctx, buyerAddr, rcpt.PositionID)
	assert.ErrorIs(t, err, domain.ErrNotListed)
}

func TestDirectTokenTransferMovesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcpt := h.enter(t, clientAddr, 900)

	// List first, then move the token outside the marketplace.
	require.NoError(t, h.engine.ListNFTForSale(ctx, clientAddr, rcpt.PositionID, big.NewInt(950)))
	require.NoError(t, h.nft.TransferFrom(ctx, clientAddr, clientAddr, buyerAddr, rcpt.TokenID))

	// Ownership follows the token everywhere.
	holder, err := h.nft.OwnerOf(rcpt.TokenID)
	require.NoError(t, err)
	pos, err := h.engine.AllPositions(rcpt.PositionID)
	require.NoError(t, err)
	assert.Equal(t, holder, pos.Owner)
	assert.Equal(t, buyerAddr, pos.Owner)
	assert.Empty(t, h.engine.GetUserPositions(clientAddr))
	require.Len(t, h.engine.GetUserPositions(buyerAddr), 1)

	// The previous holder's listing died with the transfer.
	err = h.engine.BuyNFT(ctx, clientAddr, rcpt.PositionID)
	assert.ErrorIs(t, err, domain.ErrNotListed)
	assert.False(t, h.engine.NFTSales(rcpt.PositionID).IsListed)

	h.advance(365 * 24 * time.Hour)

	// The previous holder cannot settle a position it no longer holds.
	_, err = h.engine.ExitStrategy(ctx, clientAddr, rcpt.PositionID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	exit, err := h.engine.ExitStrategy(ctx, buyerAddr, rcpt.PositionID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(985), exit.Payout)
	assert.Equal(t, big.NewInt(1_000_985), h.stable.BalanceOf(buyerAddr))
}

func TestPositionQueries(t *testing.T) {
	h := newHarness(t)
	r1 := h.enter(t, clientAddr, 900)
	h.enter(t, buyerAddr, 1800)
	r3 := h.enter(t, clientAddr, 90)

	assert.Equal(t, 3, h.engine.PositionCount())
	assert.Equal(t, 3, h.engine.GetAllActivePositionsCount())

	mine := h.engine.GetUserPositions(clientAddr)
	require.Len(t, mine, 2)
	assert.Equal(t, r1.PositionID, mine[0].ID)
	assert.Equal(t, r3.PositionID, mine[1].ID)

	_, err := h.engine.AllPositions(3)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Query results are copies, not views into the arena.
	mine[0].Principal.SetInt64(0)
	pos, err := h.engine.AllPositions(r1.PositionID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(900), pos.Principal)
}

func TestStrategyDetails(t *testing.T) {
	h := newHarness(t)
	d, err := h.engine.GetStrategyDetails()
	require.NoError(t, err)
	assert.Equal(t, stableAddr, d.UnderlyingToken)
	assert.Equal(t, uint64(10), d.CurrentYield)
	assert.Equal(t, 365*24*time.Hour, d.Duration)

	want := new(big.Int).Sub(market.Scale, new(big.Int).Div(market.Scale, big.NewInt(10)))
	assert.Equal(t, want, d.Rate)
}
