// Package ledger implements the strategy position engine: entries and exits
// against the principal-token market, the three-stage fee accumulators, and
// the secondary marketplace for position NFTs. The engine is the in-memory
// source of truth; the position and fee stores mirror it for durability and
// the signal bus carries one event per successful mutation.
package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
	"github.com/simplifi-protocol/simplifi-core/internal/market"
	"github.com/simplifi-protocol/simplifi-core/internal/nft"
	"github.com/simplifi-protocol/simplifi-core/internal/roles"
	"github.com/simplifi-protocol/simplifi-core/internal/token"
)

const (
	// maxFeePoints caps each fee share at 50% of realized yield.
	maxFeePoints = 5000
	bpsDenom     = 10000

	protocolScope = "protocol"
)

// Engine is the strategy position ledger. Positions live in an append-only
// arena indexed by position ID; closed positions stay in place with
// Active=false so historical indexes remain stable. The engine's custody
// account holds swapped-in principal tokens and accrued fees.
type Engine struct {
	mu sync.RWMutex

	address common.Address // custody account
	roles   *roles.Registry
	router  *market.Router
	oracle  *market.Oracle
	nft     *nft.Registry
	stable  *token.Ledger

	positions   []*domain.Position
	activeCount int

	protocolFeePoints uint64
	cgpFeePoints      uint64
	protocolFees      domain.FeeBucket
	cgpFees           map[common.Address]domain.FeeBucket

	listings map[uint64]domain.Listing

	posStore domain.PositionStore
	feeStore domain.FeeStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	logger   *slog.Logger
	now      func() time.Time
}

// Deps bundles the engine's collaborators. Stores, audit and bus may be nil;
// the engine then runs purely in memory.
type Deps struct {
	Roles    *roles.Registry
	Router   *market.Router
	Oracle   *market.Oracle
	NFT      *nft.Registry
	Stable   *token.Ledger
	PosStore domain.PositionStore
	FeeStore domain.FeeStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Logger   *slog.Logger
}

// NewEngine creates the engine with the given custody address and initial
// fee points. Fee points above the cap are rejected.
func NewEngine(address common.Address, protocolFeePoints, cgpFeePoints uint64, deps Deps) (*Engine, error) {
	if protocolFeePoints > maxFeePoints || cgpFeePoints > maxFeePoints {
		return nil, domain.ErrFeeTooHigh
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		address:           address,
		roles:             deps.Roles,
		router:            deps.Router,
		oracle:            deps.Oracle,
		nft:               deps.NFT,
		stable:            deps.Stable,
		protocolFeePoints: protocolFeePoints,
		cgpFeePoints:      cgpFeePoints,
		protocolFees:      domain.NewFeeBucket(),
		cgpFees:           make(map[common.Address]domain.FeeBucket),
		listings:          make(map[uint64]domain.Listing),
		posStore:          deps.PosStore,
		feeStore:          deps.FeeStore,
		audit:             deps.Audit,
		bus:               deps.Bus,
		logger:            logger.With(slog.String("component", "ledger")),
		now:               time.Now,
	}, nil
}

// SetClock overrides the engine clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Address returns the engine's custody account. Clients grant this address
// the stable-token allowance consumed by EnterStrategy and BuyNFT.
func (e *Engine) Address() common.Address { return e.address }

// EnterStrategy deposits amount of the stable token for caller, swaps it
// into principal tokens and mints the position NFT. Fees on the fixed yield
// are computed at entry and accrue as non-matured.
func (e *Engine) EnterStrategy(ctx context.Context, caller common.Address, amount *big.Int) (domain.EnterReceipt, error) {
	if !e.roles.IsClient(caller) {
		return domain.EnterReceipt{}, domain.ErrNotClient
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.EnterReceipt{}, domain.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pull the deposit into custody, then route it through the market.
	if err := e.stable.TransferFrom(e.address, caller, e.address, amount); err != nil {
		return domain.EnterReceipt{}, err
	}
	if err := e.stable.Approve(e.address, e.router.Address(), amount); err != nil {
		return domain.EnterReceipt{}, err
	}
	ptAmount, maturity, err := e.router.SwapExactTokenForPt(e.address, e.stable.Address(), amount)
	if err != nil {
		return domain.EnterReceipt{}, err
	}

	now := e.now().UTC()
	id := uint64(len(e.positions))

	// The market's fixed yield is known at entry, so both fee amounts are
	// locked in now and never recomputed.
	expectedYield := new(big.Int).Sub(ptAmount, amount)
	protocolFee := feeShare(expectedYield, e.protocolFeePoints)
	cgpFee := new(big.Int)
	cgp, err := e.roles.GetClientCGP(caller)
	if err == nil && cgp != (common.Address{}) {
		cgpFee = feeShare(expectedYield, e.cgpFeePoints)
	} else {
		cgp = common.Address{}
	}

	ptAddr, err := e.router.PtFor(e.stable.Address())
	if err != nil {
		return domain.EnterReceipt{}, err
	}
	duration, err := e.oracle.GetDuration(ptAddr)
	if err != nil {
		return domain.EnterReceipt{}, err
	}

	tokenID, err := e.nft.MintStrategyNFT(ctx, e.address, caller, amount, duration, 1)
	if err != nil {
		return domain.EnterReceipt{}, err
	}

	pos := &domain.Position{
		ID:           id,
		Owner:        caller,
		Principal:    new(big.Int).Set(amount),
		PTAmount:     ptAmount,
		EntryDate:    now,
		MaturityDate: maturity,
		Active:       true,
		ProtocolFee:  protocolFee,
		CGPFee:       cgpFee,
		CGP:          cgp,
		StrategyType: 1,
	}
	e.positions = append(e.positions, pos)
	e.activeCount++

	e.protocolFees.Accrue(protocolFee)
	if cgp != (common.Address{}) {
		bucket, ok := e.cgpFees[cgp]
		if !ok {
			bucket = domain.NewFeeBucket()
			e.cgpFees[cgp] = bucket
		}
		bucket.Accrue(cgpFee)
		e.persistFees(ctx, cgp.Hex(), bucket)
	}
	e.persistFees(ctx, protocolScope, e.protocolFees)
	e.persistCreate(ctx, *pos)

	e.emit(ctx, domain.ChannelPositions, domain.EventStrategyEntered, map[string]any{
		"position_id": id,
		"token_id":    tokenID,
		"owner":       caller.Hex(),
		"amount":      amount.String(),
		"pt_amount":   ptAmount.String(),
		"maturity":    maturity.Unix(),
	})
	e.emit(ctx, domain.ChannelFees, domain.EventPendingFeesUpdated, map[string]any{
		"position_id":  id,
		"protocol_fee": protocolFee.String(),
		"cgp_fee":      cgpFee.String(),
		"cgp":          cgp.Hex(),
	})

	return domain.EnterReceipt{
		PositionID:   id,
		TokenID:      tokenID,
		Amount:       new(big.Int).Set(amount),
		PTReceived:   new(big.Int).Set(ptAmount),
		EntryDate:    now,
		MaturityDate: maturity,
	}, nil
}

// ExitStrategy redeems a matured position: principal tokens are redeemed at
// the market, entry-time fees are reclassified as matured, and the remainder
// is paid to the position owner. The position NFT is burned and any open
// listing is cleared.
func (e *Engine) ExitStrategy(ctx context.Context, caller common.Address, positionID uint64) (domain.ExitReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.positionLocked(positionID)
	if err != nil {
		return domain.ExitReceipt{}, err
	}
	e.syncOwnerLocked(ctx, pos)
	if pos.Owner != caller {
		return domain.ExitReceipt{}, domain.ErrNotOwner
	}
	if !pos.Active {
		return domain.ExitReceipt{}, domain.ErrPositionNotActive
	}
	now := e.now().UTC()
	if now.Before(pos.MaturityDate) {
		return domain.ExitReceipt{}, domain.ErrNotMature
	}

	final, err := e.router.RedeemPyToToken(e.address, e.stable.Address(), pos.PTAmount, pos.MaturityDate)
	if err != nil {
		return domain.ExitReceipt{}, err
	}

	yield := new(big.Int).Sub(final, pos.Principal)
	payout := new(big.Int).Sub(final, pos.ProtocolFee)
	payout.Sub(payout, pos.CGPFee)

	if err := e.stable.Transfer(e.address, caller, payout); err != nil {
		return domain.ExitReceipt{}, err
	}

	pos.Active = false
	pos.ExitDate = now
	e.activeCount--

	e.protocolFees.Mature(pos.ProtocolFee)
	if pos.CGP != (common.Address{}) {
		bucket := e.cgpFees[pos.CGP]
		bucket.Mature(pos.CGPFee)
		e.persistFees(ctx, pos.CGP.Hex(), bucket)
	}
	e.persistFees(ctx, protocolScope, e.protocolFees)

	delete(e.listings, positionID)

	if err := e.nft.Burn(ctx, e.address, positionID+1); err != nil {
		e.logger.WarnContext(ctx, "burn position token failed",
			slog.Uint64("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
	e.persistUpdate(ctx, *pos)

	e.emit(ctx, domain.ChannelPositions, domain.EventStrategyExited, map[string]any{
		"position_id":  positionID,
		"owner":        caller.Hex(),
		"final_amount": final.String(),
		"payout":       payout.String(),
		"yield":        yield.String(),
	})
	e.emit(ctx, domain.ChannelFees, domain.EventFeesCollected, map[string]any{
		"position_id":  positionID,
		"protocol_fee": pos.ProtocolFee.String(),
		"cgp_fee":      pos.CGPFee.String(),
		"cgp":          pos.CGP.Hex(),
	})

	return domain.ExitReceipt{
		PositionID:    positionID,
		InitialAmount: new(big.Int).Set(pos.Principal),
		FinalAmount:   final,
		YieldEarned:   yield,
		Payout:        payout,
		ProtocolFee:   new(big.Int).Set(pos.ProtocolFee),
		CGPFee:        new(big.Int).Set(pos.CGPFee),
	}, nil
}

// WithdrawProtocolFees pays the matured protocol fees out of custody to the
// calling admin and marks them withdrawn.
func (e *Engine) WithdrawProtocolFees(ctx context.Context, caller common.Address) (*big.Int, error) {
	if !e.roles.IsAdmin(caller) {
		return nil, domain.ErrNotAdmin
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.protocolFees.MaturedNonWithdrawn.Sign() == 0 {
		return nil, domain.ErrNoFees
	}
	amount := e.protocolFees.Withdraw()
	if err := e.stable.Transfer(e.address, caller, amount); err != nil {
		return nil, err
	}
	e.persistFees(ctx, protocolScope, e.protocolFees)

	e.emit(ctx, domain.ChannelFees, domain.EventProtocolFeesWithdrawn, map[string]any{
		"admin":  caller.Hex(),
		"amount": amount.String(),
	})
	return amount, nil
}

// WithdrawCGPFees pays the calling referrer's matured fees out of custody
// and marks them withdrawn.
func (e *Engine) WithdrawCGPFees(ctx context.Context, caller common.Address) (*big.Int, error) {
	if !e.roles.IsCGP(caller) {
		return nil, domain.ErrNotCGP
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bucket, ok := e.cgpFees[caller]
	if !ok || bucket.MaturedNonWithdrawn.Sign() == 0 {
		return nil, domain.ErrNoFees
	}
	amount := bucket.Withdraw()
	if err := e.stable.Transfer(e.address, caller, amount); err != nil {
		return nil, err
	}
	e.persistFees(ctx, caller.Hex(), bucket)

	e.emit(ctx, domain.ChannelFees, domain.EventCGPFeesWithdrawn, map[string]any{
		"cgp":    caller.Hex(),
		"amount": amount.String(),
	})
	return amount, nil
}

// UpdateFeePoints changes the fee shares applied to future entries. Admin
// only; open positions keep their entry-time fees.
func (e *Engine) UpdateFeePoints(ctx context.Context, caller common.Address, protocolFeePoints, cgpFeePoints uint64) error {
	if !e.roles.IsAdmin(caller) {
		return domain.ErrNotAdmin
	}
	if protocolFeePoints > maxFeePoints || cgpFeePoints > maxFeePoints {
		return domain.ErrFeeTooHigh
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	oldProtocol, oldCGP := e.protocolFeePoints, e.cgpFeePoints
	e.protocolFeePoints = protocolFeePoints
	e.cgpFeePoints = cgpFeePoints

	e.emit(ctx, domain.ChannelFees, domain.EventFeePointsUpdated, map[string]any{
		"old_protocol_fee_points": oldProtocol,
		"old_cgp_fee_points":      oldCGP,
		"new_protocol_fee_points": protocolFeePoints,
		"new_cgp_fee_points":      cgpFeePoints,
		"updated_at":              e.now().UTC().Unix(),
	})
	return nil
}

// FeePoints returns the current protocol and CGP fee shares.
func (e *Engine) FeePoints() (protocol, cgp uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.protocolFeePoints, e.cgpFeePoints
}

// ListNFTForSale offers an open position's NFT at price. The engine is set
// as the token's approved operator so a later purchase can transfer it.
func (e *Engine) ListNFTForSale(ctx context.Context, caller common.Address, positionID uint64, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return domain.ErrZeroPrice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.positionLocked(positionID)
	if err != nil {
		return err
	}
	e.syncOwnerLocked(ctx, pos)
	if pos.Owner != caller {
		return domain.ErrNotOwner
	}
	if !pos.Active {
		return domain.ErrPositionNotActive
	}
	if l, ok := e.listings[positionID]; ok && l.IsListed {
		return domain.ErrAlreadyListed
	}

	if err := e.nft.Approve(caller, e.address, positionID+1); err != nil {
		return err
	}
	e.listings[positionID] = domain.Listing{
		PositionID: positionID,
		Price:      new(big.Int).Set(price),
		IsListed:   true,
	}

	e.emit(ctx, domain.ChannelMarketplace, domain.EventNFTListedForSale, map[string]any{
		"position_id": positionID,
		"seller":      caller.Hex(),
		"price":       price.String(),
	})
	return nil
}

// CancelNFTSale withdraws the caller's listing and clears the engine's
// transfer approval.
func (e *Engine) CancelNFTSale(ctx context.Context, caller common.Address, positionID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.positionLocked(positionID)
	if err != nil {
		return err
	}
	e.syncOwnerLocked(ctx, pos)
	if pos.Owner != caller {
		return domain.ErrNotOwner
	}
	l, ok := e.listings[positionID]
	if !ok || !l.IsListed {
		return domain.ErrNotListed
	}

	delete(e.listings, positionID)
	if err := e.nft.Approve(caller, common.Address{}, positionID+1); err != nil {
		e.logger.WarnContext(ctx, "clear token approval failed",
			slog.Uint64("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}

	e.emit(ctx, domain.ChannelMarketplace, domain.EventNFTSaleCancelled, map[string]any{
		"position_id": positionID,
		"seller":      caller.Hex(),
	})
	return nil
}

// BuyNFT purchases a listed position: the price moves from buyer to seller
// in the stable token, the NFT transfers, and the position changes owner.
// Entry-time fee attribution is unchanged by the sale.
func (e *Engine) BuyNFT(ctx context.Context, buyer common.Address, positionID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.positionLocked(positionID)
	if err != nil {
		return err
	}
	e.syncOwnerLocked(ctx, pos)
	l, ok := e.listings[positionID]
	if !ok || !l.IsListed {
		return domain.ErrNotListed
	}
	if buyer == pos.Owner {
		return domain.ErrSelfTarget
	}
	if !pos.Active {
		return domain.ErrPositionNotActive
	}

	seller := pos.Owner
	if err := e.stable.TransferFrom(e.address, buyer, seller, l.Price); err != nil {
		return err
	}
	if err := e.nft.TransferFrom(ctx, e.address, seller, buyer, positionID+1); err != nil {
		return err
	}

	pos.Owner = buyer
	delete(e.listings, positionID)
	e.persistUpdate(ctx, *pos)

	e.emit(ctx, domain.ChannelMarketplace, domain.EventNFTSold, map[string]any{
		"position_id": positionID,
		"seller":      seller.Hex(),
		"buyer":       buyer.Hex(),
		"price":       l.Price.String(),
	})
	return nil
}

// GetUserPositions returns copies of all positions ever owned-at-present by
// account, open and closed, in entry order.
func (e *Engine) GetUserPositions(account common.Address) []domain.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []domain.Position
	for _, p := range e.positions {
		if e.liveOwner(p) == account {
			c := p.Clone()
			c.Owner = account
			out = append(out, c)
		}
	}
	return out
}

// AllPositions returns a copy of the position at index.
func (e *Engine) AllPositions(index uint64) (domain.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if index >= uint64(len(e.positions)) {
		return domain.Position{}, domain.ErrNotFound
	}
	c := e.positions[index].Clone()
	c.Owner = e.liveOwner(e.positions[index])
	return c, nil
}

// PositionCount returns the total number of positions ever opened.
func (e *Engine) PositionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.positions)
}

// GetAllActivePositionsCount returns the number of open positions.
func (e *Engine) GetAllActivePositionsCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeCount
}

// NFTSales returns the listing for positionID. Unlisted positions return a
// zero listing with IsListed=false.
func (e *Engine) NFTSales(positionID uint64) domain.Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()

	l, ok := e.listings[positionID]
	if !ok {
		return domain.Listing{PositionID: positionID, Price: new(big.Int)}
	}
	return domain.Listing{
		PositionID: l.PositionID,
		Price:      new(big.Int).Set(l.Price),
		IsListed:   l.IsListed,
	}
}

// ActiveListings returns all open listings in position order.
func (e *Engine) ActiveListings() []domain.Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []domain.Listing
	for _, p := range e.positions {
		if l, ok := e.listings[p.ID]; ok && l.IsListed {
			out = append(out, domain.Listing{
				PositionID: l.PositionID,
				Price:      new(big.Int).Set(l.Price),
				IsListed:   true,
			})
		}
	}
	return out
}

// GetProtocolFees returns a copy of the protocol fee accumulator.
func (e *Engine) GetProtocolFees() domain.FeeBucket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.protocolFees.Clone()
}

// GetCGPFees returns a copy of a referrer's fee accumulator. Referrers with
// no accrued fees get a zeroed bucket.
func (e *Engine) GetCGPFees(cgp common.Address) domain.FeeBucket {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bucket, ok := e.cgpFees[cgp]
	if !ok {
		return domain.NewFeeBucket()
	}
	return bucket.Clone()
}

// GetStrategyDetails reports the currently offered terms from the oracle.
func (e *Engine) GetStrategyDetails() (domain.StrategyDetails, error) {
	ptAddr, err := e.router.PtFor(e.stable.Address())
	if err != nil {
		return domain.StrategyDetails{}, err
	}
	yield, err := e.oracle.GetYield(ptAddr)
	if err != nil {
		return domain.StrategyDetails{}, err
	}
	duration, err := e.oracle.GetDuration(ptAddr)
	if err != nil {
		return domain.StrategyDetails{}, err
	}
	rate, err := e.oracle.GetPTRate(ptAddr)
	if err != nil {
		return domain.StrategyDetails{}, err
	}
	return domain.StrategyDetails{
		UnderlyingToken: e.stable.Address(),
		CurrentYield:    yield,
		Duration:        duration,
		Rate:            rate,
	}, nil
}

// positionLocked returns the arena entry for id. Callers hold e.mu.
func (e *Engine) positionLocked(id uint64) (*domain.Position, error) {
	if id >= uint64(len(e.positions)) {
		return nil, domain.ErrNotFound
	}
	return e.positions[id], nil
}

// syncOwnerLocked refreshes the cached owner from the token registry. The
// token is the authoritative ownership record: a direct transfer moves the
// position with it, and a listing made by the previous holder dies with the
// transfer (its approval was cleared). Callers hold e.mu for writing.
func (e *Engine) syncOwnerLocked(ctx context.Context, pos *domain.Position) {
	if !pos.Active || e.nft == nil {
		return
	}
	holder, err := e.nft.OwnerOf(pos.ID + 1)
	if err != nil || holder == pos.Owner {
		return
	}
	pos.Owner = holder
	delete(e.listings, pos.ID)
	e.persistUpdate(ctx, *pos)
}

// liveOwner resolves the current holder of an open position's token, falling
// back to the cached owner for closed positions or when the token is gone.
func (e *Engine) liveOwner(pos *domain.Position) common.Address {
	if pos.Active && e.nft != nil {
		if holder, err := e.nft.OwnerOf(pos.ID + 1); err == nil {
			return holder
		}
	}
	return pos.Owner
}

// feeShare returns yield * points / 10000.
func feeShare(yield *big.Int, points uint64) *big.Int {
	share := new(big.Int).Mul(yield, new(big.Int).SetUint64(points))
	return share.Div(share, big.NewInt(bpsDenom))
}

func (e *Engine) persistCreate(ctx context.Context, pos domain.Position) {
	if e.posStore == nil {
		return
	}
	if err := e.posStore.Create(ctx, pos); err != nil {
		e.logger.WarnContext(ctx, "persist position failed",
			slog.Uint64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistUpdate(ctx context.Context, pos domain.Position) {
	if e.posStore == nil {
		return
	}
	if err := e.posStore.Update(ctx, pos); err != nil {
		e.logger.WarnContext(ctx, "persist position failed",
			slog.Uint64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistFees(ctx context.Context, scope string, bucket domain.FeeBucket) {
	if e.feeStore == nil {
		return
	}
	if err := e.feeStore.Upsert(ctx, scope, bucket); err != nil {
		e.logger.WarnContext(ctx, "persist fees failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes the event on the signal bus and records it in the audit
// log. Delivery failures are logged, never surfaced: the state change has
// already committed.
func (e *Engine) emit(ctx context.Context, channel, name string, fields map[string]any) {
	evt := domain.NewEvent(name, e.now().UTC(), fields)

	if e.bus != nil {
		if err := e.bus.Publish(ctx, channel, evt.Marshal()); err != nil {
			e.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, name, fields); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
	}
}
