package market

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
	"github.com/simplifi-protocol/simplifi-core/internal/token"
)

// redeemWindow is how long after maturity a principal token remains
// redeemable before the market is considered expired.
const redeemWindow = 365 * 24 * time.Hour

// Router swaps the stable token into principal tokens at the oracle rate and
// redeems them 1:1 after maturity. Swapped-in principal is held in the
// router's custody account; the redemption payout is minted against it, the
// yield delta being the market's accrual.
type Router struct {
	mu sync.Mutex

	address common.Address // custody account
	stable  *token.Ledger
	pt      *token.Ledger
	oracle  *Oracle

	tokenToPt map[common.Address]common.Address
	now       func() time.Time
}

// NewRouter creates a Router over the given token pair and oracle.
func NewRouter(address common.Address, stable, pt *token.Ledger, oracle *Oracle) *Router {
	r := &Router{
		address:   address,
		stable:    stable,
		pt:        pt,
		oracle:    oracle,
		tokenToPt: make(map[common.Address]common.Address),
		now:       time.Now,
	}
	r.tokenToPt[stable.Address()] = pt.Address()
	return r
}

// SetClock overrides the router clock. Intended for tests.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// Address returns the router's custody account. Callers grant this address
// the stable-token allowance consumed by SwapExactTokenForPt.
func (r *Router) Address() common.Address { return r.address }

// SetTokenToPt registers a stable-token to principal-token mapping.
func (r *Router) SetTokenToPt(tokenAddr, ptAddr common.Address) error {
	if tokenAddr == (common.Address{}) || ptAddr == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenToPt[tokenAddr] = ptAddr
	return nil
}

// PtFor returns the principal token mapped to a stable token.
func (r *Router) PtFor(tokenAddr common.Address) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt, ok := r.tokenToPt[tokenAddr]
	if !ok {
		return common.Address{}, domain.ErrUnknownMarket
	}
	return pt, nil
}

// SwapExactTokenForPt pulls amount of the stable token from caller and mints
// the discounted principal token amount back to it. Returns the principal
// token amount and the maturity timestamp.
func (r *Router) SwapExactTokenForPt(caller, tokenAddr common.Address, amount *big.Int) (*big.Int, time.Time, error) {
	if tokenAddr == (common.Address{}) {
		return nil, time.Time{}, domain.ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, time.Time{}, domain.ErrZeroAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ptAddr, ok := r.tokenToPt[tokenAddr]
	if !ok {
		return nil, time.Time{}, domain.ErrUnknownMarket
	}

	rate, err := r.oracle.GetPTRate(ptAddr)
	if err != nil {
		return nil, time.Time{}, err
	}
	duration, err := r.oracle.GetDuration(ptAddr)
	if err != nil {
		return nil, time.Time{}, err
	}

	// Pull the stable tokens into custody. Allowance failures surface to
	// the caller untouched.
	if err := r.stable.TransferFrom(r.address, caller, r.address, amount); err != nil {
		return nil, time.Time{}, err
	}

	// ptAmount = amount * Scale / rate; rate < Scale, so ptAmount > amount.
	ptAmount := new(big.Int).Mul(amount, Scale)
	ptAmount.Div(ptAmount, rate)

	if err := r.pt.Mint(caller, ptAmount); err != nil {
		return nil, time.Time{}, err
	}

	maturity := r.now().UTC().Add(duration)
	return ptAmount, maturity, nil
}

// RedeemPyToToken burns ptAmount of the caller's principal tokens and pays
// out the same amount of the stable token. Redemption is only possible in
// the [maturity, maturity+365d) window.
func (r *Router) RedeemPyToToken(caller, tokenAddr common.Address, ptAmount *big.Int, maturity time.Time) (*big.Int, error) {
	if tokenAddr == (common.Address{}) {
		return nil, domain.ErrZeroAddress
	}
	if ptAmount == nil || ptAmount.Sign() <= 0 {
		return nil, domain.ErrZeroAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if now.Before(maturity) {
		return nil, domain.ErrMarketNotExpired
	}
	if !now.Before(maturity.Add(redeemWindow)) {
		return nil, domain.ErrMarketExpired
	}

	if err := r.pt.Burn(caller, ptAmount); err != nil {
		return nil, err
	}

	// Pay principal out of custody first, mint the yield remainder.
	payout := new(big.Int).Set(ptAmount)
	custody := r.stable.BalanceOf(r.address)
	fromCustody := new(big.Int).Set(payout)
	if fromCustody.Cmp(custody) > 0 {
		fromCustody.Set(custody)
	}
	if fromCustody.Sign() > 0 {
		if err := r.stable.Transfer(r.address, caller, fromCustody); err != nil {
			return nil, err
		}
	}
	if remainder := new(big.Int).Sub(payout, fromCustody); remainder.Sign() > 0 {
		if err := r.stable.Mint(caller, remainder); err != nil {
			return nil, err
		}
	}

	return payout, nil
}
