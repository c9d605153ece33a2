// Package market implements the yield market the position ledger trades
// against: an oracle quoting annual yield, term duration, and the principal
// token discount rate, and a router swapping the stable token into
// maturity-dated principal tokens and redeeming them after maturity.
package market

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// Scale is the fixed-point base for principal token rates (1e18).
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Oracle quotes per-principal-token market terms. The rate is derived from
// the annual yield: rate = Scale - yield*Scale/100, so one stable token buys
// 1/rate principal tokens at entry.
type Oracle struct {
	mu        sync.RWMutex
	yields    map[common.Address]uint64
	durations map[common.Address]time.Duration
}

// NewOracle creates an empty Oracle.
func NewOracle() *Oracle {
	return &Oracle{
		yields:    make(map[common.Address]uint64),
		durations: make(map[common.Address]time.Duration),
	}
}

// SetYield sets the annual yield (percent points) for a principal token.
func (o *Oracle) SetYield(pt common.Address, yieldPoints uint64) error {
	if pt == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.yields[pt] = yieldPoints
	return nil
}

// SetDuration sets the term duration for a principal token.
func (o *Oracle) SetDuration(pt common.Address, d time.Duration) error {
	if pt == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.durations[pt] = d
	return nil
}

// GetYield returns the annual yield in percent points.
func (o *Oracle) GetYield(pt common.Address) (uint64, error) {
	if pt == (common.Address{}) {
		return 0, domain.ErrZeroAddress
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.yields[pt], nil
}

// GetDuration returns the term duration.
func (o *Oracle) GetDuration(pt common.Address) (time.Duration, error) {
	if pt == (common.Address{}) {
		return 0, domain.ErrZeroAddress
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.durations[pt], nil
}

// GetPTRate returns the principal token rate at Scale precision.
func (o *Oracle) GetPTRate(pt common.Address) (*big.Int, error) {
	if pt == (common.Address{}) {
		return nil, domain.ErrZeroAddress
	}
	o.mu.RLock()
	defer o.mu.RUnlock()

	yield := new(big.Int).SetUint64(o.yields[pt])
	discount := new(big.Int).Mul(yield, Scale)
	discount.Div(discount, big.NewInt(100))
	return new(big.Int).Sub(Scale, discount), nil
}
