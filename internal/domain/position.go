package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a single fixed-term strategy position. The ledger is the
// source of truth for amounts and dates; the NFT registry is the source of
// truth for the current holder, and Owner must always match it.
type Position struct {
	ID            uint64         `json:"id"`
	Owner         common.Address `json:"owner"`
	Principal     *big.Int       `json:"principal"`       // stable tokens deposited
	PTAmount      *big.Int       `json:"pt_amount"`       // principal tokens received, redeemable 1:1 at maturity
	EntryDate     time.Time      `json:"entry_date"`
	MaturityDate  time.Time      `json:"maturity_date"`
	ExitDate      time.Time      `json:"exit_date"` // zero while open
	Active        bool           `json:"active"`
	ProtocolFee   *big.Int       `json:"protocol_fee"` // fixed at entry, settled at exit
	CGPFee        *big.Int       `json:"cgp_fee"`
	CGP           common.Address `json:"cgp"` // referrer credited with CGPFee
	StrategyType  uint8          `json:"strategy_type"`
}

// Clone returns a deep copy so callers cannot mutate ledger state through
// returned positions.
func (p Position) Clone() Position {
	c := p
	c.Principal = new(big.Int).Set(p.Principal)
	c.PTAmount = new(big.Int).Set(p.PTAmount)
	c.ProtocolFee = new(big.Int).Set(p.ProtocolFee)
	c.CGPFee = new(big.Int).Set(p.CGPFee)
	return c
}

// EnterReceipt is returned by a successful strategy entry.
type EnterReceipt struct {
	PositionID   uint64    `json:"position_id"`
	TokenID      uint64    `json:"token_id"`
	Amount       *big.Int  `json:"amount"`
	PTReceived   *big.Int  `json:"pt_received"`
	EntryDate    time.Time `json:"entry_date"`
	MaturityDate time.Time `json:"maturity_date"`
}

// ExitReceipt is returned by a successful strategy exit. YieldEarned is the
// market's realized yield before fees; Payout is what the owner receives.
type ExitReceipt struct {
	PositionID    uint64   `json:"position_id"`
	InitialAmount *big.Int `json:"initial_amount"`
	FinalAmount   *big.Int `json:"final_amount"`
	YieldEarned   *big.Int `json:"yield_earned"`
	Payout        *big.Int `json:"payout"`
	ProtocolFee   *big.Int `json:"protocol_fee"`
	CGPFee        *big.Int `json:"cgp_fee"`
}

// StrategyDetails describes the currently offered strategy terms.
type StrategyDetails struct {
	UnderlyingToken common.Address `json:"underlying_token"`
	CurrentYield    uint64         `json:"current_yield"` // annual yield, percent points
	Duration        time.Duration  `json:"duration"`
	Rate            *big.Int       `json:"rate"` // PT rate, 1e18 scale
}
