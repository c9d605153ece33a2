package domain

import (
	"math/big"
	"time"
)

// StrategyAttributes are the immutable per-token attributes stored at mint
// time and rendered into the token metadata document.
type StrategyAttributes struct {
	InitialAmount *big.Int      `json:"initial_amount"`
	Duration      time.Duration `json:"duration"`
	StrategyType  uint8         `json:"strategy_type"`
	MintedAt      time.Time     `json:"minted_at"`
}
