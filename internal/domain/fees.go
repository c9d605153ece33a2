package domain

import "math/big"

// FeeBucket tracks accrued fees through their three-stage lifecycle. A fee
// amount enters NonMatured at position entry, moves to MaturedNonWithdrawn
// when its position exits, and to Withdrawn when collected. The sum of the
// three counters equals all contributions ever recorded and never decreases.
type FeeBucket struct {
	NonMatured          *big.Int `json:"non_matured"`
	MaturedNonWithdrawn *big.Int `json:"matured_non_withdrawn"`
	Withdrawn           *big.Int `json:"withdrawn"`
}

// NewFeeBucket returns a zeroed bucket.
func NewFeeBucket() FeeBucket {
	return FeeBucket{
		NonMatured:          new(big.Int),
		MaturedNonWithdrawn: new(big.Int),
		Withdrawn:           new(big.Int),
	}
}

// Clone returns a deep copy of the bucket.
func (b FeeBucket) Clone() FeeBucket {
	return FeeBucket{
		NonMatured:          new(big.Int).Set(b.NonMatured),
		MaturedNonWithdrawn: new(big.Int).Set(b.MaturedNonWithdrawn),
		Withdrawn:           new(big.Int).Set(b.Withdrawn),
	}
}

// Total returns the lifetime sum of all fee contributions recorded.
func (b FeeBucket) Total() *big.Int {
	t := new(big.Int).Add(b.NonMatured, b.MaturedNonWithdrawn)
	return t.Add(t, b.Withdrawn)
}

// Accrue records a new non-matured contribution.
func (b FeeBucket) Accrue(amount *big.Int) {
	b.NonMatured.Add(b.NonMatured, amount)
}

// Mature reclassifies amount from NonMatured to MaturedNonWithdrawn.
func (b FeeBucket) Mature(amount *big.Int) {
	b.NonMatured.Sub(b.NonMatured, amount)
	b.MaturedNonWithdrawn.Add(b.MaturedNonWithdrawn, amount)
}

// Withdraw empties MaturedNonWithdrawn into Withdrawn and returns the amount
// moved.
func (b FeeBucket) Withdraw() *big.Int {
	amount := new(big.Int).Set(b.MaturedNonWithdrawn)
	b.Withdrawn.Add(b.Withdrawn, amount)
	b.MaturedNonWithdrawn.SetInt64(0)
	return amount
}
