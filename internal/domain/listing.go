package domain

import "math/big"

// Listing is a marketplace sale offer for an open position's NFT. Listings
// exist only for active, owned positions; exit and purchase both clear them.
type Listing struct {
	PositionID uint64   `json:"position_id"`
	Price      *big.Int `json:"price"`
	IsListed   bool     `json:"is_listed"`
}
