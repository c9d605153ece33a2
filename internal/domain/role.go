// Package domain defines the shared types of the SimpliFi protocol core:
// roles, positions, fee accumulators, marketplace listings, NFT attributes,
// protocol events, and the store/bus interfaces implemented by the
// infrastructure layers.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RoleLabel is the canonical role of an address. When an address holds more
// than one role, precedence is ADMIN > CGP > CLIENT.
type RoleLabel string

const (
	RoleAdmin  RoleLabel = "ADMIN"
	RoleCGP    RoleLabel = "CGP"
	RoleClient RoleLabel = "CLIENT"
	RoleNone   RoleLabel = "NO_ROLE"
)

// RoleBits reports each role assignment independently. An address may hold
// several at once (an admin may also act as a CGP).
type RoleBits struct {
	Admin  bool `json:"admin"`
	CGP    bool `json:"cgp"`
	Client bool `json:"client"`
}

// ClientInfo describes a client's referral assignment. Removed clients stay
// on record with Active=false; the CGP link is retained for audit.
type ClientInfo struct {
	Address        common.Address `json:"address"`
	CGP            common.Address `json:"cgp"`
	Active         bool           `json:"active"`
	AssignmentDate time.Time      `json:"assignment_date"`
}

// CGPStats summarizes a referrer's book of clients.
type CGPStats struct {
	Clients       []common.Address `json:"clients"`
	ClientCount   int              `json:"client_count"`
	ActiveClients int              `json:"active_clients"`
}
