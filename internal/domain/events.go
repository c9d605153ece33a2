package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names. Downstream consumers match on the name and field set, so
// these are part of the external contract.
const (
	EventAdminAdded     = "AdminAdded"
	EventAdminRemoved   = "AdminRemoved"
	EventCGPAdded       = "CGPAdded"
	EventCGPRemoved     = "CGPRemoved"
	EventClientAdded    = "ClientAdded"
	EventClientRemoved  = "ClientRemoved"

	EventStrategyEntered    = "StrategyEntered"
	EventStrategyExited     = "StrategyExited"
	EventPendingFeesUpdated = "PendingFeesUpdated"
	EventFeesCollected      = "FeesCollected"
	EventFeePointsUpdated   = "FeePointsUpdated"

	EventProtocolFeesWithdrawn = "ProtocolFeesWithdrawn"
	EventCGPFeesWithdrawn      = "CGPFeesWithdrawn"

	EventNFTListedForSale = "NFTListedForSale"
	EventNFTSaleCancelled = "NFTSaleCancelled"
	EventNFTSold          = "NFTSold"
	EventNFTMinted        = "StrategyNFTMinted"
	EventNFTBurned        = "StrategyNFTBurned"
	EventNFTTransferred   = "StrategyNFTTransferred"
)

// Channels group events for pub/sub consumers. One channel per concern.
const (
	ChannelRoles       = "roles"
	ChannelPositions   = "positions"
	ChannelFees        = "fees"
	ChannelMarketplace = "marketplace"
	ChannelNFT         = "nft"
)

// Event is the structured notification emitted once per successful mutating
// operation, carrying the operation's key result fields.
type Event struct {
	ID     string         `json:"id"`
	Name   string         `json:"event"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields"`
}

// NewEvent builds an Event with a fresh ID and the given timestamp.
func NewEvent(name string, at time.Time, fields map[string]any) Event {
	return Event{
		ID:     uuid.NewString(),
		Name:   name,
		At:     at,
		Fields: fields,
	}
}

// Marshal encodes the event as JSON for the signal bus. Errors are not
// possible for the field types used by the core, so the result is returned
// directly.
func (e Event) Marshal() []byte {
	data, _ := json.Marshal(e)
	return data
}
