// Package nft implements the position token registry: one transferable,
// enumerable token per open strategy position. Minting and burning are
// restricted to the registered strategy contract; holders transfer freely.
// Token metadata is synthesized inline as a base64 data URI, so no external
// metadata server is involved.
package nft

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// Registry is the position token book. Token IDs start at 1 and are never
// reused; the token list is append-only with existence tracked in owners.
type Registry struct {
	mu sync.RWMutex

	name   string
	symbol string

	contractOwner common.Address
	strategy      common.Address
	baseURI       string

	nextID    uint64
	tokenList []uint64
	owners    map[uint64]common.Address
	attrs     map[uint64]domain.StrategyAttributes
	approvals map[uint64]common.Address

	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates the registry with the given contract owner and base
// image pointer (an IPFS CID). The bus may be nil.
func NewRegistry(contractOwner common.Address, baseURI string, bus domain.SignalBus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		name:          "SimpliFi Strategies",
		symbol:        "SFNFT",
		contractOwner: contractOwner,
		baseURI:       baseURI,
		nextID:        1,
		owners:        make(map[uint64]common.Address),
		attrs:         make(map[uint64]domain.StrategyAttributes),
		approvals:     make(map[uint64]common.Address),
		bus:           bus,
		logger:        logger.With(slog.String("component", "nft")),
		now:           time.Now,
	}
}

// SetClock overrides the registry clock. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Name returns the collection name.
func (r *Registry) Name() string { return r.name }

// Symbol returns the collection symbol.
func (r *Registry) Symbol() string { return r.symbol }

// SetStrategyContract registers the strategy address allowed to mint and
// burn. Contract-owner only.
func (r *Registry) SetStrategyContract(caller, strategy common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.contractOwner {
		return domain.ErrNotContractOwner
	}
	if strategy == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	r.strategy = strategy
	return nil
}

// StrategyContract returns the registered strategy address.
func (r *Registry) StrategyContract() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// SetBaseURI updates the base image pointer. Contract-owner only.
func (r *Registry) SetBaseURI(caller common.Address, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.contractOwner {
		return domain.ErrNotContractOwner
	}
	r.baseURI = uri
	return nil
}

// MintStrategyNFT mints the next token to to, storing the per-token strategy
// attributes. Only the registered strategy contract may mint.
func (r *Registry) MintStrategyNFT(ctx context.Context, caller, to common.Address, amount *big.Int, duration time.Duration, strategyType uint8) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.strategy || r.strategy == (common.Address{}) {
		return 0, domain.ErrNotStrategyContract
	}
	if to == (common.Address{}) {
		return 0, domain.ErrZeroAddress
	}

	id := r.nextID
	r.nextID++
	r.tokenList = append(r.tokenList, id)
	r.owners[id] = to
	r.attrs[id] = domain.StrategyAttributes{
		InitialAmount: new(big.Int).Set(amount),
		Duration:      duration,
		StrategyType:  strategyType,
		MintedAt:      r.now().UTC(),
	}

	r.emit(ctx, domain.EventNFTMinted, map[string]any{
		"token_id": id,
		"owner":    to.Hex(),
		"amount":   amount.String(),
	})
	return id, nil
}

// Burn destroys the token. Only the registered strategy contract may burn.
func (r *Registry) Burn(ctx context.Context, caller common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.strategy || r.strategy == (common.Address{}) {
		return domain.ErrNotStrategyContract
	}
	owner, ok := r.owners[tokenID]
	if !ok {
		return domain.ErrTokenNotFound
	}

	delete(r.owners, tokenID)
	delete(r.approvals, tokenID)

	r.emit(ctx, domain.EventNFTBurned, map[string]any{
		"token_id": tokenID,
		"owner":    owner.Hex(),
	})
	return nil
}

// OwnerOf returns the current holder of tokenID.
func (r *Registry) OwnerOf(tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return common.Address{}, domain.ErrTokenNotFound
	}
	return owner, nil
}

// TotalSupply returns the number of live tokens.
func (r *Registry) TotalSupply() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// GetTokensOfOwner returns all token IDs held by account, in mint order.
func (r *Registry) GetTokensOfOwner(account common.Address) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uint64
	for _, id := range r.tokenList {
		if r.owners[id] == account {
			out = append(out, id)
		}
	}
	return out
}

// GetStrategyAttributes returns the attributes stored at mint time.
func (r *Registry) GetStrategyAttributes(tokenID uint64) (domain.StrategyAttributes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.owners[tokenID]; !ok {
		return domain.StrategyAttributes{}, domain.ErrTokenNotFound
	}
	a := r.attrs[tokenID]
	a.InitialAmount = new(big.Int).Set(a.InitialAmount)
	return a, nil
}

// Approve authorizes approved to transfer tokenID. Holder only.
func (r *Registry) Approve(caller, approved common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return domain.ErrTokenNotFound
	}
	if caller != owner {
		return domain.ErrNotApproved
	}
	r.approvals[tokenID] = approved
	return nil
}

// TransferFrom moves tokenID from from to to. The caller must be the holder
// or the approved address; any approval is cleared on transfer.
func (r *Registry) TransferFrom(ctx context.Context, caller, from, to common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return domain.ErrTokenNotFound
	}
	if owner != from {
		return domain.ErrNotApproved
	}
	if caller != owner && r.approvals[tokenID] != caller {
		return domain.ErrNotApproved
	}
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}

	r.owners[tokenID] = to
	delete(r.approvals, tokenID)

	r.emit(ctx, domain.EventNFTTransferred, map[string]any{
		"token_id": tokenID,
		"from":     from.Hex(),
		"to":       to.Hex(),
	})
	return nil
}

// tokenMetadata is the inline metadata document shape.
type tokenMetadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []tokenAttr `json:"attributes"`
}

type tokenAttr struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// TokenURI synthesizes the metadata document for tokenID and returns it as a
// base64 data URI.
func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.owners[tokenID]; !ok {
		return "", domain.ErrTokenNotFound
	}
	a := r.attrs[tokenID]

	meta := tokenMetadata{
		Name:        fmt.Sprintf("SimpliFi Strategy #%d", tokenID),
		Description: "Fixed-term yield strategy position issued by the SimpliFi protocol.",
		Image:       "https://ipfs.io/ipfs/" + r.baseURI,
		Attributes: []tokenAttr{
			{TraitType: "Initial Amount", Value: a.InitialAmount.String()},
			{TraitType: "Duration", Value: fmt.Sprintf("%d", int64(a.Duration.Seconds()))},
			{TraitType: "Strategy", Value: fmt.Sprintf("%d", a.StrategyType)},
			{TraitType: "Minted At", Value: fmt.Sprintf("%d", a.MintedAt.Unix())},
		},
	}

	doc, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("nft: marshal metadata for token %d: %w", tokenID, err)
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(doc), nil
}

// emit publishes an event on the nft channel. Failures are logged only.
func (r *Registry) emit(ctx context.Context, name string, fields map[string]any) {
	if r.bus == nil {
		return
	}
	evt := domain.NewEvent(name, r.now().UTC(), fields)
	if err := r.bus.Publish(ctx, domain.ChannelNFT, evt.Marshal()); err != nil {
		r.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}
