// Package token implements a fungible token ledger with ERC20-style
// semantics: balances, spender allowances, and mint/burn. Two instances back
// the protocol: the stable underlying token and the maturity-dated principal
// token, both consumed by the yield market and the position ledger.
package token

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// Ledger is a single token's balance book. All operations are atomic under
// the ledger lock and either apply completely or not at all.
type Ledger struct {
	mu sync.RWMutex

	name     string
	symbol   string
	decimals uint8
	address  common.Address

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

// NewLedger creates a token ledger, optionally crediting an initial supply
// to holder.
func NewLedger(name, symbol string, decimals uint8, address common.Address, holder common.Address, initialSupply *big.Int) *Ledger {
	l := &Ledger{
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		address:     address,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
	if initialSupply != nil && initialSupply.Sign() > 0 {
		l.balances[holder] = new(big.Int).Set(initialSupply)
		l.totalSupply.Set(initialSupply)
	}
	return l
}

// Name returns the token name.
func (l *Ledger) Name() string { return l.name }

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the token's decimal places.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// Address returns the token's ledger address.
func (l *Ledger) Address() common.Address { return l.address }

// TotalSupply returns the circulating supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// BalanceOf returns the balance of account.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns the amount spender may transfer on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// Approve sets spender's allowance over owner's tokens.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, to, amount)
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(from, spender)
	if allowance.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance
	}
	if err := l.transfer(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// Mint credits newly created tokens to account.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(to, amount)
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Burn destroys tokens held by account.
func (l *Ledger) Burn(from common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	l.totalSupply.Sub(l.totalSupply, amount)
	return nil
}

// transfer is the lock-held balance move shared by Transfer and TransferFrom.
func (l *Ledger) transfer(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return domain.ErrZeroAmount
	}
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

// allowanceLocked returns the live allowance entry, creating it when absent.
// Caller must hold the lock.
func (l *Ledger) allowanceLocked(owner, spender common.Address) *big.Int {
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.allowances[owner] = m
	}
	a, ok := m[spender]
	if !ok {
		a = new(big.Int)
		m[spender] = a
	}
	return a
}

// credit adds amount to account's balance. Caller must hold the lock.
func (l *Ledger) credit(account common.Address, amount *big.Int) {
	if b, ok := l.balances[account]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[account] = new(big.Int).Set(amount)
}
