package domain

import "errors"

// Authorization errors. Rejected before any state mutation.
var (
	ErrNotAdmin  = errors.New("caller is not an admin")
	ErrNotCGP    = errors.New("caller is not a CGP")
	ErrNotClient = errors.New("caller is not a client")
	ErrNotOwner  = errors.New("not position owner")
)

// Precondition errors.
var (
	ErrZeroAddress   = errors.New("account is zero address")
	ErrZeroAmount    = errors.New("amount must be greater than 0")
	ErrZeroPrice     = errors.New("price must be greater than 0")
	ErrSelfTarget    = errors.New("cannot remove self")
	ErrSelfReferral  = errors.New("CGP cannot be their own client")
	ErrHasCGP        = errors.New("client already has a CGP")
	ErrHasClients    = errors.New("CGP still has clients")
	ErrRoleConflict  = errors.New("conflicting role assignment")
	ErrRoleNotHeld   = errors.New("role not held")
	ErrFeeTooHigh    = errors.New("fee points exceed maximum")
	ErrNotACGP       = errors.New("not a CGP")
	ErrNotAClient    = errors.New("not a client")
	ErrNotClientsCGP = errors.New("not client's CGP")
)

// Lifecycle errors.
var (
	ErrPositionNotActive = errors.New("position not active")
	ErrNotMature         = errors.New("strategy not yet mature")
	ErrNotListed         = errors.New("position not listed for sale")
	ErrAlreadyListed     = errors.New("position already listed")
)

// External-collaborator errors, surfaced verbatim by the ledger.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrMarketExpired         = errors.New("market expired")
	ErrMarketNotExpired      = errors.New("market not yet expired")
	ErrUnknownMarket         = errors.New("unknown market for token")
)

// Token registry errors.
var (
	ErrNotContractOwner    = errors.New("caller is not the contract owner")
	ErrNotStrategyContract = errors.New("only strategy contract")
	ErrNotApproved         = errors.New("caller is not owner nor approved")
)

// Resource errors.
var (
	ErrNoFees        = errors.New("no fees to withdraw")
	ErrTokenNotFound = errors.New("token does not exist")
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lock already held")
)
