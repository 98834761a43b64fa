package common

import "errors"

// Caller contract violations. These abort a run.
var (
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidCapital  = errors.New("capital must not be negative")
	ErrUnknownSide     = errors.New("unknown order side")
	ErrNonMonotonicBar = errors.New("bar index must be strictly increasing")
	ErrInvalidBar      = errors.New("bar low is above its high")
	ErrBuyPending      = errors.New("a buy order is already pending")
	ErrSellPending     = errors.New("a sell order is already pending")
	ErrNotInitialized  = errors.New("manager not initialized")
)

// Engine invariant violations. Seeing one of these means a bug.
var (
	ErrLedgerInvariant = errors.New("ledger invariant violated")
	ErrTerminalOrder   = errors.New("order already in a terminal state")
)
