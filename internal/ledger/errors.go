package ledger

import "errors"

// Sentinel errors for the token ledger. Matched with errors.Is; each layer
// wraps with %w to add context.
var (
	ErrInvalidAccount        = errors.New("invalid account: null identity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrOverflow              = errors.New("arithmetic overflow")
)
