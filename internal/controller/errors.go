package controller

import "errors"

// Sentinel errors for the stablecoin controller. Ledger-level failures
// (InvalidAccount, InsufficientBalance, InsufficientAllowance, Overflow)
// live in internal/ledger; Unauthorized lives in internal/oracle.
var (
	// ErrOpenPhaseRequired gates the collateral desk: 1:1 mint/redeem is
	// only active while the collateral ratio sits at exactly 100%.
	ErrOpenPhaseRequired = errors.New("collateral desk closed: not in fully-collateralized phase")

	// ErrBidTooLow rejects a bid that does not beat the standing bid —
	// not strictly higher on the expansion side, not strictly lower on
	// the contraction side.
	ErrBidTooLow = errors.New("bid does not beat the standing bid")

	// ErrNoActiveRound rejects a contraction bid when no round is open.
	ErrNoActiveRound = errors.New("no active contraction round")

	// ErrTooSoon rejects a trigger (or a contraction bid) inside the
	// cooldown window, so callers can tell "nothing to do yet" apart
	// from "ran and had no work".
	ErrTooSoon = errors.New("cooldown has not elapsed")

	// ErrUnknownAsset rejects a ledger command naming an asset symbol
	// outside the three managed ledgers.
	ErrUnknownAsset = errors.New("unknown asset symbol")
)
