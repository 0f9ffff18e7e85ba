package controller

import (
	"fmt"

	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
)

// AuctionCooldown is the minimum gap between settlements, in time units
// (seconds) of the externally supplied clock.
const AuctionCooldown int64 = 3600

// ExpansionDivisor sizes each round at one basis point of current supply:
// lot = total_supply / 10000, integer division.
const ExpansionDivisor uint64 = 10_000

// auctionDirection selects the bid ordering rule.
type auctionDirection int

const (
	// ascending: each bid must be strictly greater than the standing bid
	// (expansion side, denominated in shares).
	ascending auctionDirection = iota
	// descending: each bid must be strictly lower than the standing bid;
	// the first bid of a round is accepted unconditionally (contraction
	// side, denominated in ledger tokens).
	descending
)

// Round is one periodic sealed single-round auction. Both auction state
// machines are instances of this with different direction, payout asset and
// lot semantics; each keeps its own independent timer.
type Round struct {
	direction auctionDirection

	// Bidder is the pending winner-so-far; zero address means no bid.
	// Cleared on settlement.
	Bidder ledger.Address
	Bid    *uint256.Int

	// Lot is the fixed quantity every contraction bidder is implicitly
	// bidding to dispose of. Fixed when the round opens, cleared on
	// settlement. Always zero on the expansion side.
	Lot *uint256.Int

	// LastSettled is the timestamp of the last round opening, from the
	// externally supplied clock. Never wall-clock.
	LastSettled int64
}

func newRound(direction auctionDirection) Round {
	return Round{
		direction: direction,
		Bid:       uint256.NewInt(0),
		Lot:       uint256.NewInt(0),
	}
}

// HasBidder reports whether a bid is pending settlement.
func (r Round) HasBidder() bool {
	return !r.Bidder.IsZero()
}

// eligible reports whether a trigger call may run at the given time.
func (r *Round) eligible(now int64) bool {
	return now-r.LastSettled >= AuctionCooldown
}

// checkBid enforces the direction's strict ordering rule against the
// standing bid.
func (r *Round) checkBid(amount *uint256.Int) error {
	switch r.direction {
	case ascending:
		if amount.Cmp(r.Bid) <= 0 {
			return fmt.Errorf("bid %s vs standing %s: %w", amount, r.Bid, ErrBidTooLow)
		}
	case descending:
		// First bid of a round is accepted unconditionally.
		if r.HasBidder() && amount.Cmp(r.Bid) >= 0 {
			return fmt.Errorf("bid %s vs standing %s: %w", amount, r.Bid, ErrBidTooLow)
		}
	}
	return nil
}

// record replaces the standing bid.
func (r *Round) record(bidder ledger.Address, amount *uint256.Int) {
	r.Bidder = bidder
	r.Bid = new(uint256.Int).Set(amount)
}

// clear resets bidder, bid and lot after settlement.
func (r *Round) clear() {
	r.Bidder = ledger.ZeroAddress
	r.Bid = uint256.NewInt(0)
	r.Lot = uint256.NewInt(0)
}

// clone deep-copies the round.
func (r *Round) clone() Round {
	return Round{
		direction:   r.direction,
		Bidder:      r.Bidder,
		Bid:         new(uint256.Int).Set(r.Bid),
		Lot:         new(uint256.Int).Set(r.Lot),
		LastSettled: r.LastSettled,
	}
}

// roundLot computes total_supply / 10000 for a round opening.
func roundLot(supply *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(supply, uint256.NewInt(ExpansionDivisor))
}
