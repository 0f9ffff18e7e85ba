// Package controller is the stablecoin state machine: a collateral desk
// that mints and redeems 1:1 while the system is fully collateralized, and
// two periodic single-round auctions that expand or contract supply once
// the oracle price signal says the token has drifted from its peg.
package controller

import (
	"fmt"

	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
	"fraxd/internal/oracle"
)

// Token is the surface the controller requires of the companion shares
// token and of the collateral asset: standard ledger semantics, nothing
// more. A failure in any nested call propagates and aborts the whole
// command.
type Token interface {
	Transfer(from, to ledger.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to ledger.Address, amount *uint256.Int) error
	Mint(to ledger.Address, amount *uint256.Int) error
	Burn(from ledger.Address, amount *uint256.Int) error
	BalanceOf(account ledger.Address) *uint256.Int
}

var _ Token = (*ledger.Ledger)(nil)

// Asset symbols for the three in-process ledgers. The observable event
// stream tags every Transfer/Approval with one of these.
const (
	AssetToken      = "FRAX"
	AssetShares     = "FXS"
	AssetCollateral = "COLLAT"
)

// Controller owns all domain state. Commands execute against a staged
// Clone; the core swaps the clone in only if the command returns nil, which
// gives every entry point all-or-nothing semantics — including the
// redemption ordering hazard (burn before payout) and every nested
// cross-ledger call.
//
// Not thread-safe — only accessed from the single-threaded core.
type Controller struct {
	recorder *ledger.Recorder

	token      *ledger.Ledger // the collateral-backed ledger token
	shares     *ledger.Ledger // companion governance token
	collateral *ledger.Ledger // designated collateral asset

	authority *oracle.Authority

	hop      Round // expansion auction
	backstep Round // contraction auction
}

func New(oracleAddr ledger.Address) *Controller {
	recorder := ledger.NewRecorder()
	return &Controller{
		recorder:   recorder,
		token:      ledger.NewLedger(AssetToken, recorder),
		shares:     ledger.NewLedger(AssetShares, recorder),
		collateral: ledger.NewLedger(AssetCollateral, recorder),
		authority:  oracle.NewAuthority(oracleAddr),
		hop:        newRound(ascending),
		backstep:   newRound(descending),
	}
}

// Token returns the ledger-token ledger.
func (c *Controller) Token() *ledger.Ledger { return c.token }

// Shares returns the shares-token ledger.
func (c *Controller) Shares() *ledger.Ledger { return c.shares }

// Collateral returns the collateral-asset ledger.
func (c *Controller) Collateral() *ledger.Ledger { return c.collateral }

// LedgerFor resolves an asset symbol to its ledger.
func (c *Controller) LedgerFor(asset string) (*ledger.Ledger, error) {
	switch asset {
	case AssetToken:
		return c.token, nil
	case AssetShares:
		return c.shares, nil
	case AssetCollateral:
		return c.collateral, nil
	default:
		return nil, fmt.Errorf("asset %q: %w", asset, ErrUnknownAsset)
	}
}

// Authority returns the oracle authority record.
func (c *Controller) Authority() *oracle.Authority { return c.authority }

// HopRound returns a copy of the expansion round state.
func (c *Controller) HopRound() Round { return c.hop.clone() }

// BackstepRound returns a copy of the contraction round state.
func (c *Controller) BackstepRound() Round { return c.backstep.clone() }

// DrainEvents returns the token events collected since the last drain.
func (c *Controller) DrainEvents() []ledger.TokenEvent { return c.recorder.Drain() }

// Clone deep-copies the whole controller for command staging.
func (c *Controller) Clone() *Controller {
	recorder := c.recorder.Clone()
	return &Controller{
		recorder:   recorder,
		token:      c.token.Clone(recorder),
		shares:     c.shares.Clone(recorder),
		collateral: c.collateral.Clone(recorder),
		authority:  c.authority.Clone(),
		hop:        c.hop.clone(),
		backstep:   c.backstep.clone(),
	}
}

// RestoreHop sets the expansion round state during snapshot recovery.
func (c *Controller) RestoreHop(bidder ledger.Address, bid, lot *uint256.Int, lastSettled int64) {
	c.hop.Bidder = bidder
	c.hop.Bid = new(uint256.Int).Set(bid)
	c.hop.Lot = new(uint256.Int).Set(lot)
	c.hop.LastSettled = lastSettled
}

// RestoreBackstep sets the contraction round state during snapshot recovery.
func (c *Controller) RestoreBackstep(bidder ledger.Address, bid, lot *uint256.Int, lastSettled int64) {
	c.backstep.Bidder = bidder
	c.backstep.Bid = new(uint256.Int).Set(bid)
	c.backstep.Lot = new(uint256.Int).Set(lot)
	c.backstep.LastSettled = lastSettled
}

// CheckInvariants validates sum(balances) == total_supply on every ledger.
// The core runs this after each applied command and treats a violation as
// fatal.
func (c *Controller) CheckInvariants() error {
	for _, l := range []*ledger.Ledger{c.token, c.shares, c.collateral} {
		sum, err := l.SumBalances()
		if err != nil {
			return err
		}
		if supply := l.TotalSupply(); sum.Cmp(supply) != 0 {
			return fmt.Errorf("%s ledger: sum of balances %s != total supply %s", l.Asset(), sum, supply)
		}
	}
	return nil
}

// SeedCollateral mints collateral to an account. Oracle-gated faucet for
// bootstrapping and tests; the collateral asset's real issuance is outside
// this system.
func (c *Controller) SeedCollateral(caller, to ledger.Address, amount *uint256.Int) error {
	if caller != c.authority.Oracle() {
		return fmt.Errorf("seed collateral: %w", oracle.ErrUnauthorized)
	}
	return c.collateral.Mint(to, amount)
}

// --- Collateral desk ---

// Mint1to1 pulls amount of the designated collateral from the caller into
// system custody and mints the same amount of ledger tokens to the caller.
// Active only in the fully-collateralized phase.
func (c *Controller) Mint1to1(caller ledger.Address, amount *uint256.Int) error {
	if !c.authority.FullyCollateralized() {
		return fmt.Errorf("mint 1:1: %w", ErrOpenPhaseRequired)
	}
	// Collateral pull first: if it fails, nothing is minted.
	if err := c.collateral.TransferFrom(ledger.EscrowAddress, caller, ledger.EscrowAddress, amount); err != nil {
		return fmt.Errorf("mint 1:1 collateral pull: %w", err)
	}
	if err := c.token.Mint(caller, amount); err != nil {
		return fmt.Errorf("mint 1:1: %w", err)
	}
	return nil
}

// Redeem1to1 burns amount of the caller's ledger tokens and pays out the
// same amount of collateral from custody. The burn happens first, but the
// staged execution rolls it back if the payout leg fails — tokens are never
// burned without collateral delivered.
func (c *Controller) Redeem1to1(caller ledger.Address, amount *uint256.Int) error {
	if !c.authority.FullyCollateralized() {
		return fmt.Errorf("redeem 1:1: %w", ErrOpenPhaseRequired)
	}
	if err := c.token.Burn(caller, amount); err != nil {
		return fmt.Errorf("redeem 1:1: %w", err)
	}
	if err := c.collateral.Transfer(ledger.EscrowAddress, caller, amount); err != nil {
		return fmt.Errorf("redeem 1:1 collateral payout: %w", err)
	}
	return nil
}

// --- Expansion auction (hop) ---

// TriggerHop settles the previous expansion round and opens the next one.
// Callable by anyone once the hour cooldown has elapsed; fails with TooSoon
// inside the window so callers can distinguish "nothing to do yet".
//
// Settlement pays the pending bidder the entire ledger-token balance held
// in escrow and burns the winning shares bid out of escrow. The next round
// opens only if the system is under-collateralized and the token trades
// above peg; opening mints one basis point of supply into escrow and
// refreshes the timer.
func (c *Controller) TriggerHop(now int64) error {
	if !c.hop.eligible(now) {
		return fmt.Errorf("trigger hop at %d (last %d): %w", now, c.hop.LastSettled, ErrTooSoon)
	}

	if c.hop.HasBidder() {
		if payout := c.token.BalanceOf(ledger.EscrowAddress); !payout.IsZero() {
			if err := c.token.Transfer(ledger.EscrowAddress, c.hop.Bidder, payout); err != nil {
				return fmt.Errorf("hop settlement payout: %w", err)
			}
		}
		if err := c.shares.Burn(ledger.EscrowAddress, c.hop.Bid); err != nil {
			return fmt.Errorf("hop settlement bid burn: %w", err)
		}
		c.hop.clear()
	}

	if c.expansionConditionHolds() {
		lot := roundLot(c.token.TotalSupply())
		if err := c.token.Mint(ledger.EscrowAddress, lot); err != nil {
			return fmt.Errorf("hop round open: %w", err)
		}
		c.hop.LastSettled = now
	}

	return nil
}

// BidExpand places a strictly ascending shares bid on the open expansion
// round. The previous bidder is refunded in full at the moment the new bid
// is accepted; the new bidder's shares move into escrow. No time bound:
// bids stay open until the next TriggerHop settles them.
func (c *Controller) BidExpand(caller ledger.Address, sharesAmount *uint256.Int) error {
	if err := c.hop.checkBid(sharesAmount); err != nil {
		return fmt.Errorf("bid expand: %w", err)
	}

	if c.hop.HasBidder() {
		if err := c.shares.Transfer(ledger.EscrowAddress, c.hop.Bidder, c.hop.Bid); err != nil {
			return fmt.Errorf("bid expand refund: %w", err)
		}
	}

	c.hop.record(caller, sharesAmount)

	if err := c.shares.TransferFrom(ledger.EscrowAddress, caller, ledger.EscrowAddress, sharesAmount); err != nil {
		return fmt.Errorf("bid expand escrow pull: %w", err)
	}
	return nil
}

// expansionConditionHolds: under-collateralized and token above peg.
func (c *Controller) expansionConditionHolds() bool {
	return c.authority.CollateralRatio() < oracle.FullCollateralRatio &&
		c.authority.TokenPrice().Cmp(uint256.NewInt(1)) > 0
}

// --- Contraction auction (backstep) ---

// TriggerBackstep settles the previous contraction round and opens the next
// one, on its own independent timer.
//
// Settlement mints the winning bid in shares to the pending bidder. The
// next round opens only if the system is over-collateralized and the token
// trades below peg; opening fixes the contraction lot at one basis point of
// supply — nothing is minted, the lot is collected from bidders as they bid.
func (c *Controller) TriggerBackstep(now int64) error {
	if !c.backstep.eligible(now) {
		return fmt.Errorf("trigger backstep at %d (last %d): %w", now, c.backstep.LastSettled, ErrTooSoon)
	}

	if c.backstep.HasBidder() {
		if err := c.shares.Mint(c.backstep.Bidder, c.backstep.Bid); err != nil {
			return fmt.Errorf("backstep settlement mint: %w", err)
		}
		c.backstep.clear()
	}

	if c.contractionConditionHolds() {
		c.backstep.Lot = roundLot(c.token.TotalSupply())
		c.backstep.LastSettled = now
	}

	return nil
}

// BidContract places a strictly descending ledger-token bid on the open
// contraction round; the first bid of a round is accepted unconditionally.
// The previous bidder is refunded the fixed lot; the new bidder's lot is
// pulled into escrow. Bidding requires an open round and the cooldown to
// have elapsed since the round opened.
func (c *Controller) BidContract(caller ledger.Address, tokensAmount *uint256.Int, now int64) error {
	if c.backstep.Lot.IsZero() {
		return fmt.Errorf("bid contract: %w", ErrNoActiveRound)
	}
	if now-c.backstep.LastSettled < AuctionCooldown {
		return fmt.Errorf("bid contract at %d (round opened %d): %w", now, c.backstep.LastSettled, ErrTooSoon)
	}
	if err := c.backstep.checkBid(tokensAmount); err != nil {
		return fmt.Errorf("bid contract: %w", err)
	}

	if c.backstep.HasBidder() {
		if err := c.token.Transfer(ledger.EscrowAddress, c.backstep.Bidder, c.backstep.Lot); err != nil {
			return fmt.Errorf("bid contract refund: %w", err)
		}
	}

	c.backstep.record(caller, tokensAmount)

	if err := c.token.TransferFrom(ledger.EscrowAddress, caller, ledger.EscrowAddress, c.backstep.Lot); err != nil {
		return fmt.Errorf("bid contract escrow pull: %w", err)
	}
	return nil
}

// contractionConditionHolds: over-collateralized and token below peg.
func (c *Controller) contractionConditionHolds() bool {
	return c.authority.CollateralRatio() > oracle.FullCollateralRatio &&
		c.authority.TokenPrice().Cmp(uint256.NewInt(1)) < 0
}
