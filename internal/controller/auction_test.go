package controller_test

import (
	"errors"
	"testing"

	"fraxd/internal/controller"
	"fraxd/internal/ledger"
	"fraxd/internal/oracle"
)

// hopController builds a controller with circulating supply and the
// expansion condition holding: under-collateralized and token above peg.
func hopController(t *testing.T) *controller.Controller {
	t.Helper()
	c := controller.New(oracleAddr)
	if err := c.Token().Mint(alice, amt(1_000_000)); err != nil {
		t.Fatalf("mint supply failed: %v", err)
	}
	if err := c.Authority().SetCollateralRatio(oracleAddr, oracle.FullCollateralRatio-1); err != nil {
		t.Fatalf("set ratio failed: %v", err)
	}
	if err := c.Authority().SetPrices(oracleAddr, amt(2), amt(1)); err != nil {
		t.Fatalf("set prices failed: %v", err)
	}
	return c
}

// backstepController builds a controller with circulating supply and the
// contraction condition holding: over-collateralized and token below peg.
func backstepController(t *testing.T) *controller.Controller {
	t.Helper()
	c := controller.New(oracleAddr)
	if err := c.Token().Mint(alice, amt(1_000_000)); err != nil {
		t.Fatalf("mint supply failed: %v", err)
	}
	if err := c.Token().Transfer(alice, bob, amt(400_000)); err != nil {
		t.Fatalf("fund bob failed: %v", err)
	}
	if err := c.Authority().SetCollateralRatio(oracleAddr, oracle.FullCollateralRatio+1); err != nil {
		t.Fatalf("set ratio failed: %v", err)
	}
	if err := c.Authority().SetPrices(oracleAddr, amt(0), amt(1)); err != nil {
		t.Fatalf("set prices failed: %v", err)
	}
	return c
}

// giveShares mints shares to an account and approves the escrow pull.
func giveShares(t *testing.T, c *controller.Controller, account ledger.Address, amount uint64) {
	t.Helper()
	if err := c.Shares().Mint(account, amt(amount)); err != nil {
		t.Fatalf("mint shares failed: %v", err)
	}
	if err := c.Shares().Approve(account, ledger.EscrowAddress, amt(amount)); err != nil {
		t.Fatalf("approve shares failed: %v", err)
	}
}

// approveTokens approves the escrow to pull ledger tokens from an account.
func approveTokens(t *testing.T, c *controller.Controller, account ledger.Address, amount uint64) {
	t.Helper()
	if err := c.Token().Approve(account, ledger.EscrowAddress, amt(amount)); err != nil {
		t.Fatalf("approve tokens failed: %v", err)
	}
}

// ============================================================================
// Test: TriggerHop
// ============================================================================

func TestTriggerHop_TooSoon(t *testing.T) {
	c := hopController(t)
	err := c.TriggerHop(controller.AuctionCooldown - 1)
	if !errors.Is(err, controller.ErrTooSoon) {
		t.Errorf("got %v, want ErrTooSoon", err)
	}
}

func TestTriggerHop_OpensRoundWhenConditionHolds(t *testing.T) {
	c := hopController(t)
	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	// lot = supply / 10000
	if got := c.Token().BalanceOf(ledger.EscrowAddress); got.Uint64() != 100 {
		t.Errorf("escrow lot: got %d, want %d", got.Uint64(), 100)
	}
	if got := c.Token().TotalSupply(); got.Uint64() != 1_000_100 {
		t.Errorf("supply: got %d, want %d", got.Uint64(), 1_000_100)
	}
	if got := c.HopRound().LastSettled; got != 3600 {
		t.Errorf("last settled: got %d, want %d", got, 3600)
	}
}

func TestTriggerHop_NoRoundWhenFullyCollateralized(t *testing.T) {
	c := controller.New(oracleAddr)
	if err := c.Token().Mint(alice, amt(1_000_000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := c.Authority().SetPrices(oracleAddr, amt(2), amt(1)); err != nil {
		t.Fatalf("set prices failed: %v", err)
	}

	// Ratio still at 100%: the trigger runs but opens nothing.
	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if got := c.Token().BalanceOf(ledger.EscrowAddress); !got.IsZero() {
		t.Errorf("escrow should stay empty: got %d", got.Uint64())
	}
	if got := c.HopRound().LastSettled; got != 0 {
		t.Errorf("timer should not refresh without a round: got %d", got)
	}
}

func TestTriggerHop_NoRoundWhenBelowPeg(t *testing.T) {
	c := hopController(t)
	if err := c.Authority().SetPrices(oracleAddr, amt(1), amt(1)); err != nil {
		t.Fatalf("set prices failed: %v", err)
	}

	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if got := c.Token().BalanceOf(ledger.EscrowAddress); !got.IsZero() {
		t.Errorf("price at peg should not open a round: got %d", got.Uint64())
	}
}

// ============================================================================
// Test: BidExpand
// ============================================================================

func TestBidExpand_AscendingOrder(t *testing.T) {
	c := hopController(t)
	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	giveShares(t, c, bob, 50)
	giveShares(t, c, alice, 50)

	if err := c.BidExpand(bob, amt(10)); err != nil {
		t.Fatalf("first bid failed: %v", err)
	}
	round := c.HopRound()
	if round.Bidder != bob || round.Bid.Uint64() != 10 {
		t.Errorf("standing bid: got (%s, %d), want (%s, 10)", round.Bidder, round.Bid.Uint64(), bob)
	}
	if got := c.Shares().BalanceOf(ledger.EscrowAddress); got.Uint64() != 10 {
		t.Errorf("escrowed shares: got %d, want %d", got.Uint64(), 10)
	}

	// Equal bid does not beat the standing bid.
	if err := c.BidExpand(alice, amt(10)); !errors.Is(err, controller.ErrBidTooLow) {
		t.Errorf("equal bid: got %v, want ErrBidTooLow", err)
	}

	// Higher bid replaces and refunds in full.
	if err := c.BidExpand(alice, amt(20)); err != nil {
		t.Fatalf("outbid failed: %v", err)
	}
	if got := c.Shares().BalanceOf(bob); got.Uint64() != 50 {
		t.Errorf("refund: got %d, want %d", got.Uint64(), 50)
	}
	if got := c.Shares().BalanceOf(ledger.EscrowAddress); got.Uint64() != 20 {
		t.Errorf("escrowed shares: got %d, want %d", got.Uint64(), 20)
	}
	if got := c.HopRound().Bidder; got != alice {
		t.Errorf("bidder: got %s, want %s", got, alice)
	}
}

func TestBidExpand_RequiresSharesAllowance(t *testing.T) {
	c := hopController(t)
	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if err := c.Shares().Mint(bob, amt(50)); err != nil {
		t.Fatalf("mint shares failed: %v", err)
	}

	err := c.BidExpand(bob, amt(10))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("got %v, want ErrInsufficientAllowance", err)
	}
}

func TestTriggerHop_SettlesPendingBid(t *testing.T) {
	c := hopController(t)
	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	giveShares(t, c, bob, 50)
	if err := c.BidExpand(bob, amt(20)); err != nil {
		t.Fatalf("bid failed: %v", err)
	}

	// Break the condition so settlement does not open a fresh round.
	if err := c.Authority().SetPrices(oracleAddr, amt(1), amt(1)); err != nil {
		t.Fatalf("set prices failed: %v", err)
	}
	if err := c.TriggerHop(7200); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Winner takes the escrowed lot; the winning shares bid is burned.
	if got := c.Token().BalanceOf(bob); got.Uint64() != 100 {
		t.Errorf("payout: got %d, want %d", got.Uint64(), 100)
	}
	if got := c.Shares().BalanceOf(ledger.EscrowAddress); !got.IsZero() {
		t.Errorf("escrowed shares after settle: got %d, want 0", got.Uint64())
	}
	if got := c.Shares().TotalSupply(); got.Uint64() != 30 {
		t.Errorf("shares supply after burn: got %d, want %d", got.Uint64(), 30)
	}
	if c.HopRound().HasBidder() {
		t.Error("round should be cleared after settlement")
	}
	if err := c.CheckInvariants(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

// ============================================================================
// Test: TriggerBackstep
// ============================================================================

func TestTriggerBackstep_OpensFixedLot(t *testing.T) {
	c := backstepController(t)
	if err := c.TriggerBackstep(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	round := c.BackstepRound()
	if round.Lot.Uint64() != 100 {
		t.Errorf("lot: got %d, want %d", round.Lot.Uint64(), 100)
	}
	if round.LastSettled != 3600 {
		t.Errorf("last settled: got %d, want %d", round.LastSettled, 3600)
	}
	// Opening mints nothing; the lot is collected from bidders.
	if got := c.Token().TotalSupply(); got.Uint64() != 1_000_000 {
		t.Errorf("supply: got %d, want %d", got.Uint64(), 1_000_000)
	}
}

func TestTriggerBackstep_NoRoundWhenAbovePeg(t *testing.T) {
	c := backstepController(t)
	if err := c.Authority().SetPrices(oracleAddr, amt(2), amt(1)); err != nil {
		t.Fatalf("set prices failed: %v", err)
	}

	if err := c.TriggerBackstep(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if got := c.BackstepRound().Lot; !got.IsZero() {
		t.Errorf("price above peg should not open a round: lot %d", got.Uint64())
	}
}

// ============================================================================
// Test: BidContract
// ============================================================================

func TestBidContract_NoActiveRound(t *testing.T) {
	c := backstepController(t)
	err := c.BidContract(alice, amt(90), 7200)
	if !errors.Is(err, controller.ErrNoActiveRound) {
		t.Errorf("got %v, want ErrNoActiveRound", err)
	}
}

func TestBidContract_CooldownSinceOpen(t *testing.T) {
	c := backstepController(t)
	if err := c.TriggerBackstep(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	approveTokens(t, c, alice, 100)

	err := c.BidContract(alice, amt(90), 3600+controller.AuctionCooldown-1)
	if !errors.Is(err, controller.ErrTooSoon) {
		t.Errorf("got %v, want ErrTooSoon", err)
	}
}

func TestBidContract_DescendingOrder(t *testing.T) {
	c := backstepController(t)
	if err := c.TriggerBackstep(3600); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	approveTokens(t, c, alice, 100)
	approveTokens(t, c, bob, 100)

	// First bid is accepted unconditionally; the fixed lot is pulled.
	if err := c.BidContract(alice, amt(90), 7200); err != nil {
		t.Fatalf("first bid failed: %v", err)
	}
	if got := c.Token().BalanceOf(ledger.EscrowAddress); got.Uint64() != 100 {
		t.Errorf("escrowed lot: got %d, want %d", got.Uint64(), 100)
	}

	// Not strictly lower.
	if err := c.BidContract(bob, amt(90), 7200); !errors.Is(err, controller.ErrBidTooLow) {
		t.Errorf("equal bid: got %v, want ErrBidTooLow", err)
	}

	// Lower bid replaces; the previous bidder gets the lot back.
	aliceBefore := c.Token().BalanceOf(alice).Uint64()
	if err := c.BidContract(bob, amt(80), 7200); err != nil {
		t.Fatalf("underbid failed: %v", err)
	}
	if got := c.Token().BalanceOf(alice).Uint64(); got != aliceBefore+100 {
		t.Errorf("refund: got %d, want %d", got, aliceBefore+100)
	}
	round := c.BackstepRound()
	if round.Bidder != bob || round.Bid.Uint64() != 80 {
		t.Errorf("standing bid: got (%s, %d), want (%s, 80)", round.Bidder, round.Bid.Uint64(), bob)
	}
}

func TestTriggerBackstep_SettlesPendingBid(t *testing.T) {
	c := backstepController(t)
	if err := c.TriggerBackstep(3600); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	approveTokens(t, c, bob, 100)
	if err := c.BidContract(bob, amt(75), 7200); err != nil {
		t.Fatalf("bid failed: %v", err)
	}

	// Break the condition so settlement does not open a fresh round.
	if err := c.Authority().SetCollateralRatio(oracleAddr, oracle.FullCollateralRatio); err != nil {
		t.Fatalf("set ratio failed: %v", err)
	}
	if err := c.TriggerBackstep(10800); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Winner is minted the winning bid in shares; the contracted lot
	// stays in escrow.
	if got := c.Shares().BalanceOf(bob); got.Uint64() != 75 {
		t.Errorf("shares payout: got %d, want %d", got.Uint64(), 75)
	}
	if got := c.Token().BalanceOf(ledger.EscrowAddress); got.Uint64() != 100 {
		t.Errorf("escrowed lot: got %d, want %d", got.Uint64(), 100)
	}
	if c.BackstepRound().HasBidder() {
		t.Error("round should be cleared after settlement")
	}
	if err := c.CheckInvariants(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

func TestAuctions_IndependentTimers(t *testing.T) {
	c := hopController(t)
	if err := c.TriggerHop(3600); err != nil {
		t.Fatalf("hop trigger failed: %v", err)
	}

	// The hop timer refreshed; the backstep timer did not.
	if err := c.TriggerHop(3601); !errors.Is(err, controller.ErrTooSoon) {
		t.Errorf("hop retrigger: got %v, want ErrTooSoon", err)
	}
	if err := c.TriggerBackstep(3601); err != nil {
		t.Errorf("backstep trigger blocked by hop timer: %v", err)
	}
}
