package controller_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"fraxd/internal/controller"
	"fraxd/internal/ledger"
	"fraxd/internal/oracle"
)

var (
	oracleAddr = ledger.MustParseAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	alice      = ledger.MustParseAddress("0x1111111111111111111111111111111111111111")
	bob        = ledger.MustParseAddress("0x2222222222222222222222222222222222222222")
)

func amt(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func newController(t *testing.T) *controller.Controller {
	t.Helper()
	return controller.New(oracleAddr)
}

// seedAndApprove gives an account collateral and approves the escrow to
// pull it, the precondition for Mint1to1.
func seedAndApprove(t *testing.T, c *controller.Controller, account ledger.Address, amount uint64) {
	t.Helper()
	if err := c.SeedCollateral(oracleAddr, account, amt(amount)); err != nil {
		t.Fatalf("seed collateral failed: %v", err)
	}
	if err := c.Collateral().Approve(account, ledger.EscrowAddress, amt(amount)); err != nil {
		t.Fatalf("approve escrow failed: %v", err)
	}
}

// ============================================================================
// Test: Asset resolution
// ============================================================================

func TestLedgerFor_KnownAssets(t *testing.T) {
	c := newController(t)

	cases := []struct {
		asset string
		want  *ledger.Ledger
	}{
		{controller.AssetToken, c.Token()},
		{controller.AssetShares, c.Shares()},
		{controller.AssetCollateral, c.Collateral()},
	}
	for _, tc := range cases {
		got, err := c.LedgerFor(tc.asset)
		if err != nil {
			t.Fatalf("%s: %v", tc.asset, err)
		}
		if got != tc.want {
			t.Errorf("%s resolved to the wrong ledger", tc.asset)
		}
	}
}

func TestLedgerFor_UnknownAsset(t *testing.T) {
	c := newController(t)
	_, err := c.LedgerFor("DOGE")
	if !errors.Is(err, controller.ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
}

// ============================================================================
// Test: SeedCollateral
// ============================================================================

func TestSeedCollateral_OracleOnly(t *testing.T) {
	c := newController(t)

	if err := c.SeedCollateral(alice, alice, amt(100)); !errors.Is(err, oracle.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if err := c.SeedCollateral(oracleAddr, alice, amt(100)); err != nil {
		t.Fatalf("oracle seed failed: %v", err)
	}
	if got := c.Collateral().BalanceOf(alice); got.Uint64() != 100 {
		t.Errorf("got %d, want %d", got.Uint64(), 100)
	}
}

// ============================================================================
// Test: Mint1to1
// ============================================================================

func TestMint1to1_PullsCollateralAndMints(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 500)

	if err := c.Mint1to1(alice, amt(500)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}

	if got := c.Token().BalanceOf(alice); got.Uint64() != 500 {
		t.Errorf("token balance: got %d, want %d", got.Uint64(), 500)
	}
	if got := c.Collateral().BalanceOf(alice); !got.IsZero() {
		t.Errorf("collateral left with caller: got %d", got.Uint64())
	}
	if got := c.Collateral().BalanceOf(ledger.EscrowAddress); got.Uint64() != 500 {
		t.Errorf("escrow custody: got %d, want %d", got.Uint64(), 500)
	}
	if got := c.Token().TotalSupply(); got.Uint64() != 500 {
		t.Errorf("token supply: got %d, want %d", got.Uint64(), 500)
	}
}

func TestMint1to1_RequiresFullCollateralization(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 100)

	if err := c.Authority().SetCollateralRatio(oracleAddr, oracle.FullCollateralRatio-1); err != nil {
		t.Fatalf("set ratio failed: %v", err)
	}

	err := c.Mint1to1(alice, amt(100))
	if !errors.Is(err, controller.ErrOpenPhaseRequired) {
		t.Errorf("got %v, want ErrOpenPhaseRequired", err)
	}
	if got := c.Token().TotalSupply(); !got.IsZero() {
		t.Errorf("rejected mint changed supply: got %d", got.Uint64())
	}
}

func TestMint1to1_RequiresEscrowAllowance(t *testing.T) {
	c := newController(t)
	if err := c.SeedCollateral(oracleAddr, alice, amt(100)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// No approval: the collateral pull must fail before anything is minted.
	err := c.Mint1to1(alice, amt(100))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("got %v, want ErrInsufficientAllowance", err)
	}
	if got := c.Token().TotalSupply(); !got.IsZero() {
		t.Errorf("failed pull still minted: got %d", got.Uint64())
	}
}

// ============================================================================
// Test: Redeem1to1
// ============================================================================

func TestRedeem1to1_BurnsAndPaysOut(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 300)
	if err := c.Mint1to1(alice, amt(300)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}

	if err := c.Redeem1to1(alice, amt(120)); err != nil {
		t.Fatalf("redeem 1:1 failed: %v", err)
	}

	if got := c.Token().BalanceOf(alice); got.Uint64() != 180 {
		t.Errorf("token balance: got %d, want %d", got.Uint64(), 180)
	}
	if got := c.Collateral().BalanceOf(alice); got.Uint64() != 120 {
		t.Errorf("collateral paid out: got %d, want %d", got.Uint64(), 120)
	}
	if got := c.Collateral().BalanceOf(ledger.EscrowAddress); got.Uint64() != 180 {
		t.Errorf("escrow custody: got %d, want %d", got.Uint64(), 180)
	}
	if got := c.Token().TotalSupply(); got.Uint64() != 180 {
		t.Errorf("token supply: got %d, want %d", got.Uint64(), 180)
	}
}

func TestRedeem1to1_RequiresFullCollateralization(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 100)
	if err := c.Mint1to1(alice, amt(100)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}

	if err := c.Authority().SetCollateralRatio(oracleAddr, oracle.FullCollateralRatio+1); err != nil {
		t.Fatalf("set ratio failed: %v", err)
	}

	err := c.Redeem1to1(alice, amt(100))
	if !errors.Is(err, controller.ErrOpenPhaseRequired) {
		t.Errorf("got %v, want ErrOpenPhaseRequired", err)
	}
}

func TestRedeem1to1_InsufficientTokens(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 50)
	if err := c.Mint1to1(alice, amt(50)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}

	err := c.Redeem1to1(alice, amt(51))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

// ============================================================================
// Test: Invariants and staging
// ============================================================================

func TestCheckInvariants_HoldsThroughDeskCycle(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 1000)

	if err := c.Mint1to1(alice, amt(1000)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}
	if err := c.Token().Transfer(alice, bob, amt(250)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := c.Redeem1to1(alice, amt(500)); err != nil {
		t.Fatalf("redeem 1:1 failed: %v", err)
	}

	if err := c.CheckInvariants(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

func TestClone_IsolatedFromOriginal(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 100)
	if err := c.Mint1to1(alice, amt(100)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}

	staged := c.Clone()
	if err := staged.Token().Transfer(alice, bob, amt(40)); err != nil {
		t.Fatalf("staged transfer failed: %v", err)
	}
	if err := staged.Authority().SetCollateralRatio(oracleAddr, 7); err != nil {
		t.Fatalf("staged set ratio failed: %v", err)
	}

	if got := c.Token().BalanceOf(bob); !got.IsZero() {
		t.Errorf("staged write leaked into original: got %d", got.Uint64())
	}
	if c.Authority().CollateralRatio() != oracle.FullCollateralRatio {
		t.Error("staged authority write leaked into original")
	}
}

func TestDrainEvents_CollectsAcrossLedgers(t *testing.T) {
	c := newController(t)
	seedAndApprove(t, c, alice, 100)
	c.DrainEvents()

	if err := c.Mint1to1(alice, amt(100)); err != nil {
		t.Fatalf("mint 1:1 failed: %v", err)
	}

	// One collateral Transfer (pull) plus one token Transfer (mint).
	events := c.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Asset != controller.AssetCollateral || events[1].Asset != controller.AssetToken {
		t.Errorf("got assets %s then %s, want %s then %s",
			events[0].Asset, events[1].Asset, controller.AssetCollateral, controller.AssetToken)
	}
}
