package ledger_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
)

var (
	alice = ledger.MustParseAddress("0x1111111111111111111111111111111111111111")
	bob   = ledger.MustParseAddress("0x2222222222222222222222222222222222222222")
	carol = ledger.MustParseAddress("0x3333333333333333333333333333333333333333")
)

func amt(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// ============================================================================
// Test: Address
// ============================================================================

func TestParseAddress_Prefixed(t *testing.T) {
	a, err := ledger.ParseAddress("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if a != alice {
		t.Errorf("got %s, want %s", a, alice)
	}
}

func TestParseAddress_BareHex(t *testing.T) {
	a, err := ledger.ParseAddress("2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if a != bob {
		t.Errorf("got %s, want %s", a, bob)
	}
}

func TestParseAddress_WrongLength(t *testing.T) {
	if _, err := ledger.ParseAddress("0x1234"); err == nil {
		t.Error("short address should fail to parse")
	}
}

func TestParseAddress_NotHex(t *testing.T) {
	if _, err := ledger.ParseAddress("0xzzzz111111111111111111111111111111111111"); err == nil {
		t.Error("non-hex address should fail to parse")
	}
}

func TestAddress_HexRoundTrip(t *testing.T) {
	hex := alice.Hex()
	if hex != "0x1111111111111111111111111111111111111111" {
		t.Errorf("got %q, want %q", hex, "0x1111111111111111111111111111111111111111")
	}
	back, err := ledger.ParseAddress(hex)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if back != alice {
		t.Errorf("round trip changed address: got %s", back)
	}
}

func TestAddress_ZeroIsZero(t *testing.T) {
	if !ledger.ZeroAddress.IsZero() {
		t.Error("ZeroAddress.IsZero() should be true")
	}
	if alice.IsZero() {
		t.Error("non-zero address reported as zero")
	}
}

func TestEscrowAddress_Stable(t *testing.T) {
	if ledger.EscrowAddress.IsZero() {
		t.Error("escrow address must not be the null identity")
	}
	if ledger.EscrowAddress == alice {
		t.Error("escrow address collides with a test fixture")
	}
}

// ============================================================================
// Test: Mint / Burn
// ============================================================================

func TestMint_GrowsSupplyAndBalance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(1000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if got := l.BalanceOf(alice); got.Uint64() != 1000 {
		t.Errorf("balance: got %d, want %d", got.Uint64(), 1000)
	}
	if got := l.TotalSupply(); got.Uint64() != 1000 {
		t.Errorf("supply: got %d, want %d", got.Uint64(), 1000)
	}
}

func TestMint_ZeroAddressRejected(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	err := l.Mint(ledger.ZeroAddress, amt(1))
	if !errors.Is(err, ledger.ErrInvalidAccount) {
		t.Errorf("got %v, want ErrInvalidAccount", err)
	}
}

func TestBurn_ShrinksSupplyAndBalance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(1000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Burn(alice, amt(400)); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	if got := l.BalanceOf(alice); got.Uint64() != 600 {
		t.Errorf("balance: got %d, want %d", got.Uint64(), 600)
	}
	if got := l.TotalSupply(); got.Uint64() != 600 {
		t.Errorf("supply: got %d, want %d", got.Uint64(), 600)
	}
}

func TestBurn_InsufficientBalance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	err := l.Burn(alice, amt(11))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(alice); got.Uint64() != 10 {
		t.Errorf("failed burn mutated balance: got %d, want %d", got.Uint64(), 10)
	}
}

// ============================================================================
// Test: Transfer
// ============================================================================

func TestTransfer_MovesBalance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Transfer(alice, bob, amt(30)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if got := l.BalanceOf(alice); got.Uint64() != 70 {
		t.Errorf("alice balance: got %d, want %d", got.Uint64(), 70)
	}
	if got := l.BalanceOf(bob); got.Uint64() != 30 {
		t.Errorf("bob balance: got %d, want %d", got.Uint64(), 30)
	}
	if got := l.TotalSupply(); got.Uint64() != 100 {
		t.Errorf("supply changed on transfer: got %d, want %d", got.Uint64(), 100)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(5)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	err := l.Transfer(alice, bob, amt(6))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(bob); !got.IsZero() {
		t.Errorf("failed transfer credited recipient: got %d", got.Uint64())
	}
}

func TestTransfer_ZeroAddressRejected(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := l.Transfer(alice, ledger.ZeroAddress, amt(1)); !errors.Is(err, ledger.ErrInvalidAccount) {
		t.Errorf("transfer to zero: got %v, want ErrInvalidAccount", err)
	}
	if err := l.Transfer(ledger.ZeroAddress, bob, amt(1)); !errors.Is(err, ledger.ErrInvalidAccount) {
		t.Errorf("transfer from zero: got %v, want ErrInvalidAccount", err)
	}
}

func TestTransfer_FullBalancePrunesAccount(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Transfer(alice, bob, amt(10)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if got := l.BalanceOf(alice); !got.IsZero() {
		t.Errorf("alice balance: got %d, want 0", got.Uint64())
	}
	accounts := l.Accounts()
	if len(accounts) != 1 || accounts[0] != bob {
		t.Errorf("got accounts %v, want only %s", accounts, bob)
	}
}

func TestTransfer_SelfTransferKeepsBalanceAndSupply(t *testing.T) {
	rec := ledger.NewRecorder()
	l := ledger.NewLedger("FRAX", rec)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	rec.Drain()

	if err := l.Transfer(alice, alice, amt(40)); err != nil {
		t.Fatalf("self-transfer failed: %v", err)
	}

	if got := l.BalanceOf(alice); got.Uint64() != 100 {
		t.Errorf("alice balance: got %d, want %d", got.Uint64(), 100)
	}
	sum, err := l.SumBalances()
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if sum.Cmp(l.TotalSupply()) != 0 {
		t.Errorf("sum %d vs supply %d", sum.Uint64(), l.TotalSupply().Uint64())
	}

	// The transfer is still observable.
	events := rec.Drain()
	if len(events) != 1 || events[0].Kind != ledger.TokenEventTransfer {
		t.Fatalf("got %d events, want 1 transfer", len(events))
	}
	if events[0].From != alice || events[0].To != alice {
		t.Errorf("event endpoints: got %s -> %s, want alice -> alice",
			events[0].From, events[0].To)
	}
}

func TestTransfer_SelfTransferStillNeedsFunds(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := l.Transfer(alice, alice, amt(11)); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(alice); got.Uint64() != 10 {
		t.Errorf("alice balance: got %d, want %d", got.Uint64(), 10)
	}
}

// ============================================================================
// Test: Allowances
// ============================================================================

func TestApprove_SetsAbsoluteAllowance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Approve(alice, bob, amt(50)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 50 {
		t.Errorf("got %d, want %d", got.Uint64(), 50)
	}

	// re-approve replaces, never accumulates
	if err := l.Approve(alice, bob, amt(20)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 20 {
		t.Errorf("got %d, want %d", got.Uint64(), 20)
	}
}

func TestIncreaseAllowance_Accumulates(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.IncreaseAllowance(alice, bob, amt(10)); err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	if err := l.IncreaseAllowance(alice, bob, amt(15)); err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 25 {
		t.Errorf("got %d, want %d", got.Uint64(), 25)
	}
}

func TestDecreaseAllowance_FailsBelowZero(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Approve(alice, bob, amt(10)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	err := l.DecreaseAllowance(alice, bob, amt(11))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("got %v, want ErrInsufficientAllowance", err)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 10 {
		t.Errorf("failed decrease mutated allowance: got %d, want %d", got.Uint64(), 10)
	}
}

func TestTransferFrom_ConsumesExactAllowance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, carol, amt(60)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if err := l.TransferFrom(carol, alice, bob, amt(40)); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}

	if got := l.Allowance(alice, carol); got.Uint64() != 20 {
		t.Errorf("remaining allowance: got %d, want %d", got.Uint64(), 20)
	}
	if got := l.BalanceOf(bob); got.Uint64() != 40 {
		t.Errorf("bob balance: got %d, want %d", got.Uint64(), 40)
	}
}

func TestTransferFrom_InsufficientAllowance(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, carol, amt(10)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	err := l.TransferFrom(carol, alice, bob, amt(11))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("got %v, want ErrInsufficientAllowance", err)
	}
	if got := l.BalanceOf(alice); got.Uint64() != 100 {
		t.Errorf("failed transferFrom mutated balance: got %d, want %d", got.Uint64(), 100)
	}
}

func TestBurnFrom_ConsumesAllowanceAndSupply(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, carol, amt(30)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if err := l.BurnFrom(carol, alice, amt(30)); err != nil {
		t.Fatalf("burnFrom failed: %v", err)
	}

	if got := l.Allowance(alice, carol); !got.IsZero() {
		t.Errorf("allowance: got %d, want 0", got.Uint64())
	}
	if got := l.TotalSupply(); got.Uint64() != 70 {
		t.Errorf("supply: got %d, want %d", got.Uint64(), 70)
	}
}

// ============================================================================
// Test: Supply invariant
// ============================================================================

func TestSumBalances_MatchesSupply(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Mint(bob, amt(200)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Transfer(alice, carol, amt(25)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := l.Burn(bob, amt(50)); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	sum, err := l.SumBalances()
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if sum.Cmp(l.TotalSupply()) != 0 {
		t.Errorf("sum %s != supply %s", sum, l.TotalSupply())
	}
}

func TestMint_SupplyOverflow(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	max := new(uint256.Int).SetAllOne()
	if err := l.Mint(alice, max); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	err := l.Mint(bob, amt(1))
	if !errors.Is(err, ledger.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
	if got := l.TotalSupply(); got.Cmp(max) != 0 {
		t.Errorf("failed mint mutated supply")
	}
}

// ============================================================================
// Test: Transfer hook
// ============================================================================

func TestTransferHook_AbortsTransfer(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	blocked := errors.New("blocked")
	l.SetTransferHook(func(from, to ledger.Address, amount *uint256.Int) error {
		if to == bob {
			return blocked
		}
		return nil
	})

	if err := l.Transfer(alice, bob, amt(10)); !errors.Is(err, blocked) {
		t.Errorf("got %v, want hook error", err)
	}
	if got := l.BalanceOf(alice); got.Uint64() != 100 {
		t.Errorf("aborted transfer mutated balance: got %d, want %d", got.Uint64(), 100)
	}
	if err := l.Transfer(alice, carol, amt(10)); err != nil {
		t.Errorf("hook should pass carol through: %v", err)
	}
}

// ============================================================================
// Test: Events
// ============================================================================

func TestRecorder_TransferAndApprovalEvents(t *testing.T) {
	rec := ledger.NewRecorder()
	l := ledger.NewLedger("FRAX", rec)

	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Transfer(alice, bob, amt(40)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := l.Approve(alice, carol, amt(5)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	events := rec.Drain()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	mint := events[0]
	if mint.Kind != ledger.TokenEventTransfer || !mint.From.IsZero() || mint.To != alice {
		t.Errorf("mint event malformed: %+v", mint)
	}
	xfer := events[1]
	if xfer.Kind != ledger.TokenEventTransfer || xfer.From != alice || xfer.To != bob || xfer.Amount.Uint64() != 40 {
		t.Errorf("transfer event malformed: %+v", xfer)
	}
	appr := events[2]
	if appr.Kind != ledger.TokenEventApproval || appr.From != alice || appr.To != carol {
		t.Errorf("approval event malformed: %+v", appr)
	}

	if again := rec.Drain(); len(again) != 0 {
		t.Errorf("drain should reset: got %d events", len(again))
	}
}

func TestRecorder_SpendAllowanceEmitsNoApproval(t *testing.T) {
	rec := ledger.NewRecorder()
	l := ledger.NewLedger("FRAX", rec)

	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, carol, amt(50)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	rec.Drain()

	if err := l.TransferFrom(carol, alice, bob, amt(10)); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}

	events := rec.Drain()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != ledger.TokenEventTransfer {
		t.Errorf("got %s event, want Transfer only", events[0].Kind)
	}
}

// ============================================================================
// Test: Clone
// ============================================================================

func TestClone_IsolatedFromOriginal(t *testing.T) {
	l := ledger.NewLedger("FRAX", nil)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, bob, amt(10)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	cp := l.Clone(nil)
	if err := cp.Transfer(alice, bob, amt(60)); err != nil {
		t.Fatalf("clone transfer failed: %v", err)
	}
	if err := cp.Approve(alice, bob, amt(99)); err != nil {
		t.Fatalf("clone approve failed: %v", err)
	}

	if got := l.BalanceOf(alice); got.Uint64() != 100 {
		t.Errorf("clone write leaked into original balance: got %d", got.Uint64())
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 10 {
		t.Errorf("clone write leaked into original allowance: got %d", got.Uint64())
	}
	if got := cp.BalanceOf(bob); got.Uint64() != 60 {
		t.Errorf("clone balance: got %d, want %d", got.Uint64(), 60)
	}
}
