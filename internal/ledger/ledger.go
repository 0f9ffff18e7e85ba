package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// TransferHook runs before every balance mutation (mint, burn, transfer).
// Returning an error aborts the mutation. The zero address appears as from
// on mint and as to on burn.
type TransferHook func(from, to Address, amount *uint256.Int) error

// Ledger is a fungible-token balance and allowance ledger with checked
// arithmetic. Invariant: the sum of all balances equals totalSupply at
// every quiescent point; both are mutated only inside Mint, Burn and the
// transfer primitives.
//
// Not thread-safe — only accessed from the single-threaded core.
type Ledger struct {
	asset       string
	balances    map[Address]*uint256.Int
	allowances  map[Address]map[Address]*uint256.Int
	totalSupply *uint256.Int

	hook     TransferHook
	recorder *Recorder
}

func NewLedger(asset string, recorder *Recorder) *Ledger {
	return &Ledger{
		asset:       asset,
		balances:    make(map[Address]*uint256.Int),
		allowances:  make(map[Address]map[Address]*uint256.Int),
		totalSupply: uint256.NewInt(0),
		recorder:    recorder,
	}
}

// SetTransferHook installs the pre-transfer hook. The default is a no-op.
func (l *Ledger) SetTransferHook(hook TransferHook) {
	l.hook = hook
}

// Asset returns the asset symbol this ledger tracks.
func (l *Ledger) Asset() string {
	return l.asset
}

// TotalSupply returns the current total supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(l.totalSupply)
}

// BalanceOf returns the balance of an account (zero for unknown accounts).
func (l *Ledger) BalanceOf(account Address) *uint256.Int {
	if b, ok := l.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return uint256.NewInt(0)
}

// Allowance returns the remaining allowance of spender over owner's tokens.
func (l *Ledger) Allowance(owner, spender Address) *uint256.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(uint256.Int).Set(a)
		}
	}
	return uint256.NewInt(0)
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to Address, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%s transfer: %w", l.asset, ErrInvalidAccount)
	}
	if err := l.runHook(from, to, amount); err != nil {
		return err
	}
	if from == to {
		// Self-transfer is a no-op on balances but still needs funds.
		if _, err := checkedSub(l.BalanceOf(from), amount, ErrInsufficientBalance); err != nil {
			return fmt.Errorf("%s transfer from %s: %w", l.asset, from, err)
		}
		l.emit(TokenEventTransfer, from, to, amount)
		return nil
	}

	newFrom, err := checkedSub(l.BalanceOf(from), amount, ErrInsufficientBalance)
	if err != nil {
		return fmt.Errorf("%s transfer from %s: %w", l.asset, from, err)
	}
	newTo, err := checkedAdd(l.BalanceOf(to), amount)
	if err != nil {
		return fmt.Errorf("%s transfer to %s: %w", l.asset, to, err)
	}

	l.setBalance(from, newFrom)
	l.setBalance(to, newTo)
	l.emit(TokenEventTransfer, from, to, amount)
	return nil
}

// Approve sets the allowance of spender over owner's tokens to an absolute
// value, replacing any previous allowance.
func (l *Ledger) Approve(owner, spender Address, amount *uint256.Int) error {
	l.setAllowance(owner, spender, new(uint256.Int).Set(amount))
	l.emit(TokenEventApproval, owner, spender, amount)
	return nil
}

// IncreaseAllowance raises the allowance by delta.
func (l *Ledger) IncreaseAllowance(owner, spender Address, delta *uint256.Int) error {
	next, err := checkedAdd(l.Allowance(owner, spender), delta)
	if err != nil {
		return fmt.Errorf("%s increase allowance: %w", l.asset, err)
	}
	l.setAllowance(owner, spender, next)
	l.emit(TokenEventApproval, owner, spender, next)
	return nil
}

// DecreaseAllowance lowers the allowance by delta. Fails rather than
// dropping below zero.
func (l *Ledger) DecreaseAllowance(owner, spender Address, delta *uint256.Int) error {
	next, err := checkedSub(l.Allowance(owner, spender), delta, ErrInsufficientAllowance)
	if err != nil {
		return fmt.Errorf("%s decrease allowance: %w", l.asset, err)
	}
	l.setAllowance(owner, spender, next)
	l.emit(TokenEventApproval, owner, spender, next)
	return nil
}

// TransferFrom moves amount from one account to another on behalf of
// spender, consuming exactly amount of the spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to Address, amount *uint256.Int) error {
	if err := l.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	return l.Transfer(from, to, amount)
}

// Mint creates amount new tokens on the recipient's balance, growing total
// supply by the same amount.
func (l *Ledger) Mint(to Address, amount *uint256.Int) error {
	if to.IsZero() {
		return fmt.Errorf("%s mint: %w", l.asset, ErrInvalidAccount)
	}
	if err := l.runHook(ZeroAddress, to, amount); err != nil {
		return err
	}

	newSupply, err := checkedAdd(l.totalSupply, amount)
	if err != nil {
		return fmt.Errorf("%s mint supply: %w", l.asset, err)
	}
	newBalance, err := checkedAdd(l.BalanceOf(to), amount)
	if err != nil {
		return fmt.Errorf("%s mint to %s: %w", l.asset, to, err)
	}

	l.totalSupply = newSupply
	l.setBalance(to, newBalance)
	l.emit(TokenEventTransfer, ZeroAddress, to, amount)
	return nil
}

// Burn destroys amount tokens from an account, shrinking total supply.
func (l *Ledger) Burn(from Address, amount *uint256.Int) error {
	if from.IsZero() {
		return fmt.Errorf("%s burn: %w", l.asset, ErrInvalidAccount)
	}
	if err := l.runHook(from, ZeroAddress, amount); err != nil {
		return err
	}

	newBalance, err := checkedSub(l.BalanceOf(from), amount, ErrInsufficientBalance)
	if err != nil {
		return fmt.Errorf("%s burn from %s: %w", l.asset, from, err)
	}
	newSupply, err := checkedSub(l.totalSupply, amount, ErrInsufficientBalance)
	if err != nil {
		return fmt.Errorf("%s burn supply: %w", l.asset, err)
	}

	l.setBalance(from, newBalance)
	l.totalSupply = newSupply
	l.emit(TokenEventTransfer, from, ZeroAddress, amount)
	return nil
}

// BurnFrom burns amount from an account on behalf of spender, consuming
// exactly amount of the spender's allowance.
func (l *Ledger) BurnFrom(spender, from Address, amount *uint256.Int) error {
	if err := l.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	return l.Burn(from, amount)
}

// SumBalances adds up every account balance. The core validates
// SumBalances == TotalSupply after each applied command.
func (l *Ledger) SumBalances() (*uint256.Int, error) {
	sum := uint256.NewInt(0)
	for _, b := range l.balances {
		next, err := checkedAdd(sum, b)
		if err != nil {
			return nil, fmt.Errorf("%s balance sum: %w", l.asset, err)
		}
		sum = next
	}
	return sum, nil
}

// Accounts returns all non-zero account addresses. Order is unspecified;
// callers that need determinism must sort.
func (l *Ledger) Accounts() []Address {
	accounts := make([]Address, 0, len(l.balances))
	for a, b := range l.balances {
		if !b.IsZero() {
			accounts = append(accounts, a)
		}
	}
	return accounts
}

// Balances returns a deep copy of the balance map for snapshots.
func (l *Ledger) Balances() map[Address]*uint256.Int {
	cp := make(map[Address]*uint256.Int, len(l.balances))
	for a, b := range l.balances {
		cp[a] = new(uint256.Int).Set(b)
	}
	return cp
}

// Allowances returns a deep copy of the allowance table for snapshots.
func (l *Ledger) Allowances() map[Address]map[Address]*uint256.Int {
	cp := make(map[Address]map[Address]*uint256.Int, len(l.allowances))
	for owner, m := range l.allowances {
		inner := make(map[Address]*uint256.Int, len(m))
		for spender, a := range m {
			inner[spender] = new(uint256.Int).Set(a)
		}
		cp[owner] = inner
	}
	return cp
}

// RestoreBalance sets an account balance directly. Snapshot restore only —
// bypasses events and the transfer hook.
func (l *Ledger) RestoreBalance(account Address, balance *uint256.Int) {
	l.setBalance(account, new(uint256.Int).Set(balance))
}

// RestoreAllowance sets an allowance directly. Snapshot restore only.
func (l *Ledger) RestoreAllowance(owner, spender Address, amount *uint256.Int) {
	l.setAllowance(owner, spender, new(uint256.Int).Set(amount))
}

// RestoreSupply sets total supply directly. Snapshot restore only.
func (l *Ledger) RestoreSupply(supply *uint256.Int) {
	l.totalSupply = new(uint256.Int).Set(supply)
}

// Clone deep-copies the ledger, attaching the given recorder. Used to stage
// a command's writes: the staged copy is mutated and only replaces the
// canonical ledger if the command commits.
func (l *Ledger) Clone(recorder *Recorder) *Ledger {
	cp := &Ledger{
		asset:       l.asset,
		balances:    l.Balances(),
		allowances:  l.Allowances(),
		totalSupply: new(uint256.Int).Set(l.totalSupply),
		hook:        l.hook,
		recorder:    recorder,
	}
	return cp
}

// --- internals ---

func (l *Ledger) spendAllowance(owner, spender Address, amount *uint256.Int) error {
	remaining, err := checkedSub(l.Allowance(owner, spender), amount, ErrInsufficientAllowance)
	if err != nil {
		return fmt.Errorf("%s spender %s for owner %s: %w", l.asset, spender, owner, err)
	}
	// True running balance: decrement by exactly amount, no Approval event.
	l.setAllowance(owner, spender, remaining)
	return nil
}

func (l *Ledger) runHook(from, to Address, amount *uint256.Int) error {
	if l.hook == nil {
		return nil
	}
	if err := l.hook(from, to, amount); err != nil {
		return fmt.Errorf("%s pre-transfer hook: %w", l.asset, err)
	}
	return nil
}

func (l *Ledger) setBalance(account Address, balance *uint256.Int) {
	if balance.IsZero() {
		delete(l.balances, account)
		return
	}
	l.balances[account] = balance
}

func (l *Ledger) setAllowance(owner, spender Address, amount *uint256.Int) {
	if amount.IsZero() {
		if m, ok := l.allowances[owner]; ok {
			delete(m, spender)
			if len(m) == 0 {
				delete(l.allowances, owner)
			}
		}
		return
	}
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[Address]*uint256.Int)
		l.allowances[owner] = m
	}
	m[spender] = amount
}

func (l *Ledger) emit(kind TokenEventKind, from, to Address, amount *uint256.Int) {
	if l.recorder == nil {
		return
	}
	l.recorder.record(TokenEvent{
		Kind:   kind,
		Asset:  l.asset,
		From:   from,
		To:     to,
		Amount: new(uint256.Int).Set(amount),
	})
}
