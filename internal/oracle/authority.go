// Package oracle holds the privileged price and registry state. A single
// authorized identity pushes (token price, shares price) pairs and manages
// the collateral/pool registries; every other component only reads.
package oracle

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
)

// ErrUnauthorized is returned when a gated operation is invoked by any
// identity other than the current oracle address.
var ErrUnauthorized = errors.New("unauthorized: caller is not the oracle")

// FullCollateralRatio is the fixed-point phase boundary: 1e8 == 100%.
// At exactly this value the system is in the fully-collateralized phase.
const FullCollateralRatio uint64 = 100_000_000

// Authority is the explicit configuration/authority record. It is passed by
// reference into the components that read it; all mutation funnels through
// the caller-checked setters below. No ambient or static state.
type Authority struct {
	oracle ledger.Address

	tokenPrice  *uint256.Int
	sharesPrice *uint256.Int

	// Fixed-point, denominator 1e8 = 100%. Set to FullCollateralRatio at
	// genesis; a lower value switches the system out of the 1:1 phase.
	collateralRatio uint64

	primaryCollateral ledger.Address

	// Append-only registries. No duplicate or zero-address validation —
	// registration is trusted oracle input.
	collaterals []ledger.Address
	pools       []ledger.Address
}

func NewAuthority(oracleAddr ledger.Address) *Authority {
	return &Authority{
		oracle:          oracleAddr,
		tokenPrice:      uint256.NewInt(0),
		sharesPrice:     uint256.NewInt(0),
		collateralRatio: FullCollateralRatio,
	}
}

// Oracle returns the current authorized oracle address.
func (a *Authority) Oracle() ledger.Address {
	return a.oracle
}

// SetOracle hands the oracle role to a new address. Only the current
// oracle may call it.
func (a *Authority) SetOracle(caller, next ledger.Address) error {
	if err := a.gate(caller); err != nil {
		return err
	}
	a.oracle = next
	return nil
}

// SetPrices pushes a new (token price, shares price) pair. No bounds or
// drift checks here: the oracle is a trust boundary, not a validator.
func (a *Authority) SetPrices(caller ledger.Address, tokenPrice, sharesPrice *uint256.Int) error {
	if err := a.gate(caller); err != nil {
		return err
	}
	a.tokenPrice = new(uint256.Int).Set(tokenPrice)
	a.sharesPrice = new(uint256.Int).Set(sharesPrice)
	return nil
}

// TokenPrice returns the last pushed ledger-token price.
func (a *Authority) TokenPrice() *uint256.Int {
	return new(uint256.Int).Set(a.tokenPrice)
}

// SharesPrice returns the last pushed shares-token price.
func (a *Authority) SharesPrice() *uint256.Int {
	return new(uint256.Int).Set(a.sharesPrice)
}

// CollateralRatio returns the fixed-point collateral ratio (1e8 = 100%).
func (a *Authority) CollateralRatio() uint64 {
	return a.collateralRatio
}

// SetCollateralRatio moves the phase indicator. Oracle-gated; carried so
// the phase logic is reachable by governance and tests.
func (a *Authority) SetCollateralRatio(caller ledger.Address, ratio uint64) error {
	if err := a.gate(caller); err != nil {
		return err
	}
	a.collateralRatio = ratio
	return nil
}

// FullyCollateralized reports whether the system is in the 1:1 phase.
func (a *Authority) FullyCollateralized() bool {
	return a.collateralRatio == FullCollateralRatio
}

// RegisterCollateral appends an address to the recognized collateral set.
func (a *Authority) RegisterCollateral(caller, addr ledger.Address) error {
	if err := a.gate(caller); err != nil {
		return err
	}
	a.collaterals = append(a.collaterals, addr)
	return nil
}

// RegisterPools appends satellite pool addresses.
func (a *Authority) RegisterPools(caller ledger.Address, addrs ...ledger.Address) error {
	if err := a.gate(caller); err != nil {
		return err
	}
	a.pools = append(a.pools, addrs...)
	return nil
}

// SetPrimaryCollateral designates the collateral asset the desk mints and
// redeems against.
func (a *Authority) SetPrimaryCollateral(caller, addr ledger.Address) error {
	if err := a.gate(caller); err != nil {
		return err
	}
	a.primaryCollateral = addr
	return nil
}

// PrimaryCollateral returns the designated collateral asset address.
func (a *Authority) PrimaryCollateral() ledger.Address {
	return a.primaryCollateral
}

// Collaterals returns a copy of the registered collateral addresses.
func (a *Authority) Collaterals() []ledger.Address {
	cp := make([]ledger.Address, len(a.collaterals))
	copy(cp, a.collaterals)
	return cp
}

// Pools returns a copy of the registered pool addresses.
func (a *Authority) Pools() []ledger.Address {
	cp := make([]ledger.Address, len(a.pools))
	copy(cp, a.pools)
	return cp
}

// Restore overwrites the whole record during snapshot recovery, bypassing
// the caller gate.
func (a *Authority) Restore(
	oracleAddr ledger.Address,
	tokenPrice, sharesPrice *uint256.Int,
	collateralRatio uint64,
	primaryCollateral ledger.Address,
	collaterals, pools []ledger.Address,
) {
	a.oracle = oracleAddr
	a.tokenPrice = new(uint256.Int).Set(tokenPrice)
	a.sharesPrice = new(uint256.Int).Set(sharesPrice)
	a.collateralRatio = collateralRatio
	a.primaryCollateral = primaryCollateral
	a.collaterals = append([]ledger.Address(nil), collaterals...)
	a.pools = append([]ledger.Address(nil), pools...)
}

// Clone deep-copies the authority record for command staging.
func (a *Authority) Clone() *Authority {
	cp := &Authority{
		oracle:            a.oracle,
		tokenPrice:        new(uint256.Int).Set(a.tokenPrice),
		sharesPrice:       new(uint256.Int).Set(a.sharesPrice),
		collateralRatio:   a.collateralRatio,
		primaryCollateral: a.primaryCollateral,
		collaterals:       make([]ledger.Address, len(a.collaterals)),
		pools:             make([]ledger.Address, len(a.pools)),
	}
	copy(cp.collaterals, a.collaterals)
	copy(cp.pools, a.pools)
	return cp
}

func (a *Authority) gate(caller ledger.Address) error {
	if caller != a.oracle {
		return fmt.Errorf("caller %s: %w", caller, ErrUnauthorized)
	}
	return nil
}
