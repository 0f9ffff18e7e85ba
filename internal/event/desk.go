package event

import (
	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
)

// Collateral desk commands: phase-gated 1:1 mint and redeem against the
// designated collateral asset.

type Mint1to1 struct {
	Meta
	Amount *uint256.Int `json:"amount"`
}

func (c *Mint1to1) CommandType() CommandType { return CommandTypeMint1to1 }

type Redeem1to1 struct {
	Meta
	Amount *uint256.Int `json:"amount"`
}

func (c *Redeem1to1) CommandType() CommandType { return CommandTypeRedeem1to1 }

// SeedCollateral is the oracle-gated collateral faucet used for
// bootstrapping and integration environments.
type SeedCollateral struct {
	Meta
	To     ledger.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *SeedCollateral) CommandType() CommandType { return CommandTypeSeedCollateral }
