package event

import (
	"fmt"

	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
)

// Oracle gateway commands. All are gated on the caller being the current
// oracle address; the core rejects the rest with Unauthorized.

// SetPrices pushes a (token price, shares price) pair. Price pushes carry a
// per-feed sequence: stale updates are silently ignored and gaps tolerated,
// unlike the strict ordering on every other partition.
type SetPrices struct {
	Meta
	TokenPrice    *uint256.Int `json:"token_price"`
	SharesPrice   *uint256.Int `json:"shares_price"`
	PriceSequence int64        `json:"price_sequence"`
}

func (c *SetPrices) CommandType() CommandType { return CommandTypeSetPrices }

func (c *SetPrices) IdempotencyKey() string {
	return fmt.Sprintf("prices:%d", c.PriceSequence)
}

func (c *SetPrices) SourceSequence() int64 { return c.PriceSequence }

type SetOracle struct {
	Meta
	Next ledger.Address `json:"next"`
}

func (c *SetOracle) CommandType() CommandType { return CommandTypeSetOracle }

type RegisterCollateral struct {
	Meta
	Collateral ledger.Address `json:"collateral"`
}

func (c *RegisterCollateral) CommandType() CommandType { return CommandTypeRegisterCollateral }

type RegisterPools struct {
	Meta
	Pools []ledger.Address `json:"pools"`
}

func (c *RegisterPools) CommandType() CommandType { return CommandTypeRegisterPools }

type SetPrimaryCollateral struct {
	Meta
	Collateral ledger.Address `json:"collateral"`
}

func (c *SetPrimaryCollateral) CommandType() CommandType { return CommandTypeSetPrimaryCollateral }

type SetCollateralRatio struct {
	Meta
	Ratio uint64 `json:"ratio"`
}

func (c *SetCollateralRatio) CommandType() CommandType { return CommandTypeSetCollateralRatio }
