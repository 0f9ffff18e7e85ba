package event

import (
	"github.com/holiman/uint256"

	"fraxd/internal/ledger"
)

// Ledger-token commands. Asset selects which of the three ledgers the
// command targets; amounts are uint256; the caller identity is taken from
// Meta, never from the payload.

type Transfer struct {
	Meta
	Asset  string         `json:"asset"`
	To     ledger.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *Transfer) CommandType() CommandType { return CommandTypeTransfer }

type Approve struct {
	Meta
	Asset   string         `json:"asset"`
	Spender ledger.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *Approve) CommandType() CommandType { return CommandTypeApprove }

type TransferFrom struct {
	Meta
	Asset  string         `json:"asset"`
	From   ledger.Address `json:"from"`
	To     ledger.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *TransferFrom) CommandType() CommandType { return CommandTypeTransferFrom }

type IncreaseAllowance struct {
	Meta
	Asset   string         `json:"asset"`
	Spender ledger.Address `json:"spender"`
	Delta   *uint256.Int   `json:"delta"`
}

func (c *IncreaseAllowance) CommandType() CommandType { return CommandTypeIncreaseAllowance }

type DecreaseAllowance struct {
	Meta
	Asset   string         `json:"asset"`
	Spender ledger.Address `json:"spender"`
	Delta   *uint256.Int   `json:"delta"`
}

func (c *DecreaseAllowance) CommandType() CommandType { return CommandTypeDecreaseAllowance }

// Burn and BurnFrom act on the ledger token only.

type Burn struct {
	Meta
	Amount *uint256.Int `json:"amount"`
}

func (c *Burn) CommandType() CommandType { return CommandTypeBurn }

type BurnFrom struct {
	Meta
	From   ledger.Address `json:"from"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *BurnFrom) CommandType() CommandType { return CommandTypeBurnFrom }
