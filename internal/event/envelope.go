package event

import (
	"time"

	"fraxd/internal/ledger"
)

// CommandType discriminates command payloads.
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota

	// Ledger-token operations
	CommandTypeTransfer
	CommandTypeApprove
	CommandTypeTransferFrom
	CommandTypeIncreaseAllowance
	CommandTypeDecreaseAllowance
	CommandTypeBurn
	CommandTypeBurnFrom

	// Collateral desk
	CommandTypeMint1to1
	CommandTypeRedeem1to1
	CommandTypeSeedCollateral

	// Auctions
	CommandTypeTriggerHop
	CommandTypeBidExpand
	CommandTypeTriggerBackstep
	CommandTypeBidContract

	// Oracle gateway
	CommandTypeSetPrices
	CommandTypeSetOracle
	CommandTypeRegisterCollateral
	CommandTypeRegisterPools
	CommandTypeSetPrimaryCollateral
	CommandTypeSetCollateralRatio
)

// Envelope wraps every applied command in the event log.
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Invoking principal (never a payload field — prevents spoofing)
	Caller ledger.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command payload
	Payload []byte

	// Observable Transfer/Approval events the command emitted
	TokenEvents []ledger.TokenEvent

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads implement. The caller
// identity is carried on the command because it is established by the
// transport (NATS subject auth, HTTP auth) before the core sees it.
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Caller returns the invoking principal
	Caller() ledger.Address

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// Timestamp returns the versioned input clock reading
	Timestamp() time.Time
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeTransfer:
		return "Transfer"
	case CommandTypeApprove:
		return "Approve"
	case CommandTypeTransferFrom:
		return "TransferFrom"
	case CommandTypeIncreaseAllowance:
		return "IncreaseAllowance"
	case CommandTypeDecreaseAllowance:
		return "DecreaseAllowance"
	case CommandTypeBurn:
		return "Burn"
	case CommandTypeBurnFrom:
		return "BurnFrom"
	case CommandTypeMint1to1:
		return "Mint1to1"
	case CommandTypeRedeem1to1:
		return "Redeem1to1"
	case CommandTypeSeedCollateral:
		return "SeedCollateral"
	case CommandTypeTriggerHop:
		return "TriggerHop"
	case CommandTypeBidExpand:
		return "BidExpand"
	case CommandTypeTriggerBackstep:
		return "TriggerBackstep"
	case CommandTypeBidContract:
		return "BidContract"
	case CommandTypeSetPrices:
		return "SetPrices"
	case CommandTypeSetOracle:
		return "SetOracle"
	case CommandTypeRegisterCollateral:
		return "RegisterCollateral"
	case CommandTypeRegisterPools:
		return "RegisterPools"
	case CommandTypeSetPrimaryCollateral:
		return "SetPrimaryCollateral"
	case CommandTypeSetCollateralRatio:
		return "SetCollateralRatio"
	default:
		return "Unknown"
	}
}
