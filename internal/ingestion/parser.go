package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"fraxd/internal/event"
	"fraxd/internal/ledger"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed event.Command. The ingestion shell validates and converts
// before anything reaches the deterministic core.
func ParseRawCommand(raw RawCommand, commandType string) (event.Command, error) {
	switch commandType {
	case "Transfer":
		return parseTransfer(raw.Data)
	case "Approve":
		return parseApprove(raw.Data)
	case "TransferFrom":
		return parseTransferFrom(raw.Data)
	case "IncreaseAllowance":
		return parseIncreaseAllowance(raw.Data)
	case "DecreaseAllowance":
		return parseDecreaseAllowance(raw.Data)
	case "Burn":
		return parseBurn(raw.Data)
	case "BurnFrom":
		return parseBurnFrom(raw.Data)
	case "Mint1to1":
		return parseMint1to1(raw.Data)
	case "Redeem1to1":
		return parseRedeem1to1(raw.Data)
	case "SeedCollateral":
		return parseSeedCollateral(raw.Data)
	case "TriggerHop":
		return parseTriggerHop(raw.Data)
	case "BidExpand":
		return parseBidExpand(raw.Data)
	case "TriggerBackstep":
		return parseTriggerBackstep(raw.Data)
	case "BidContract":
		return parseBidContract(raw.Data)
	case "SetPrices":
		return parseSetPrices(raw.Data)
	case "SetOracle":
		return parseSetOracle(raw.Data)
	case "RegisterCollateral":
		return parseRegisterCollateral(raw.Data)
	case "RegisterPools":
		return parseRegisterPools(raw.Data)
	case "SetPrimaryCollateral":
		return parseSetPrimaryCollateral(raw.Data)
	case "SetCollateralRatio":
		return parseSetCollateralRatio(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts travel
// as decimal strings (uint256 does not fit in JSON numbers), addresses as
// 0x-prefixed hex.

type metaJSON struct {
	CommandID   string `json:"command_id"`
	Caller      string `json:"caller"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j metaJSON) toMeta() (event.Meta, error) {
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse command_id: %w", err)
	}
	caller, err := ledger.ParseAddress(j.Caller)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse caller: %w", err)
	}
	return event.Meta{
		CommandID: commandID,
		Principal: caller,
		Sequence:  j.Sequence,
		At:        time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseWireAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

type transferJSON struct {
	metaJSON
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func parseTransfer(data []byte) (*event.Transfer, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Transfer: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(j.To)
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Transfer{Meta: meta, Asset: j.Asset, To: to, Amount: amount}, nil
}

type approveJSON struct {
	metaJSON
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func parseApprove(data []byte) (*event.Approve, error) {
	var j approveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Approve: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	spender, err := ledger.ParseAddress(j.Spender)
	if err != nil {
		return nil, fmt.Errorf("parse spender: %w", err)
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Approve{Meta: meta, Asset: j.Asset, Spender: spender, Amount: amount}, nil
}

type transferFromJSON struct {
	metaJSON
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func parseTransferFrom(data []byte) (*event.TransferFrom, error) {
	var j transferFromJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TransferFrom: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	from, err := ledger.ParseAddress(j.From)
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}
	to, err := ledger.ParseAddress(j.To)
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.TransferFrom{Meta: meta, Asset: j.Asset, From: from, To: to, Amount: amount}, nil
}

type allowanceDeltaJSON struct {
	metaJSON
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
	Delta   string `json:"delta"`
}

func parseIncreaseAllowance(data []byte) (*event.IncreaseAllowance, error) {
	var j allowanceDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse IncreaseAllowance: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	spender, err := ledger.ParseAddress(j.Spender)
	if err != nil {
		return nil, fmt.Errorf("parse spender: %w", err)
	}
	delta, err := parseWireAmount("delta", j.Delta)
	if err != nil {
		return nil, err
	}
	return &event.IncreaseAllowance{Meta: meta, Asset: j.Asset, Spender: spender, Delta: delta}, nil
}

func parseDecreaseAllowance(data []byte) (*event.DecreaseAllowance, error) {
	var j allowanceDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DecreaseAllowance: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	spender, err := ledger.ParseAddress(j.Spender)
	if err != nil {
		return nil, fmt.Errorf("parse spender: %w", err)
	}
	delta, err := parseWireAmount("delta", j.Delta)
	if err != nil {
		return nil, err
	}
	return &event.DecreaseAllowance{Meta: meta, Asset: j.Asset, Spender: spender, Delta: delta}, nil
}

type amountOnlyJSON struct {
	metaJSON
	Amount string `json:"amount"`
}

func parseBurn(data []byte) (*event.Burn, error) {
	var j amountOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Burn: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Burn{Meta: meta, Amount: amount}, nil
}

type burnFromJSON struct {
	metaJSON
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func parseBurnFrom(data []byte) (*event.BurnFrom, error) {
	var j burnFromJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BurnFrom: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	from, err := ledger.ParseAddress(j.From)
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.BurnFrom{Meta: meta, From: from, Amount: amount}, nil
}

func parseMint1to1(data []byte) (*event.Mint1to1, error) {
	var j amountOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Mint1to1: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Mint1to1{Meta: meta, Amount: amount}, nil
}

func parseRedeem1to1(data []byte) (*event.Redeem1to1, error) {
	var j amountOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Redeem1to1: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Redeem1to1{Meta: meta, Amount: amount}, nil
}

type seedCollateralJSON struct {
	metaJSON
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func parseSeedCollateral(data []byte) (*event.SeedCollateral, error) {
	var j seedCollateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SeedCollateral: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(j.To)
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.SeedCollateral{Meta: meta, To: to, Amount: amount}, nil
}

func parseTriggerHop(data []byte) (*event.TriggerHop, error) {
	var j metaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TriggerHop: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.TriggerHop{Meta: meta}, nil
}

type bidJSON struct {
	metaJSON
	Amount string `json:"amount"`
}

func parseBidExpand(data []byte) (*event.BidExpand, error) {
	var j bidJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BidExpand: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.BidExpand{Meta: meta, SharesAmount: amount}, nil
}

func parseTriggerBackstep(data []byte) (*event.TriggerBackstep, error) {
	var j metaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TriggerBackstep: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.TriggerBackstep{Meta: meta}, nil
}

func parseBidContract(data []byte) (*event.BidContract, error) {
	var j bidJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BidContract: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	amount, err := parseWireAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.BidContract{Meta: meta, TokensAmount: amount}, nil
}

// setPricesJSON carries its own feed sequence; command_id is optional
// because price pushes derive their idempotency key from that sequence.
type setPricesJSON struct {
	Caller        string `json:"caller"`
	TokenPrice    string `json:"token_price"`
	SharesPrice   string `json:"shares_price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseSetPrices(data []byte) (*event.SetPrices, error) {
	var j setPricesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPrices: %w", err)
	}
	caller, err := ledger.ParseAddress(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	tokenPrice, err := parseWireAmount("token_price", j.TokenPrice)
	if err != nil {
		return nil, err
	}
	sharesPrice, err := parseWireAmount("shares_price", j.SharesPrice)
	if err != nil {
		return nil, err
	}
	return &event.SetPrices{
		Meta: event.Meta{
			Principal: caller,
			Sequence:  j.PriceSequence,
			At:        time.UnixMicro(j.TimestampUs),
		},
		TokenPrice:    tokenPrice,
		SharesPrice:   sharesPrice,
		PriceSequence: j.PriceSequence,
	}, nil
}

type addressArgJSON struct {
	metaJSON
	Address string `json:"address"`
}

func parseSetOracle(data []byte) (*event.SetOracle, error) {
	var j addressArgJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetOracle: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	next, err := ledger.ParseAddress(j.Address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	return &event.SetOracle{Meta: meta, Next: next}, nil
}

func parseRegisterCollateral(data []byte) (*event.RegisterCollateral, error) {
	var j addressArgJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RegisterCollateral: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	addr, err := ledger.ParseAddress(j.Address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	return &event.RegisterCollateral{Meta: meta, Collateral: addr}, nil
}

type registerPoolsJSON struct {
	metaJSON
	Pools []string `json:"pools"`
}

func parseRegisterPools(data []byte) (*event.RegisterPools, error) {
	var j registerPoolsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RegisterPools: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	pools := make([]ledger.Address, 0, len(j.Pools))
	for _, p := range j.Pools {
		addr, err := ledger.ParseAddress(p)
		if err != nil {
			return nil, fmt.Errorf("parse pool: %w", err)
		}
		pools = append(pools, addr)
	}
	return &event.RegisterPools{Meta: meta, Pools: pools}, nil
}

func parseSetPrimaryCollateral(data []byte) (*event.SetPrimaryCollateral, error) {
	var j addressArgJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPrimaryCollateral: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	addr, err := ledger.ParseAddress(j.Address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	return &event.SetPrimaryCollateral{Meta: meta, Collateral: addr}, nil
}

type setRatioJSON struct {
	metaJSON
	Ratio uint64 `json:"ratio"`
}

func parseSetCollateralRatio(data []byte) (*event.SetCollateralRatio, error) {
	var j setRatioJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetCollateralRatio: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.SetCollateralRatio{Meta: meta, Ratio: j.Ratio}, nil
}
