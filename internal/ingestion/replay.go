package ingestion

import (
	"encoding/json"
	"fmt"

	"fraxd/internal/event"
)

// DecodeStoredCommand turns an event-log payload back into a typed
// command for replay. Stored payloads are the core's own marshalling of
// the command structs, so this is a plain unmarshal keyed on the
// recorded command type.
func DecodeStoredCommand(commandType string, payload []byte) (event.Command, error) {
	var cmd event.Command

	switch commandType {
	case "Transfer":
		cmd = &event.Transfer{}
	case "Approve":
		cmd = &event.Approve{}
	case "TransferFrom":
		cmd = &event.TransferFrom{}
	case "IncreaseAllowance":
		cmd = &event.IncreaseAllowance{}
	case "DecreaseAllowance":
		cmd = &event.DecreaseAllowance{}
	case "Burn":
		cmd = &event.Burn{}
	case "BurnFrom":
		cmd = &event.BurnFrom{}
	case "Mint1to1":
		cmd = &event.Mint1to1{}
	case "Redeem1to1":
		cmd = &event.Redeem1to1{}
	case "SeedCollateral":
		cmd = &event.SeedCollateral{}
	case "TriggerHop":
		cmd = &event.TriggerHop{}
	case "BidExpand":
		cmd = &event.BidExpand{}
	case "TriggerBackstep":
		cmd = &event.TriggerBackstep{}
	case "BidContract":
		cmd = &event.BidContract{}
	case "SetPrices":
		cmd = &event.SetPrices{}
	case "SetOracle":
		cmd = &event.SetOracle{}
	case "RegisterCollateral":
		cmd = &event.RegisterCollateral{}
	case "RegisterPools":
		cmd = &event.RegisterPools{}
	case "SetPrimaryCollateral":
		cmd = &event.SetPrimaryCollateral{}
	case "SetCollateralRatio":
		cmd = &event.SetCollateralRatio{}
	default:
		return nil, fmt.Errorf("unknown stored command type %q", commandType)
	}

	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode stored %s: %w", commandType, err)
	}
	return cmd, nil
}
