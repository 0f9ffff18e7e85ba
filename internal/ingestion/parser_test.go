package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"fraxd/internal/event"
	"fraxd/internal/ingestion"
	"fraxd/internal/ledger"
)

const (
	callerHex  = "0x1111111111111111111111111111111111111111"
	toHex      = "0x2222222222222222222222222222222222222222"
	spenderHex = "0x3333333333333333333333333333333333333333"
)

func rawFromJSON(t *testing.T, v map[string]interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return ingestion.RawCommand{Data: data}
}

func basePayload(extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"caller":       callerHex,
		"sequence":     int64(7),
		"timestamp_us": int64(1_700_000_000_000_000),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// ============================================================================
// Test: ParseRawCommand
// ============================================================================

func TestParseRawCommand_Transfer(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"asset":  "FRAX",
		"to":     toHex,
		"amount": "123456789012345678901234567890",
	}))

	cmd, err := ingestion.ParseRawCommand(raw, "Transfer")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	transfer, ok := cmd.(*event.Transfer)
	if !ok {
		t.Fatalf("got %T, want *event.Transfer", cmd)
	}

	if transfer.Asset != "FRAX" {
		t.Errorf("asset: got %q, want %q", transfer.Asset, "FRAX")
	}
	if transfer.To.Hex() != toHex {
		t.Errorf("to: got %s, want %s", transfer.To, toHex)
	}
	want, _ := uint256.FromDecimal("123456789012345678901234567890")
	if transfer.Amount.Cmp(want) != 0 {
		t.Errorf("amount: got %s, want %s", transfer.Amount, want)
	}
	if transfer.Caller().Hex() != callerHex {
		t.Errorf("caller: got %s, want %s", transfer.Caller(), callerHex)
	}
	if transfer.SourceSequence() != 7 {
		t.Errorf("source sequence: got %d, want %d", transfer.SourceSequence(), 7)
	}
	if transfer.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %q", transfer.IdempotencyKey())
	}
	if got := transfer.Timestamp(); !got.Equal(time.UnixMicro(1_700_000_000_000_000)) {
		t.Errorf("timestamp: got %v", got)
	}
}

func TestParseRawCommand_UnknownType(t *testing.T) {
	raw := rawFromJSON(t, basePayload(nil))
	if _, err := ingestion.ParseRawCommand(raw, "Liquidate"); err == nil {
		t.Error("unknown command type should fail")
	}
}

func TestParseRawCommand_MissingAmount(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"asset": "FRAX",
		"to":    toHex,
	}))
	if _, err := ingestion.ParseRawCommand(raw, "Transfer"); err == nil {
		t.Error("missing amount should fail")
	}
}

func TestParseRawCommand_NegativeAmountRejected(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"asset":  "FRAX",
		"to":     toHex,
		"amount": "-5",
	}))
	if _, err := ingestion.ParseRawCommand(raw, "Transfer"); err == nil {
		t.Error("negative amount should fail")
	}
}

func TestParseRawCommand_BadCommandID(t *testing.T) {
	payload := basePayload(map[string]interface{}{
		"asset":  "FRAX",
		"to":     toHex,
		"amount": "1",
	})
	payload["command_id"] = "not-a-uuid"
	raw := rawFromJSON(t, payload)

	if _, err := ingestion.ParseRawCommand(raw, "Transfer"); err == nil {
		t.Error("malformed command_id should fail")
	}
}

func TestParseRawCommand_BadAddress(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"asset":  "FRAX",
		"to":     "0x1234",
		"amount": "1",
	}))
	if _, err := ingestion.ParseRawCommand(raw, "Transfer"); err == nil {
		t.Error("short address should fail")
	}
}

func TestParseRawCommand_Approve(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"asset":   "COLLAT",
		"spender": spenderHex,
		"amount":  "1000",
	}))

	cmd, err := ingestion.ParseRawCommand(raw, "Approve")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	approve := cmd.(*event.Approve)
	if approve.Asset != "COLLAT" || approve.Spender.Hex() != spenderHex || approve.Amount.Uint64() != 1000 {
		t.Errorf("approve malformed: %+v", approve)
	}
}

func TestParseRawCommand_TriggerHop_NoPayloadFields(t *testing.T) {
	raw := rawFromJSON(t, basePayload(nil))

	cmd, err := ingestion.ParseRawCommand(raw, "TriggerHop")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.CommandType() != event.CommandTypeTriggerHop {
		t.Errorf("got %s, want TriggerHop", cmd.CommandType())
	}
}

func TestParseRawCommand_BidContract(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"amount": "90",
	}))

	cmd, err := ingestion.ParseRawCommand(raw, "BidContract")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	bid := cmd.(*event.BidContract)
	if bid.TokensAmount.Uint64() != 90 {
		t.Errorf("tokens amount: got %d, want %d", bid.TokensAmount.Uint64(), 90)
	}
}

func TestParseRawCommand_RegisterPools(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"pools": []string{toHex, spenderHex},
	}))

	cmd, err := ingestion.ParseRawCommand(raw, "RegisterPools")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pools := cmd.(*event.RegisterPools).Pools
	if len(pools) != 2 || pools[0].Hex() != toHex || pools[1].Hex() != spenderHex {
		t.Errorf("pools malformed: %v", pools)
	}
}

func TestParseRawCommand_SetCollateralRatio(t *testing.T) {
	raw := rawFromJSON(t, basePayload(map[string]interface{}{
		"ratio": uint64(99_000_000),
	}))

	cmd, err := ingestion.ParseRawCommand(raw, "SetCollateralRatio")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := cmd.(*event.SetCollateralRatio).Ratio; got != 99_000_000 {
		t.Errorf("ratio: got %d, want %d", got, 99_000_000)
	}
}

// ============================================================================
// Test: SetPrices wire format
// ============================================================================

func TestParseRawCommand_SetPrices_NoCommandID(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"caller":         callerHex,
		"token_price":    "2",
		"shares_price":   "5",
		"price_sequence": int64(42),
		"timestamp_us":   int64(1_700_000_000_000_000),
	})

	cmd, err := ingestion.ParseRawCommand(raw, "SetPrices")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	prices := cmd.(*event.SetPrices)

	if prices.TokenPrice.Uint64() != 2 || prices.SharesPrice.Uint64() != 5 {
		t.Errorf("prices malformed: token %s, shares %s", prices.TokenPrice, prices.SharesPrice)
	}
	if prices.PriceSequence != 42 {
		t.Errorf("price sequence: got %d, want %d", prices.PriceSequence, 42)
	}
	// Feed sequence doubles as the dedup key; no command_id on the wire.
	if got := prices.IdempotencyKey(); got != "prices:42" {
		t.Errorf("idempotency key: got %q, want %q", got, "prices:42")
	}
	if prices.SourceSequence() != 42 {
		t.Errorf("source sequence: got %d, want %d", prices.SourceSequence(), 42)
	}
}

// ============================================================================
// Test: DecodeStoredCommand
// ============================================================================

func TestDecodeStoredCommand_RoundTrip(t *testing.T) {
	original := &event.Transfer{
		Meta: event.Meta{
			CommandID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
			Principal: ledger.MustParseAddress(callerHex),
			Sequence:  7,
			At:        time.UnixMicro(1_700_000_000_000_000).UTC(),
		},
		Asset:  "FRAX",
		To:     ledger.MustParseAddress(toHex),
		Amount: uint256.NewInt(1234),
	}

	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := ingestion.DecodeStoredCommand("Transfer", payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	transfer, ok := decoded.(*event.Transfer)
	if !ok {
		t.Fatalf("got %T, want *event.Transfer", decoded)
	}

	if transfer.IdempotencyKey() != original.IdempotencyKey() {
		t.Errorf("idempotency key: got %q, want %q", transfer.IdempotencyKey(), original.IdempotencyKey())
	}
	if transfer.Caller() != original.Caller() {
		t.Errorf("caller: got %s, want %s", transfer.Caller(), original.Caller())
	}
	if !transfer.Timestamp().Equal(original.Timestamp()) {
		t.Errorf("timestamp: got %v, want %v", transfer.Timestamp(), original.Timestamp())
	}
	if transfer.Asset != original.Asset || transfer.To != original.To {
		t.Errorf("payload fields diverged: %+v", transfer)
	}
	if transfer.Amount.Cmp(original.Amount) != 0 {
		t.Errorf("amount: got %s, want %s", transfer.Amount, original.Amount)
	}
}

func TestDecodeStoredCommand_AllTypesResolve(t *testing.T) {
	types := []string{
		"Transfer", "Approve", "TransferFrom", "IncreaseAllowance", "DecreaseAllowance",
		"Burn", "BurnFrom",
		"Mint1to1", "Redeem1to1", "SeedCollateral",
		"TriggerHop", "BidExpand", "TriggerBackstep", "BidContract",
		"SetPrices", "SetOracle", "RegisterCollateral", "RegisterPools",
		"SetPrimaryCollateral", "SetCollateralRatio",
	}
	for _, commandType := range types {
		cmd, err := ingestion.DecodeStoredCommand(commandType, []byte(`{}`))
		if err != nil {
			t.Errorf("%s: %v", commandType, err)
			continue
		}
		if got := cmd.CommandType().String(); got != commandType {
			t.Errorf("got %s, want %s", got, commandType)
		}
	}
}

func TestDecodeStoredCommand_UnknownType(t *testing.T) {
	if _, err := ingestion.DecodeStoredCommand("Liquidate", []byte(`{}`)); err == nil {
		t.Error("unknown stored command type should fail")
	}
}

// ============================================================================
// Test: Subject catalog
// ============================================================================

func TestDefaultSubjects_CoverAllCommandTypes(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != 20 {
		t.Fatalf("got %d subjects, want 20", len(subjects))
	}

	seenType := make(map[string]bool)
	seenConsumer := make(map[string]bool)
	for _, s := range subjects {
		if seenType[s.CommandType] {
			t.Errorf("duplicate command type %s", s.CommandType)
		}
		seenType[s.CommandType] = true
		if seenConsumer[s.ConsumerName] {
			t.Errorf("duplicate consumer name %s", s.ConsumerName)
		}
		seenConsumer[s.ConsumerName] = true

		if s.Subject == "" || s.StreamName == "" {
			t.Errorf("%s: incomplete subject config: %+v", s.CommandType, s)
		}
	}
}
