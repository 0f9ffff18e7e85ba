package query

// BalanceResponse is one account's balance on one asset ledger.
type BalanceResponse struct {
	Asset        string `json:"asset"`
	Account      string `json:"account"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// AllowanceResponse is the spender's remaining allowance from owner.
type AllowanceResponse struct {
	Asset        string `json:"asset"`
	Owner        string `json:"owner"`
	Spender      string `json:"spender"`
	Amount       string `json:"amount"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// RoundResponse is the visible state of one auction round.
type RoundResponse struct {
	Bidder      string `json:"bidder"`
	Bid         string `json:"bid"`
	Lot         string `json:"lot,omitempty"`
	LastSettled int64  `json:"last_settled"`
}

// SystemStateResponse is the scalar system state: supplies, oracle
// prices, collateral ratio, and both auction rounds.
type SystemStateResponse struct {
	TokenSupply      string        `json:"token_supply"`
	SharesSupply     string        `json:"shares_supply"`
	CollateralSupply string        `json:"collateral_supply"`
	TokenPrice       string        `json:"token_price"`
	SharesPrice      string        `json:"shares_price"`
	CollateralRatio  uint64        `json:"collateral_ratio"`
	Oracle           string        `json:"oracle"`
	Hop              RoundResponse `json:"hop"`
	Backstep         RoundResponse `json:"backstep"`
	AsOfSequence     int64         `json:"as_of_sequence"`
}

// TokenEventResponse is one recorded Transfer or Approval event.
type TokenEventResponse struct {
	Sequence   int64  `json:"sequence"`
	EventIndex int    `json:"event_index"`
	Kind       string `json:"kind"`
	Asset      string `json:"asset"`
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool             `json:"is_healthy"`
	HashChainBreaks  []int64          `json:"hash_chain_breaks,omitempty"`
	NegativeBalances []NegativeEntry  `json:"negative_balances,omitempty"`
	SupplyMismatches []SupplyMismatch `json:"supply_mismatches,omitempty"`
}

// NegativeEntry is a projected balance below zero, which the core
// arithmetic forbids.
type NegativeEntry struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// SupplyMismatch is an asset whose projected balances do not sum to the
// projected total supply.
type SupplyMismatch struct {
	Asset       string `json:"asset"`
	Supply      string `json:"supply"`
	BalancesSum string `json:"balances_sum"`
}
