package core

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"

	"fraxd/internal/controller"
	"fraxd/internal/ledger"
	"fraxd/internal/oracle"
)

// SnapshotState is the JSON-serializable capture of the core's in-memory
// state. All amounts are decimal strings and all addresses 0x-hex, so the
// snapshot survives schema-agnostic storage and manual inspection.
type SnapshotState struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`

	Ledgers   map[string]LedgerSnapshot `json:"ledgers"`
	Authority AuthoritySnapshot         `json:"authority"`
	Hop       RoundSnapshot             `json:"hop"`
	Backstep  RoundSnapshot             `json:"backstep"`

	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

type LedgerSnapshot struct {
	Supply     string                       `json:"supply"`
	Balances   map[string]string            `json:"balances"`
	Allowances map[string]map[string]string `json:"allowances"`
}

type AuthoritySnapshot struct {
	Oracle            string   `json:"oracle"`
	TokenPrice        string   `json:"token_price"`
	SharesPrice       string   `json:"shares_price"`
	CollateralRatio   uint64   `json:"collateral_ratio"`
	PrimaryCollateral string   `json:"primary_collateral"`
	Collaterals       []string `json:"collaterals"`
	Pools             []string `json:"pools"`
}

type RoundSnapshot struct {
	Bidder      string `json:"bidder"`
	Bid         string `json:"bid"`
	Lot         string `json:"lot"`
	LastSettled int64  `json:"last_settled"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	hash := c.hasher.GetPrevHash()

	ledgers := make(map[string]LedgerSnapshot, 3)
	for _, l := range []*ledger.Ledger{c.state.Token(), c.state.Shares(), c.state.Collateral()} {
		ledgers[l.Asset()] = snapshotLedger(l)
	}

	auth := c.state.Authority()

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       hex.EncodeToString(hash[:]),
		Ledgers:         ledgers,
		Authority:       snapshotAuthority(auth),
		Hop:             snapshotRound(c.state.HopRound()),
		Backstep:        snapshotRound(c.state.BackstepRound()),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the latest snapshot is loaded first, then the event log from
// snapshot.Sequence+1 is replayed through Replay.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("snapshot state hash %q: invalid", snap.StateHash)
	}
	var hash [32]byte
	copy(hash[:], raw)
	c.hasher.SetPrevHash(hash)

	for asset, ls := range snap.Ledgers {
		l, err := c.state.LedgerFor(asset)
		if err != nil {
			return fmt.Errorf("snapshot ledger: %w", err)
		}
		if err := restoreLedger(l, ls); err != nil {
			return fmt.Errorf("snapshot ledger %s: %w", asset, err)
		}
	}

	if err := restoreAuthority(c.state.Authority(), snap.Authority); err != nil {
		return fmt.Errorf("snapshot authority: %w", err)
	}

	if err := restoreRound(snap.Hop, c.state.RestoreHop); err != nil {
		return fmt.Errorf("snapshot hop round: %w", err)
	}
	if err := restoreRound(snap.Backstep, c.state.RestoreBackstep); err != nil {
		return fmt.Errorf("snapshot backstep round: %w", err)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed commands.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

func snapshotLedger(l *ledger.Ledger) LedgerSnapshot {
	balances := make(map[string]string)
	for a, b := range l.Balances() {
		balances[a.Hex()] = b.Dec()
	}
	allowances := make(map[string]map[string]string)
	for owner, m := range l.Allowances() {
		inner := make(map[string]string, len(m))
		for spender, amt := range m {
			inner[spender.Hex()] = amt.Dec()
		}
		allowances[owner.Hex()] = inner
	}
	return LedgerSnapshot{
		Supply:     l.TotalSupply().Dec(),
		Balances:   balances,
		Allowances: allowances,
	}
}

func restoreLedger(l *ledger.Ledger, snap LedgerSnapshot) error {
	supply, err := parseAmount(snap.Supply)
	if err != nil {
		return err
	}
	l.RestoreSupply(supply)

	for addr, bal := range snap.Balances {
		a, err := ledger.ParseAddress(addr)
		if err != nil {
			return err
		}
		b, err := parseAmount(bal)
		if err != nil {
			return err
		}
		l.RestoreBalance(a, b)
	}
	for owner, m := range snap.Allowances {
		o, err := ledger.ParseAddress(owner)
		if err != nil {
			return err
		}
		for spender, amt := range m {
			s, err := ledger.ParseAddress(spender)
			if err != nil {
				return err
			}
			v, err := parseAmount(amt)
			if err != nil {
				return err
			}
			l.RestoreAllowance(o, s, v)
		}
	}
	return nil
}

func snapshotAuthority(auth *oracle.Authority) AuthoritySnapshot {
	collaterals := make([]string, 0, len(auth.Collaterals()))
	for _, a := range auth.Collaterals() {
		collaterals = append(collaterals, a.Hex())
	}
	pools := make([]string, 0, len(auth.Pools()))
	for _, a := range auth.Pools() {
		pools = append(pools, a.Hex())
	}
	return AuthoritySnapshot{
		Oracle:            auth.Oracle().Hex(),
		TokenPrice:        auth.TokenPrice().Dec(),
		SharesPrice:       auth.SharesPrice().Dec(),
		CollateralRatio:   auth.CollateralRatio(),
		PrimaryCollateral: auth.PrimaryCollateral().Hex(),
		Collaterals:       collaterals,
		Pools:             pools,
	}
}

func restoreAuthority(auth *oracle.Authority, snap AuthoritySnapshot) error {
	oracleAddr, err := ledger.ParseAddress(snap.Oracle)
	if err != nil {
		return err
	}
	tokenPrice, err := parseAmount(snap.TokenPrice)
	if err != nil {
		return err
	}
	sharesPrice, err := parseAmount(snap.SharesPrice)
	if err != nil {
		return err
	}
	primary, err := ledger.ParseAddress(snap.PrimaryCollateral)
	if err != nil {
		return err
	}
	collaterals, err := parseAddresses(snap.Collaterals)
	if err != nil {
		return err
	}
	pools, err := parseAddresses(snap.Pools)
	if err != nil {
		return err
	}
	auth.Restore(oracleAddr, tokenPrice, sharesPrice, snap.CollateralRatio, primary, collaterals, pools)
	return nil
}

func snapshotRound(r controller.Round) RoundSnapshot {
	return RoundSnapshot{
		Bidder:      r.Bidder.Hex(),
		Bid:         r.Bid.Dec(),
		Lot:         r.Lot.Dec(),
		LastSettled: r.LastSettled,
	}
}

func restoreRound(snap RoundSnapshot, restore func(ledger.Address, *uint256.Int, *uint256.Int, int64)) error {
	bidder, err := ledger.ParseAddress(snap.Bidder)
	if err != nil {
		return err
	}
	bid, err := parseAmount(snap.Bid)
	if err != nil {
		return err
	}
	lot, err := parseAmount(snap.Lot)
	if err != nil {
		return err
	}
	restore(bidder, bid, lot, snap.LastSettled)
	return nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}

func parseAddresses(in []string) ([]ledger.Address, error) {
	out := make([]ledger.Address, 0, len(in))
	for _, s := range in {
		a, err := ledger.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
