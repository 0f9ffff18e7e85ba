package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"fraxd/internal/controller"
	"fraxd/internal/event"
	"fraxd/internal/ledger"
	"fraxd/internal/observability"
)

// CommandPartition is the strict-ordering partition for sequenced command
// streams. Oracle price pushes use their own gap-tolerant partition.
const CommandPartition = "commands"

// DeterministicCore is the single-threaded command processor. All domain
// state lives in the controller; every command executes against a staged
// clone that is swapped in only on success.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	state             *controller.Controller
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the core emits per applied command: the event-log
// envelope plus a projection-friendly summary of the post-command state.
type CoreOutput struct {
	Envelope *event.Envelope
	Summary  StateSummary
}

// RoundSummary is the string-encoded auction round state for projections.
type RoundSummary struct {
	Bidder      string `json:"bidder"`
	Bid         string `json:"bid"`
	Lot         string `json:"lot"`
	LastSettled int64  `json:"last_settled"`
	HasBidder   bool   `json:"has_bidder"`
}

// StateSummary is the string-encoded post-command system state. Balances
// and allowances are reconstructed by projections from TokenEvents; the
// summary carries only the scalar state the events do not cover.
type StateSummary struct {
	TokenSupply      string `json:"token_supply"`
	SharesSupply     string `json:"shares_supply"`
	CollateralSupply string `json:"collateral_supply"`

	TokenPrice      string `json:"token_price"`
	SharesPrice     string `json:"shares_price"`
	CollateralRatio uint64 `json:"collateral_ratio"`
	Oracle          string `json:"oracle"`

	Hop      RoundSummary `json:"hop"`
	Backstep RoundSummary `json:"backstep"`
}

func NewDeterministicCore(
	startSequence int64,
	oracleAddr ledger.Address,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		state:             controller.New(oracleAddr),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// State exposes the live controller for read requests. Only safe from the
// goroutine running the core loop.
func (c *DeterministicCore) State() *controller.Controller {
	return c.state
}

// ProcessCommand is the main processing pipeline.
func (c *DeterministicCore) ProcessCommand(cmd event.Command) error {
	return c.process(cmd, false)
}

// Replay re-applies a command loaded from the event log. Dedup is
// skipped (the log holds each command exactly once and tier 2 would
// reject everything already persisted) and no output is emitted; the
// log already has the envelope and projections catch up separately.
func (c *DeterministicCore) Replay(cmd event.Command) error {
	return c.process(cmd, true)
}

func (c *DeterministicCore) process(cmd event.Command, replay bool) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := false
	if !replay {
		isDuplicate = c.idempotency.IsDuplicate(commandType, idempotencyKey)
	}

	// Step 2: Sequence validation. Price pushes are gap-tolerant and
	// stale ones are skipped silently; everything else with a source
	// sequence gets strict per-partition ordering. SourceSequence 0
	// marks unsequenced submissions (HTTP) which skip the check.
	if priceCmd, ok := cmd.(*event.SetPrices); ok {
		if stale := c.sequenceValidator.ValidatePriceSequence(priceCmd.PriceSequence); stale {
			if c.metrics != nil {
				c.metrics.OracleStaleSkipped.Inc()
				c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "stale").Inc()
			}
			return nil
		}
	} else if sourceSequence := cmd.SourceSequence(); sourceSequence > 0 {
		if err := c.sequenceValidator.ValidateSequence(CommandPartition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Staged dispatch. The command runs against a deep copy of
	// the controller; a failure anywhere in the nested ledger calls
	// discards the copy, so partial effects never commit.
	staged := c.state.Clone()
	if err := c.dispatch(staged, cmd); err != nil {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch %s: %w", commandType, err)
	}
	c.state = staged

	// Step 4: Invariant check. sum(balances) == total_supply must hold
	// on every ledger after every applied command; a violation means
	// corrupted state and the process must not continue.
	if err := c.state.CheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", commandType, err))
	}

	// Step 5: Drain observable events emitted during dispatch
	tokenEvents := c.state.DrainEvents()

	// Step 6: State hash chain
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, c.computeStateDigest())
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 7: Envelope
	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", commandType, err))
	}

	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Caller:         cmd.Caller(),
		Timestamp:      cmd.Timestamp(),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		TokenEvents:    tokenEvents,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope: envelope,
		Summary:  c.summarize(),
	}
	c.sequence++

	// Step 8: Emit. Persistence is a blocking send so no envelope is
	// lost; the core stalls until the persistence worker drains.
	// Projections get a non-blocking send with silent drop; they can
	// rebuild from the event log if they fall behind. Replayed commands
	// emit nothing.
	if !replay {
		c.persistChan <- output

		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("main").Inc()
			}
		}
	}

	// Step 9: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.recordDomainMetrics(cmd)
	}

	return nil
}

// dispatch routes a command to the staged controller. The caller identity
// and the versioned timestamp both come from the command envelope; the
// core never reads the wall clock.
func (c *DeterministicCore) dispatch(staged *controller.Controller, cmd event.Command) error {
	caller := cmd.Caller()
	now := cmd.Timestamp().Unix()

	switch e := cmd.(type) {
	case *event.Transfer:
		l, err := staged.LedgerFor(e.Asset)
		if err != nil {
			return err
		}
		return l.Transfer(caller, e.To, e.Amount)
	case *event.Approve:
		l, err := staged.LedgerFor(e.Asset)
		if err != nil {
			return err
		}
		return l.Approve(caller, e.Spender, e.Amount)
	case *event.TransferFrom:
		l, err := staged.LedgerFor(e.Asset)
		if err != nil {
			return err
		}
		return l.TransferFrom(caller, e.From, e.To, e.Amount)
	case *event.IncreaseAllowance:
		l, err := staged.LedgerFor(e.Asset)
		if err != nil {
			return err
		}
		return l.IncreaseAllowance(caller, e.Spender, e.Delta)
	case *event.DecreaseAllowance:
		l, err := staged.LedgerFor(e.Asset)
		if err != nil {
			return err
		}
		return l.DecreaseAllowance(caller, e.Spender, e.Delta)
	case *event.Burn:
		return staged.Token().Burn(caller, e.Amount)
	case *event.BurnFrom:
		return staged.Token().BurnFrom(caller, e.From, e.Amount)

	case *event.Mint1to1:
		return staged.Mint1to1(caller, e.Amount)
	case *event.Redeem1to1:
		return staged.Redeem1to1(caller, e.Amount)
	case *event.SeedCollateral:
		return staged.SeedCollateral(caller, e.To, e.Amount)

	case *event.TriggerHop:
		return staged.TriggerHop(now)
	case *event.BidExpand:
		return staged.BidExpand(caller, e.SharesAmount)
	case *event.TriggerBackstep:
		return staged.TriggerBackstep(now)
	case *event.BidContract:
		return staged.BidContract(caller, e.TokensAmount, now)

	case *event.SetPrices:
		return staged.Authority().SetPrices(caller, e.TokenPrice, e.SharesPrice)
	case *event.SetOracle:
		return staged.Authority().SetOracle(caller, e.Next)
	case *event.RegisterCollateral:
		return staged.Authority().RegisterCollateral(caller, e.Collateral)
	case *event.RegisterPools:
		return staged.Authority().RegisterPools(caller, e.Pools...)
	case *event.SetPrimaryCollateral:
		return staged.Authority().SetPrimaryCollateral(caller, e.Collateral)
	case *event.SetCollateralRatio:
		return staged.Authority().SetCollateralRatio(caller, e.Ratio)

	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

// computeStateDigest creates canonical bytes over the full system state:
// per-ledger supplies, sorted balances and sorted allowances, the authority
// record, and both auction rounds. Deterministic byte-for-byte across
// replays.
func (c *DeterministicCore) computeStateDigest() []byte {
	digest := make([]byte, 0, 1024)

	for _, l := range []*ledger.Ledger{c.state.Token(), c.state.Shares(), c.state.Collateral()} {
		digest = append(digest, byte(len(l.Asset())))
		digest = append(digest, []byte(l.Asset())...)
		digest = appendUint256(digest, l.TotalSupply())

		accounts := l.Accounts()
		sort.Slice(accounts, func(i, j int) bool {
			return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
		})
		for _, a := range accounts {
			digest = append(digest, a[:]...)
			digest = appendUint256(digest, l.BalanceOf(a))
		}

		allowances := l.Allowances()
		owners := make([]ledger.Address, 0, len(allowances))
		for owner := range allowances {
			owners = append(owners, owner)
		}
		sort.Slice(owners, func(i, j int) bool {
			return bytes.Compare(owners[i][:], owners[j][:]) < 0
		})
		for _, owner := range owners {
			spenders := make([]ledger.Address, 0, len(allowances[owner]))
			for spender := range allowances[owner] {
				spenders = append(spenders, spender)
			}
			sort.Slice(spenders, func(i, j int) bool {
				return bytes.Compare(spenders[i][:], spenders[j][:]) < 0
			})
			for _, spender := range spenders {
				digest = append(digest, owner[:]...)
				digest = append(digest, spender[:]...)
				digest = appendUint256(digest, allowances[owner][spender])
			}
		}
	}

	auth := c.state.Authority()
	oracleAddr := auth.Oracle()
	digest = append(digest, oracleAddr[:]...)
	digest = appendUint256(digest, auth.TokenPrice())
	digest = appendUint256(digest, auth.SharesPrice())
	digest = appendUint64LE(digest, auth.CollateralRatio())
	primary := auth.PrimaryCollateral()
	digest = append(digest, primary[:]...)

	for _, r := range []controller.Round{c.state.HopRound(), c.state.BackstepRound()} {
		digest = append(digest, r.Bidder[:]...)
		digest = appendUint256(digest, r.Bid)
		digest = appendUint256(digest, r.Lot)
		digest = appendUint64LE(digest, uint64(r.LastSettled))
	}

	return digest
}

func appendUint256(buf []byte, v *uint256.Int) []byte {
	b32 := v.Bytes32()
	return append(buf, b32[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// summarize captures the scalar post-command state for projections.
func (c *DeterministicCore) summarize() StateSummary {
	auth := c.state.Authority()
	return StateSummary{
		TokenSupply:      c.state.Token().TotalSupply().Dec(),
		SharesSupply:     c.state.Shares().TotalSupply().Dec(),
		CollateralSupply: c.state.Collateral().TotalSupply().Dec(),
		TokenPrice:       auth.TokenPrice().Dec(),
		SharesPrice:      auth.SharesPrice().Dec(),
		CollateralRatio:  auth.CollateralRatio(),
		Oracle:           auth.Oracle().Hex(),
		Hop:              summarizeRound(c.state.HopRound()),
		Backstep:         summarizeRound(c.state.BackstepRound()),
	}
}

func summarizeRound(r controller.Round) RoundSummary {
	return RoundSummary{
		Bidder:      r.Bidder.Hex(),
		Bid:         r.Bid.Dec(),
		Lot:         r.Lot.Dec(),
		LastSettled: r.LastSettled,
		HasBidder:   r.HasBidder(),
	}
}

// recordDomainMetrics updates the domain gauges after an applied command.
func (c *DeterministicCore) recordDomainMetrics(cmd event.Command) {
	switch cmd.(type) {
	case *event.Mint1to1:
		c.metrics.DeskOperations.WithLabelValues("mint").Inc()
	case *event.Redeem1to1:
		c.metrics.DeskOperations.WithLabelValues("redeem").Inc()
	case *event.BidExpand:
		c.metrics.AuctionBids.WithLabelValues("hop").Inc()
	case *event.BidContract:
		c.metrics.AuctionBids.WithLabelValues("backstep").Inc()
	case *event.SetPrices:
		c.metrics.OraclePriceUpdates.Inc()
	}

	c.metrics.TokenSupply.WithLabelValues(controller.AssetToken).Set(supplyApprox(c.state.Token().TotalSupply()))
	c.metrics.TokenSupply.WithLabelValues(controller.AssetShares).Set(supplyApprox(c.state.Shares().TotalSupply()))
	c.metrics.TokenSupply.WithLabelValues(controller.AssetCollateral).Set(supplyApprox(c.state.Collateral().TotalSupply()))
	c.metrics.CollateralRatio.Set(float64(c.state.Authority().CollateralRatio()))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
}

func supplyApprox(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
