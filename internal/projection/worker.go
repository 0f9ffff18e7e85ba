package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fraxd/internal/ledger"
	"fraxd/internal/observability"
)

// ProjectionOutput mirrors the data needed by the projection worker.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence    int64
	CommandType string
	TokenEvents []TokenEventEntry
	State       StateView
}

// TokenEventEntry is a string-encoded Transfer or Approval event.
type TokenEventEntry struct {
	Kind   string
	Asset  string
	From   string
	To     string
	Amount string
}

// StateView is the scalar system state after a command, string-encoded
// for direct insertion into the singleton system_state row.
type StateView struct {
	TokenSupply      string
	SharesSupply     string
	CollateralSupply string
	TokenPrice       string
	SharesPrice      string
	CollateralRatio  uint64
	Oracle           string
	HopBidder        string
	HopBid           string
	HopLastSettled   int64
	BstepBidder      string
	BstepBid         string
	BstepLot         string
	BstepLastSettled int64
}

// ProjectionWorker updates the read-model tables from applied commands.
// The projection channel is non-blocking with drop; if projections fall
// behind or drop outputs they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.log.Warn().
					Int64("sequence", output.Sequence).
					Err(err).
					Msg("projection update failed")
				// Projections are eventually consistent and can be
				// rebuilt from the event log.
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()
	defer func() {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
	}()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, evt := range output.TokenEvents {
		switch evt.Kind {
		case "Transfer":
			if err := pw.applyTransfer(ctx, tx, output.Sequence, evt); err != nil {
				return fmt.Errorf("transfer projection: %w", err)
			}
		case "Approval":
			if err := pw.applyApproval(ctx, tx, output.Sequence, evt); err != nil {
				return fmt.Errorf("approval projection: %w", err)
			}
		}
	}

	if err := pw.updateSystemState(ctx, tx, output.Sequence, output.State); err != nil {
		return fmt.Errorf("system state projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection, last_sequence)
		VALUES ('main', $1)
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $1
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyTransfer adjusts sender and receiver balances. Mints carry the
// null identity as From, burns carry it as To; the null identity itself
// never holds a balance row.
func (pw *ProjectionWorker) applyTransfer(ctx context.Context, tx *sql.Tx, seq int64, evt TokenEventEntry) error {
	zero := ledger.ZeroAddress.Hex()

	if evt.From != zero {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (asset, account, balance, updated_seq)
			VALUES ($1, $2, -($3::NUMERIC), $4)
			ON CONFLICT (asset, account)
			DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC, updated_seq = $4
		`, evt.Asset, evt.From, evt.Amount, seq); err != nil {
			return err
		}
	}

	if evt.To != zero {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (asset, account, balance, updated_seq)
			VALUES ($1, $2, $3::NUMERIC, $4)
			ON CONFLICT (asset, account)
			DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, updated_seq = $4
		`, evt.Asset, evt.To, evt.Amount, seq); err != nil {
			return err
		}
	}

	return nil
}

// applyApproval upserts the absolute allowance. For approvals, From is
// the owner and To is the spender.
func (pw *ProjectionWorker) applyApproval(ctx context.Context, tx *sql.Tx, seq int64, evt TokenEventEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.allowances (asset, owner, spender, amount, updated_seq)
		VALUES ($1, $2, $3, $4::NUMERIC, $5)
		ON CONFLICT (asset, owner, spender)
		DO UPDATE SET amount = $4::NUMERIC, updated_seq = $5
	`, evt.Asset, evt.From, evt.To, evt.Amount, seq)
	return err
}

func (pw *ProjectionWorker) updateSystemState(ctx context.Context, tx *sql.Tx, seq int64, s StateView) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.system_state (
			id, token_supply, shares_supply, collateral_supply,
			token_price, shares_price, collateral_ratio, oracle,
			hop_bidder, hop_bid, hop_last_settled,
			bstep_bidder, bstep_bid, bstep_lot, bstep_last_settled,
			last_sequence, updated_at
		) VALUES (
			1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC,
			$4::NUMERIC, $5::NUMERIC, $6, $7,
			$8, $9::NUMERIC, $10,
			$11, $12::NUMERIC, $13::NUMERIC, $14,
			$15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			token_supply = $1::NUMERIC, shares_supply = $2::NUMERIC,
			collateral_supply = $3::NUMERIC,
			token_price = $4::NUMERIC, shares_price = $5::NUMERIC,
			collateral_ratio = $6, oracle = $7,
			hop_bidder = $8, hop_bid = $9::NUMERIC, hop_last_settled = $10,
			bstep_bidder = $11, bstep_bid = $12::NUMERIC,
			bstep_lot = $13::NUMERIC, bstep_last_settled = $14,
			last_sequence = $15, updated_at = NOW()
	`, s.TokenSupply, s.SharesSupply, s.CollateralSupply,
		s.TokenPrice, s.SharesPrice, s.CollateralRatio, s.Oracle,
		s.HopBidder, s.HopBid, s.HopLastSettled,
		s.BstepBidder, s.BstepBid, s.BstepLot, s.BstepLastSettled,
		seq)
	return err
}

// RebuildProjections rebuilds balances and allowances from the recorded
// token event stream. The system_state row is left to the next applied
// command; only the event-derived tables are reconstructed here.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	log := observability.NewLogger("projection")
	zero := ledger.ZeroAddress.Hex()

	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.allowances`,
		`DELETE FROM projections.watermarks WHERE projection = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Credits: every transfer into a non-null account
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (asset, account, balance, updated_seq)
		SELECT asset, to_addr, SUM(amount), MAX(sequence)
		FROM event_log.token_events
		WHERE kind = 'Transfer' AND to_addr <> $1
		GROUP BY asset, to_addr
	`, zero)
	if err != nil {
		return fmt.Errorf("rebuild credits: %w", err)
	}

	// Debits: every transfer out of a non-null account
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (asset, account, balance, updated_seq)
		SELECT asset, from_addr, -SUM(amount), MAX(sequence)
		FROM event_log.token_events
		WHERE kind = 'Transfer' AND from_addr <> $1
		GROUP BY asset, from_addr
		ON CONFLICT (asset, account) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    updated_seq = GREATEST(projections.balances.updated_seq, EXCLUDED.updated_seq)
	`, zero)
	if err != nil {
		return fmt.Errorf("rebuild debits: %w", err)
	}

	// Allowances: the latest approval per (asset, owner, spender) is absolute
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.allowances (asset, owner, spender, amount, updated_seq)
		SELECT DISTINCT ON (asset, from_addr, to_addr)
			asset, from_addr, to_addr, amount, sequence
		FROM event_log.token_events
		WHERE kind = 'Approval'
		ORDER BY asset, from_addr, to_addr, sequence DESC, event_index DESC
	`)
	if err != nil {
		return fmt.Errorf("rebuild allowances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection, last_sequence)
		SELECT 'main', COALESCE(MAX(sequence), 0) FROM event_log.events
		ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
