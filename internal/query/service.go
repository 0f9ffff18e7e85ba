package query

import (
	"context"
	"database/sql"
	"fmt"

	"fraxd/internal/controller"
)

// QueryService provides read-only access to the projection tables.
// All responses carry as_of_sequence so callers can reason about
// freshness relative to the outbound event stream.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns an account's balance on one asset ledger. Accounts
// without a row have a zero balance.
func (qs *QueryService) GetBalance(ctx context.Context, asset, account string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	balance := "0"
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances
		WHERE asset = $1 AND account = $2
	`, asset, account).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		Asset:        asset,
		Account:      account,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetBalances returns an account's balances across all asset ledgers it
// holds a position on.
func (qs *QueryService) GetBalances(ctx context.Context, account string) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, balance::TEXT FROM projections.balances
		WHERE account = $1
		ORDER BY asset
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{Account: account, AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.Asset, &b.Balance); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// GetAllowance returns the spender's remaining allowance from owner.
func (qs *QueryService) GetAllowance(ctx context.Context, asset, owner, spender string) (*AllowanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	amount := "0"
	err = qs.db.QueryRowContext(ctx, `
		SELECT amount::TEXT FROM projections.allowances
		WHERE asset = $1 AND owner = $2 AND spender = $3
	`, asset, owner, spender).Scan(&amount)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &AllowanceResponse{
		Asset:        asset,
		Owner:        owner,
		Spender:      spender,
		Amount:       amount,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetSystemState returns the projected scalar state: supplies, prices,
// collateral ratio, oracle identity, and both auction rounds. Returns
// nil before the first command is projected.
func (qs *QueryService) GetSystemState(ctx context.Context) (*SystemStateResponse, error) {
	var s SystemStateResponse
	err := qs.db.QueryRowContext(ctx, `
		SELECT token_supply::TEXT, shares_supply::TEXT, collateral_supply::TEXT,
		       token_price::TEXT, shares_price::TEXT, collateral_ratio, oracle,
		       hop_bidder, hop_bid::TEXT, hop_last_settled,
		       bstep_bidder, bstep_bid::TEXT, bstep_lot::TEXT, bstep_last_settled,
		       last_sequence
		FROM projections.system_state WHERE id = 1
	`).Scan(
		&s.TokenSupply, &s.SharesSupply, &s.CollateralSupply,
		&s.TokenPrice, &s.SharesPrice, &s.CollateralRatio, &s.Oracle,
		&s.Hop.Bidder, &s.Hop.Bid, &s.Hop.LastSettled,
		&s.Backstep.Bidder, &s.Backstep.Bid, &s.Backstep.Lot, &s.Backstep.LastSettled,
		&s.AsOfSequence,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetTokenEvents returns recorded Transfer/Approval events, newest first,
// with cursor-based pagination on sequence. Either filter may be empty.
func (qs *QueryService) GetTokenEvents(
	ctx context.Context,
	asset string,
	account string,
	limit int,
	beforeSequence *int64,
) ([]TokenEventResponse, error) {
	query := `
		SELECT sequence, event_index, kind, asset, from_addr, to_addr, amount::TEXT
		FROM event_log.token_events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if asset != "" {
		query += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, asset)
		argIdx++
	}

	if account != "" {
		query += fmt.Sprintf(" AND (from_addr = $%d OR to_addr = $%d)", argIdx, argIdx)
		args = append(args, account)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, event_index ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TokenEventResponse
	for rows.Next() {
		var e TokenEventResponse
		if err := rows.Scan(
			&e.Sequence, &e.EventIndex, &e.Kind, &e.Asset,
			&e.From, &e.To, &e.Amount,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the event log hash chain and the projected
// balance invariants: no account below zero, and per-asset balances
// summing to the projected supply.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	negRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, account, balance::TEXT
		FROM projections.balances
		WHERE balance < 0
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer negRows.Close()

	for negRows.Next() {
		var n NegativeEntry
		if err := negRows.Scan(&n.Asset, &n.Account, &n.Balance); err != nil {
			return nil, err
		}
		report.NegativeBalances = append(report.NegativeBalances, n)
	}
	if err := negRows.Err(); err != nil {
		return nil, err
	}

	mismatches, err := qs.checkSupplies(ctx)
	if err != nil {
		return nil, err
	}
	report.SupplyMismatches = mismatches

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.NegativeBalances) == 0 &&
		len(report.SupplyMismatches) == 0
	return report, nil
}

// checkSupplies compares per-asset balance sums against the projected
// supplies in the singleton state row. Skipped before the first
// projected command.
func (qs *QueryService) checkSupplies(ctx context.Context) ([]SupplyMismatch, error) {
	var tokenSupply, sharesSupply, collateralSupply string
	err := qs.db.QueryRowContext(ctx, `
		SELECT token_supply::TEXT, shares_supply::TEXT, collateral_supply::TEXT
		FROM projections.system_state WHERE id = 1
	`).Scan(&tokenSupply, &sharesSupply, &collateralSupply)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	supplies := []struct {
		asset  string
		supply string
	}{
		{controller.AssetToken, tokenSupply},
		{controller.AssetShares, sharesSupply},
		{controller.AssetCollateral, collateralSupply},
	}

	var mismatches []SupplyMismatch
	for _, entry := range supplies {
		asset, supply := entry.asset, entry.supply
		var sum string
		err := qs.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(balance), 0)::TEXT
			FROM projections.balances WHERE asset = $1
		`, asset).Scan(&sum)
		if err != nil {
			return nil, err
		}
		if sum != supply {
			mismatches = append(mismatches, SupplyMismatch{
				Asset:       asset,
				Supply:      supply,
				BalancesSum: sum,
			})
		}
	}

	return mismatches, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermarks WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
