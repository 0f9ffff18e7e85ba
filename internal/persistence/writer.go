package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fraxd/internal/event"
)

// EventLogWriter writes command envelopes and token events to Postgres
// using multi-row INSERT batches. ON CONFLICT DO NOTHING keeps replayed
// writes idempotent.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Caller         string
	Payload        []byte // JSON-encoded command payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// TokenEventRow represents a row in event_log.token_events. Amounts are
// stored as decimal strings into a NUMERIC(78,0) column, wide enough for
// any uint256.
type TokenEventRow struct {
	Sequence   int64
	EventIndex int32
	Kind       string
	Asset      string
	FromAddr   string
	ToAddr     string
	Amount     string
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromEnvelope converts a core envelope into persistable rows.
func RowsFromEnvelope(env *event.Envelope) (EventRow, []TokenEventRow) {
	row := EventRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.Hex(),
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}

	tokenRows := make([]TokenEventRow, 0, len(env.TokenEvents))
	for i, te := range env.TokenEvents {
		tokenRows = append(tokenRows, TokenEventRow{
			Sequence:   env.Sequence,
			EventIndex: int32(i),
			Kind:       te.Kind.String(),
			Asset:      te.Asset,
			FromAddr:   te.From.Hex(),
			ToAddr:     te.To.Hex(),
			Amount:     te.Amount.Dec(),
		})
	}

	return row, tokenRows
}

// WriteEventBatch writes a batch of envelopes inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, command_type, idempotency_key, caller, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.Caller,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTokenEventBatch writes a batch of token events inside the given
// transaction.
func (w *EventLogWriter) WriteTokenEventBatch(ctx context.Context, tx *sql.Tx, rows []TokenEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.token_events
		(sequence, event_index, kind, asset, from_addr, to_addr, amount)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Sequence, r.EventIndex, r.Kind, r.Asset,
			r.FromAddr, r.ToAddr, r.Amount,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, event_index) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
