package event

import (
	"time"

	"github.com/google/uuid"

	"fraxd/internal/ledger"
)

// Meta carries the fields every command shares: a stable command ID used as
// the idempotency key, the invoking principal, the upstream sequence and
// the versioned timestamp.
type Meta struct {
	CommandID uuid.UUID      `json:"command_id"`
	Principal ledger.Address `json:"caller"`
	Sequence  int64          `json:"sequence"`
	At        time.Time      `json:"at"`
}

func (m *Meta) IdempotencyKey() string { return m.CommandID.String() }

func (m *Meta) Caller() ledger.Address { return m.Principal }

func (m *Meta) SourceSequence() int64 { return m.Sequence }

func (m *Meta) Timestamp() time.Time { return m.At }
