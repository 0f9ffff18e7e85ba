package ledger

import (
	"github.com/holiman/uint256"
)

// TokenEventKind discriminates the observable ledger event stream.
type TokenEventKind int32

const (
	TokenEventTransfer TokenEventKind = iota + 1
	TokenEventApproval
)

func (k TokenEventKind) String() string {
	switch k {
	case TokenEventTransfer:
		return "Transfer"
	case TokenEventApproval:
		return "Approval"
	default:
		return "Unknown"
	}
}

// TokenEvent is one entry of the observable Transfer/Approval stream.
// Indexers and UIs reconstruct balances and allowances purely from these.
// For transfers, From is the null identity on mint and To is the null
// identity on burn. For approvals, Amount is the new absolute allowance.
type TokenEvent struct {
	Kind   TokenEventKind `json:"kind"`
	Asset  string         `json:"asset"`
	From   Address        `json:"from"` // Transfer: source. Approval: owner.
	To     Address        `json:"to"`   // Transfer: destination. Approval: spender.
	Amount *uint256.Int   `json:"amount"`
}

// Recorder collects the token events emitted while a command is in flight.
// Events are only published if the command commits; a failed command's
// recorder is discarded along with the staged state.
type Recorder struct {
	events []TokenEvent
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(evt TokenEvent) {
	r.events = append(r.events, evt)
}

// Drain returns the collected events and resets the recorder.
func (r *Recorder) Drain() []TokenEvent {
	evts := r.events
	r.events = nil
	return evts
}

// Clone copies the recorder including any in-flight events.
func (r *Recorder) Clone() *Recorder {
	cp := &Recorder{events: make([]TokenEvent, len(r.events))}
	copy(cp.events, r.events)
	return cp
}
