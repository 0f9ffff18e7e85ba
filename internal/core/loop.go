package core

import (
	"context"

	"fraxd/internal/event"
)

// Submission pairs a command with a reply channel. Transports (NATS
// consumer, HTTP handler) build one per command and wait on Reply for the
// dispatch outcome.
type Submission struct {
	Command event.Command
	Reply   chan error
}

// ReadRequest runs against the core at a quiescent point in the loop,
// between commands. The function must treat the core as read-only and
// must not retain it; snapshot capture uses this to observe a fully
// applied state.
type ReadRequest func(c *DeterministicCore)

// Serve runs the single-threaded core loop. Commands and reads are
// interleaved on one goroutine, so reads always observe a fully applied
// state and commands never race.
func (c *DeterministicCore) Serve(ctx context.Context, cmds <-chan Submission, reads <-chan ReadRequest) {
	for {
		select {
		case <-ctx.Done():
			return

		case sub, ok := <-cmds:
			if !ok {
				return
			}
			err := c.ProcessCommand(sub.Command)
			if sub.Reply != nil {
				sub.Reply <- err
			}

		case read, ok := <-reads:
			if !ok {
				return
			}
			read(c)
		}
	}
}
