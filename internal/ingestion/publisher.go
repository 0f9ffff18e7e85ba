package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"fraxd/internal/ledger"
	"fraxd/internal/observability"
)

// OutboundPublisher publishes applied commands to NATS for downstream
// consumers. Subjects follow the pattern frax.ledger.events.{command_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	log       zerolog.Logger
}

// PublishableEvent is an applied command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64               `json:"sequence"`
	CommandType    string              `json:"command_type"`
	IdempotencyKey string              `json:"idempotency_key"`
	Caller         string              `json:"caller"`
	Payload        json.RawMessage     `json:"payload"`
	TokenEvents    []ledger.TokenEvent `json:"token_events,omitempty"`
	StateHash      []byte              `json:"state_hash"`
	Timestamp      time.Time           `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can always read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				op.log.Warn().
					Int64("sequence", evt.Sequence).
					Err(err).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("frax.ledger.events.%s", evt.CommandType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FRAX_LEDGER_EVENTS",
		Subjects:  []string{"frax.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("nats-setup")
	logger.Info().Msg("ensured outbound stream FRAX_LEDGER_EVENTS")
	return nil
}
