package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"fraxd/internal/observability"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds commands
// into the deterministic core via commandChan. JetStream is the primary
// high-throughput ingestion surface; each subject maps to a command type.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
	log         zerolog.Logger
}

// RawCommand is the received-but-untyped command from NATS, ready for the
// shell to validate and convert into a typed event.Command.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Each command
// type has its own subject so consumers can be scaled and paused
// independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "frax.token.transfer.>", CommandType: "Transfer", ConsumerName: "frax-token-transfer", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.token.approve.>", CommandType: "Approve", ConsumerName: "frax-token-approve", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.token.transfer_from.>", CommandType: "TransferFrom", ConsumerName: "frax-token-transfer-from", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.token.increase_allowance.>", CommandType: "IncreaseAllowance", ConsumerName: "frax-token-incr-allowance", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.token.decrease_allowance.>", CommandType: "DecreaseAllowance", ConsumerName: "frax-token-decr-allowance", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.token.burn.>", CommandType: "Burn", ConsumerName: "frax-token-burn", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.token.burn_from.>", CommandType: "BurnFrom", ConsumerName: "frax-token-burn-from", StreamName: "FRAX_TOKEN"},
		{Subject: "frax.desk.mint.>", CommandType: "Mint1to1", ConsumerName: "frax-desk-mint", StreamName: "FRAX_DESK"},
		{Subject: "frax.desk.redeem.>", CommandType: "Redeem1to1", ConsumerName: "frax-desk-redeem", StreamName: "FRAX_DESK"},
		{Subject: "frax.desk.seed.>", CommandType: "SeedCollateral", ConsumerName: "frax-desk-seed", StreamName: "FRAX_DESK"},
		{Subject: "frax.auction.hop.trigger.>", CommandType: "TriggerHop", ConsumerName: "frax-hop-trigger", StreamName: "FRAX_AUCTION"},
		{Subject: "frax.auction.hop.bid.>", CommandType: "BidExpand", ConsumerName: "frax-hop-bid", StreamName: "FRAX_AUCTION"},
		{Subject: "frax.auction.backstep.trigger.>", CommandType: "TriggerBackstep", ConsumerName: "frax-backstep-trigger", StreamName: "FRAX_AUCTION"},
		{Subject: "frax.auction.backstep.bid.>", CommandType: "BidContract", ConsumerName: "frax-backstep-bid", StreamName: "FRAX_AUCTION"},
		{Subject: "frax.oracle.prices.>", CommandType: "SetPrices", ConsumerName: "frax-oracle-prices", StreamName: "FRAX_ORACLE"},
		{Subject: "frax.oracle.set_oracle.>", CommandType: "SetOracle", ConsumerName: "frax-oracle-set", StreamName: "FRAX_ORACLE"},
		{Subject: "frax.oracle.register_collateral.>", CommandType: "RegisterCollateral", ConsumerName: "frax-oracle-reg-collateral", StreamName: "FRAX_ORACLE"},
		{Subject: "frax.oracle.register_pools.>", CommandType: "RegisterPools", ConsumerName: "frax-oracle-reg-pools", StreamName: "FRAX_ORACLE"},
		{Subject: "frax.oracle.set_primary.>", CommandType: "SetPrimaryCollateral", ConsumerName: "frax-oracle-set-primary", StreamName: "FRAX_ORACLE"},
		{Subject: "frax.oracle.set_ratio.>", CommandType: "SetCollateralRatio", ConsumerName: "frax-oracle-set-ratio", StreamName: "FRAX_ORACLE"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
		log:         observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "FRAX_TOKEN",
			Subjects:  []string{"frax.token.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "FRAX_DESK",
			Subjects:  []string{"frax.desk.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "FRAX_AUCTION",
			Subjects:  []string{"frax.auction.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "FRAX_ORACLE",
			Subjects:  []string{"frax.oracle.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	log := observability.NewLogger("nats-setup")
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
