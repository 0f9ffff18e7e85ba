package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"fraxd/internal/config"
	"fraxd/internal/core"
	"fraxd/internal/event"
	"fraxd/internal/ingestion"
	"fraxd/internal/ledger"
	"fraxd/internal/observability"
	"fraxd/internal/persistence"
	"fraxd/internal/projection"
	"fraxd/internal/query"
	"fraxd/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("FRAX_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv("FRAX_LOG_LEVEL") == "" {
		os.Setenv("FRAX_LOG_LEVEL", cfg.LogLevel)
	}

	log := observability.NewLogger("main")
	log.Info().Msg("fraxd starting")

	oracleAddr, err := ledger.ParseAddress(cfg.OracleAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid oracle address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("Postgres connected")

	if cfg.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		log.Info().Msg("migrations applied")
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	snapData, snapSeq, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}

	startSequence := int64(0)
	var snap *core.SnapshotState
	if snapData != nil {
		snap = &core.SnapshotState{}
		if err := json.Unmarshal(snapData, snap); err != nil {
			log.Fatal().Err(err).Int64("sequence", snapSeq).Msg("decode snapshot")
		}
		startSequence = snap.Sequence + 1
		log.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	persistRecordChan := make(chan persistence.Record, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	deterministicCore := core.NewDeterministicCore(
		startSequence,
		oracleAddr,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
	)

	if snap != nil {
		if err := deterministicCore.RestoreFromSnapshot(snap); err != nil {
			log.Fatal().Err(err).Msg("restore snapshot")
		}
		if len(snap.IdempotencyKeys) > 0 {
			log.Info().Int("keys", len(snap.IdempotencyKeys)).Msg("warming idempotency LRU")
			deterministicCore.WarmLRU(snap.IdempotencyKeys)
		}
	}

	// --- Workers (started before replay so nothing blocks) ---
	errChan := make(chan error, 10)

	flushTimeout := time.Duration(cfg.PersistFlushMS) * time.Millisecond
	persistWorker := persistence.NewWorker(db, persistRecordChan, cfg.PersistBatchSize, flushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistRecordChan, projectionWorkerChan, publishChan, metrics)

	// --- Event replay ---
	replayStart := time.Now()
	replayed, err := replayEventLog(ctx, snapMgr, deterministicCore, startSequence, log)
	if err != nil {
		log.Fatal().Err(err).Msg("event replay")
	}
	if replayed > 0 {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
		log.Info().
			Int64("events", replayed).
			Int64("sequence", deterministicCore.GetSequence()).
			Msg("event replay complete")
	}

	// No events past the snapshot: the restored hash must match.
	if snap != nil && replayed == 0 {
		actual := deterministicCore.GetStateHash()
		if hex.EncodeToString(actual[:]) != snap.StateHash {
			log.Fatal().
				Str("expected", snap.StateHash).
				Str("got", hex.EncodeToString(actual[:])).
				Msg("state hash mismatch after restore")
		}
		log.Info().Msg("state hash verified after snapshot restore")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawCommandChan := make(chan ingestion.RawCommand, cfg.CommandChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawCommandChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)
	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	// --- Core loop ---
	submissions := make(chan core.Submission, cfg.CommandChanSize)
	reads := make(chan core.ReadRequest)
	coreDone := make(chan struct{})
	go func() {
		deterministicCore.Serve(ctx, submissions, reads)
		close(coreDone)
	}()

	go runIngestionLoop(ctx, rawCommandChan, submissions, metrics)

	// --- Servers ---
	queryService := query.NewQueryService(db)

	submit := func(ctx context.Context, cmd event.Command) error {
		sub := core.Submission{Command: cmd, Reply: make(chan error, 1)}
		select {
		case submissions <- sub:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-sub.Reply:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, &server.HTTPDeps{
		DB:            db,
		QueryService:  queryService,
		SnapshotMgr:   snapMgr,
		HealthChecker: healthChecker,
		Submit:        submit,
		Metrics:       metrics,
	})
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	go runPeriodicSnapshots(ctx, reads, snapMgr, cfg.SnapshotInterval, metrics, log)

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Msg("fraxd ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()
	natsSubscriber.Stop()

	// Wait for the core loop to stop before touching its state.
	select {
	case <-coreDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("core loop did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := saveSnapshot(shutdownCtx, snapMgr, deterministicCore.CreateSnapshotState(), metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("fraxd shutdown complete")
}

// bridgeCoreOutputs fans core outputs out to the persistence worker, the
// projection worker, and the outbound publisher. Persistence is a blocking
// forward; projections and publishing drop when full.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.Record,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			row, tokenRows := persistence.RowsFromEnvelope(output.Envelope)
			persistOut <- persistence.Record{
				EventRow:       row,
				TokenEventRows: tokenRows,
			}

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       output.Envelope.Sequence,
				CommandType:    output.Envelope.CommandType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				Caller:         output.Envelope.Caller.Hex(),
				Payload:        output.Envelope.Payload,
				TokenEvents:    output.Envelope.TokenEvents,
				StateHash:      output.Envelope.StateHash[:],
				Timestamp:      output.Envelope.Timestamp,
			}:
			default:
				metrics.PublishDrops.Inc()
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			select {
			case projectionOut <- toProjectionOutput(output):
			default:
				metrics.ProjectionDrops.WithLabelValues("main").Inc()
			}
		}
	}
}

func toProjectionOutput(output core.CoreOutput) projection.ProjectionOutput {
	env := output.Envelope
	entries := make([]projection.TokenEventEntry, 0, len(env.TokenEvents))
	for _, evt := range env.TokenEvents {
		entries = append(entries, projection.TokenEventEntry{
			Kind:   evt.Kind.String(),
			Asset:  evt.Asset,
			From:   evt.From.Hex(),
			To:     evt.To.Hex(),
			Amount: evt.Amount.Dec(),
		})
	}

	s := output.Summary
	return projection.ProjectionOutput{
		Sequence:    env.Sequence,
		CommandType: env.CommandType.String(),
		TokenEvents: entries,
		State: projection.StateView{
			TokenSupply:      s.TokenSupply,
			SharesSupply:     s.SharesSupply,
			CollateralSupply: s.CollateralSupply,
			TokenPrice:       s.TokenPrice,
			SharesPrice:      s.SharesPrice,
			CollateralRatio:  s.CollateralRatio,
			Oracle:           s.Oracle,
			HopBidder:        s.Hop.Bidder,
			HopBid:           s.Hop.Bid,
			HopLastSettled:   s.Hop.LastSettled,
			BstepBidder:      s.Backstep.Bidder,
			BstepBid:         s.Backstep.Bid,
			BstepLot:         s.Backstep.Lot,
			BstepLastSettled: s.Backstep.LastSettled,
		},
	}
}

// runIngestionLoop parses raw NATS messages and submits them to the core
// loop. Messages are acked once the core has accepted or rejected the
// command: rejections are deterministic, so redelivery would not help.
func runIngestionLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawCommand,
	submissions chan<- core.Submission,
	metrics *observability.Metrics,
) {
	log := observability.NewLogger("ingestion")

	subjectToType := make(map[string]string)
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := cfg.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = cfg.CommandType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			commandType := resolveCommandType(raw.Subject, subjectToType)
			if commandType == "" {
				log.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
				raw.AckFunc()
				continue
			}

			cmd, err := ingestion.ParseRawCommand(raw, commandType)
			if err != nil {
				log.Warn().Str("subject", raw.Subject).Err(err).Msg("parse command failed")
				raw.AckFunc()
				continue
			}

			sub := core.Submission{Command: cmd, Reply: make(chan error, 1)}
			select {
			case submissions <- sub:
			case <-ctx.Done():
				raw.NakFunc()
				return
			}

			select {
			case err := <-sub.Reply:
				metrics.IngestToApply.WithLabelValues(commandType).Observe(time.Since(raw.Timestamp).Seconds())
				if err != nil {
					log.Warn().
						Str("command_type", commandType).
						Str("idempotency_key", cmd.IdempotencyKey()).
						Err(err).
						Msg("command rejected")
				}
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// resolveCommandType finds the command type for a NATS subject by longest
// prefix match.
func resolveCommandType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, cmdType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = cmdType
			}
		}
	}
	return bestType
}

// replayEventLog replays events from the log starting at fromSequence.
// Used for warm restart (from snapshot) and cold restart (from zero).
func replayEventLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
	fromSequence int64,
	log zerolog.Logger,
) (int64, error) {
	const batchSize = 1000
	var totalReplayed int64

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(events) == 0 {
			break
		}

		for _, row := range events {
			cmd, err := ingestion.DecodeStoredCommand(row.CommandType, row.Payload)
			if err != nil {
				return totalReplayed, fmt.Errorf("seq %d: %w", row.Sequence, err)
			}

			if err := deterministicCore.Replay(cmd); err != nil {
				return totalReplayed, fmt.Errorf("replay seq %d (%s): %w", row.Sequence, row.CommandType, err)
			}
			totalReplayed++
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}

	return totalReplayed, nil
}

// runPeriodicSnapshots captures the core state every interval events.
// Capture happens inside the core loop via a read request; the marshal
// and DB write happen out here.
func runPeriodicSnapshots(
	ctx context.Context,
	reads chan<- core.ReadRequest,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	var lastSnapshotSeq int64 = -1
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapChan := make(chan *core.SnapshotState, 1)
			req := core.ReadRequest(func(c *core.DeterministicCore) {
				snapChan <- c.CreateSnapshotState()
			})

			select {
			case reads <- req:
			case <-ctx.Done():
				return
			}

			var snap *core.SnapshotState
			select {
			case snap = <-snapChan:
			case <-ctx.Done():
				return
			}

			if lastSnapshotSeq < 0 {
				lastSnapshotSeq = snap.Sequence
				continue
			}
			if snap.Sequence-lastSnapshotSeq < interval {
				continue
			}

			if err := saveSnapshot(ctx, snapMgr, snap, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = snap.Sequence
			log.Info().Int64("sequence", snap.Sequence).Msg("periodic snapshot")
		}
	}
}

// saveSnapshot marshals and persists a captured snapshot, then marks it
// verified (it was taken from live state).
func saveSnapshot(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	snap *core.SnapshotState,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	stateHash, err := hex.DecodeString(snap.StateHash)
	if err != nil {
		return fmt.Errorf("snapshot hash: %w", err)
	}

	if err := snapMgr.SaveSnapshot(ctx, snap.Sequence, stateHash, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(len(data)))
	metrics.SnapshotLastSeq.Set(float64(snap.Sequence))

	return nil
}
