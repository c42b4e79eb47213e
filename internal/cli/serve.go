package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"FundLedger/internal/config"
	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"
	"FundLedger/internal/query"
	"FundLedger/internal/scheduler"
	"FundLedger/internal/sequencer"
	"FundLedger/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	rawEventBuffer   = 4096
	shutdownDeadline = 30 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fund service",
		Long: `Run the fund: recover from the latest verified snapshot (or start from the
genesis balances), then serve the HTTP/JSON API, gRPC health, Prometheus
metrics, NATS price ingestion and the scheduled jobs until SIGINT/SIGTERM.
A final snapshot is written on shutdown.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, rootOpts)
		},
	}
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, opts *RootOptions) error {
	logFile := observability.ConfigureOutput(observability.FileLogConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logFile.Close()

	logger := opts.logger(cfg, "serve")
	logger.Info().Str("fund_id", cfg.Fund.ID).Msg("FundLedger starting")
	metrics := observability.NewMetrics()

	// --- Postgres ---
	db, err := openDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persistence.NewMigrator(db, persistence.Migrations(), opts.logger(cfg, "migrate")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	store := persistence.NewSnapshotManager(db, cfg.Fund.ID)

	// --- Fund ---
	// Persistence blocks the fund; publishing drops when full.
	persistCh := make(chan core.CoreOutput, cfg.Persistence.PersistChanSize)
	commandCh := make(chan sequencer.CommandRecord, cfg.Persistence.CommandChanSize)
	var publishCh chan core.CoreOutput
	if cfg.NATS.Enabled {
		publishCh = make(chan core.CoreOutput, cfg.Persistence.PublishChanSize)
	}

	comps, err := BuildFund(cfg, opts.logger(cfg, "fund"), metrics, core.WithOutputs(persistCh, publishCh))
	if err != nil {
		return err
	}

	// The worker outlives the sequencer so a command blocked on the persist
	// channel can always finish; it is stopped after the sequencer exits.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()
	worker := persistence.NewPersistenceWorker(persistence.NewEventLogWriter(db), persistCh, commandCh,
		cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout, opts.logger(cfg, "persistence"), metrics)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(persistCtx) }()

	snaps := NewSnapshotter(comps, store, opts.logger(cfg, "snapshot"), metrics)
	if err := Recover(ctx, comps, store, snaps, cfg.Recovery.AllowStaleSnapshot, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- Sequencer ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db, cfg.Fund.ID)
	dedup := sequencer.NewIdempotencyChecker(cfg.Sequencer.IdempotencyLRUCapacity, dbChecker, metrics)
	keys, err := dbChecker.RecentKeys(ctx, cfg.Sequencer.IdempotencyLRUCapacity)
	if err != nil {
		return fmt.Errorf("load idempotency keys: %w", err)
	}
	dedup.Warm(keys)
	logger.Info().Int("keys", len(keys)).Msg("idempotency cache warmed")

	seq := sequencer.New(comps.Fund, cfg.Sequencer.InboxSize,
		sequencer.WithLogger(opts.logger(cfg, "sequencer")),
		sequencer.WithMetrics(metrics),
		sequencer.WithIdempotency(dedup),
		sequencer.WithCommandLog(commandCh),
		sequencer.WithDumpPath(cfg.Sequencer.DumpPath),
	)
	snaps.Attach(seq)

	processor := ingestion.NewPriceProcessor(seq, comps.Feed, comps.BaseDecimals(), opts.logger(cfg, "ingestion"), metrics)

	health := observability.NewHealthChecker()
	health.AddCheck("postgres", db.PingContext)

	srv, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Gateway: server.GatewayDeps{
			Commands:  seq,
			Queries:   query.NewQueryService(seq, store),
			Prices:    ingestion.NewManualIngestService(processor),
			Snapshots: snaps,
			Assets:    comps.Vault,
			Offers:    comps.Market,
			Metrics:   metrics,
			Timeout:   cfg.Server.RequestTimeout,
		},
		HealthChecker: health,
		Logger:        opts.logger(cfg, "server"),
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(opts.logger(cfg, "scheduler"), metrics)
	if err := sched.AddFeeSettlement(cfg.Scheduler.FeeSettlement, seq); err != nil {
		return err
	}
	if err := sched.AddSnapshots(cfg.Scheduler.Snapshot, snaps); err != nil {
		return err
	}

	// --- Goroutines ---
	g, gctx := errgroup.WithContext(ctx)

	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, opts.logger(cfg, "nats"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		})

		rawCh := make(chan ingestion.RawEvent, rawEventBuffer)
		sub := ingestion.NewNATSSubscriber(js, rawCh, opts.logger(cfg, "nats"), metrics)
		if err := sub.Subscribe(gctx, ingestion.PriceSubjects(cfg.Fund.ID)); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Stop()

		g.Go(func() error { return processor.Run(gctx, rawCh) })
		publisher := ingestion.NewOutboundPublisher(js, publishCh, opts.logger(cfg, "publisher"))
		g.Go(func() error { return publisher.Run(gctx) })
	}

	startSeq := comps.Fund.Sequence()
	g.Go(func() error { return seq.Run(gctx) })
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	health.SetReady(true)
	logger.Info().
		Int64("sequence", startSeq).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("FundLedger ready")

	runErr := g.Wait()
	health.SetReady(false)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("service failed, shutting down")
	} else {
		logger.Info().Msg("shutting down")
	}

	// The sequencer has exited, so nothing else touches the fund. Flush the
	// log, then write the final snapshot.
	stopPersist()
	<-workerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := snaps.Save(shutdownCtx, comps.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
		return errors.Join(runErr, err)
	}
	logger.Info().Int64("sequence", comps.Fund.Sequence()).Msg("FundLedger shutdown complete")
	return runErr
}
