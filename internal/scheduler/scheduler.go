// Package scheduler runs the fund's periodic jobs: fee settlement on behalf
// of the manager and snapshots for warm restarts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/observability"
	"FundLedger/internal/sequencer"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	JobFeeSettlement = "fee_settlement"
	JobSnapshot      = "snapshot"

	defaultJobTimeout = time.Minute
)

// Submitter is satisfied by *sequencer.Sequencer.
type Submitter interface {
	Submit(ctx context.Context, cmd sequencer.Command) (any, error)
}

// Snapshotter writes a snapshot and returns its sequence.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Parser accepts standard five-field specs and descriptors like "@daily".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(logger zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		timeout: defaultJobTimeout,
		logger:  logger,
		metrics: metrics,
	}
}

// AddFeeSettlement converts unclaimed fees into manager shares on spec.
// An empty spec registers nothing.
func (s *Scheduler) AddFeeSettlement(spec string, seq Submitter) error {
	if spec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(JobFeeSettlement, func(ctx context.Context) error { return SettleFees(ctx, seq) }) }); err != nil {
		return fmt.Errorf("register %s job: %w", JobFeeSettlement, err)
	}
	return nil
}

// AddSnapshots takes a snapshot on spec. An empty spec registers nothing.
func (s *Scheduler) AddSnapshots(spec string, snap Snapshotter) error {
	if spec == "" {
		return nil
	}
	job := s.snapshotJob(snap)
	if _, err := s.cron.AddFunc(spec, func() { s.run(JobSnapshot, job) }); err != nil {
		return fmt.Errorf("register %s job: %w", JobSnapshot, err)
	}
	return nil
}

func (s *Scheduler) snapshotJob(snap Snapshotter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		seq, err := snap.TakeSnapshot(ctx)
		if err == nil {
			s.logger.Info().Int64("sequence", seq).Msg("scheduled snapshot saved")
		}
		return err
	}
}

// SettleFees submits a fee conversion as the fund manager.
func SettleFees(ctx context.Context, seq Submitter) error {
	_, err := seq.Submit(ctx, sequencer.Command{
		Name: "convert_fees",
		Run: func(f *core.Fund) (any, error) {
			return f.ConvertUnclaimedRewards(f.Manager())
		},
	})
	return err
}

// Run starts the jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) run(job string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result := "ok"
	if err := fn(ctx); err != nil {
		result = "error"
		s.logger.Error().Err(err).Str("job", job).Msg("scheduled job failed")
	}
	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(job, result).Inc()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
