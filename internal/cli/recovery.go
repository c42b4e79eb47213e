package cli

import (
	"context"
	"fmt"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const logPollInterval = 50 * time.Millisecond

// SnapshotStore is the snapshot side of the event log.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *persistence.SnapshotData) error
	LoadLatestSnapshot(ctx context.Context) (*persistence.SnapshotData, error)
	MarkVerified(ctx context.Context, sequence int64) error
	GetLatestSequence(ctx context.Context) (int64, error)
	VerifyAgainstLog(ctx context.Context, snap *core.SnapshotState) error
	Tail(ctx context.Context, snap *core.SnapshotState) ([]persistence.EventRow, error)
	DiscardAfter(ctx context.Context, sequence int64) (int64, error)
}

// StateReader runs fn on the sequencer goroutine.
type StateReader interface {
	Read(ctx context.Context, name string, fn func(f *core.Fund) (any, error)) (any, error)
}

// Snapshotter writes verified snapshots of a running fund.
type Snapshotter struct {
	comps   *Components
	store   SnapshotStore
	reader  StateReader
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewSnapshotter(comps *Components, store SnapshotStore, logger zerolog.Logger, metrics *observability.Metrics) *Snapshotter {
	return &Snapshotter{comps: comps, store: store, logger: logger, metrics: metrics}
}

// Attach routes TakeSnapshot through the sequencer once it runs.
func (s *Snapshotter) Attach(reader StateReader) {
	s.reader = reader
}

// TakeSnapshot captures state on the sequencer and saves it.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	if s.reader == nil {
		return 0, fmt.Errorf("snapshotter is not attached to a sequencer")
	}
	v, err := s.reader.Read(ctx, "snapshot", func(*core.Fund) (any, error) {
		return s.comps.Snapshot(), nil
	})
	if err != nil {
		return 0, err
	}
	snap := v.(*persistence.SnapshotData)
	return snap.Fund.Sequence, s.Save(ctx, snap)
}

// Save stores snap and marks it verified once the event log has caught up
// with it and agrees on its hash.
func (s *Snapshotter) Save(ctx context.Context, snap *persistence.SnapshotData) error {
	start := time.Now()
	seq := snap.Fund.Sequence

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if err := s.waitForLog(ctx, seq); err != nil {
		return fmt.Errorf("snapshot %d: %w", seq, err)
	}
	if err := s.store.VerifyAgainstLog(ctx, snap.Fund); err != nil {
		return fmt.Errorf("snapshot %d: %w", seq, err)
	}
	if err := s.store.MarkVerified(ctx, seq); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotLastSeq.Set(float64(seq))
	}
	s.logger.Info().Int64("sequence", seq).Dur("took", time.Since(start)).Msg("snapshot saved")
	return nil
}

func (s *Snapshotter) waitForLog(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		latest, err := s.store.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("event log stuck at %d: %w", latest, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Recover restores the latest verified snapshot or, on a cold start,
// applies the genesis balances and saves a first snapshot. Events logged
// after the snapshot cannot be replayed onto it: recovery refuses to start
// unless allowStale, in which case they are discarded.
func Recover(ctx context.Context, comps *Components, store SnapshotStore, snaps *Snapshotter, allowStale bool, logger zerolog.Logger) error {
	snap, err := store.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}

	if snap == nil {
		latest, err := store.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest > 0 {
			if !allowStale {
				return fmt.Errorf("event log holds %d events but no verified snapshot; set recovery.allow_stale_snapshot to discard them", latest)
			}
			if err := discard(ctx, store, 0, logger); err != nil {
				return err
			}
		}
		if err := comps.ApplyGenesis(); err != nil {
			return err
		}
		logger.Info().Int("genesis_balances", len(comps.Config.Genesis)).Msg("cold start")
		return snaps.Save(ctx, comps.Snapshot())
	}

	if err := store.VerifyAgainstLog(ctx, snap.Fund); err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Fund.Sequence, err)
	}
	tail, err := store.Tail(ctx, snap.Fund)
	if err != nil {
		return fmt.Errorf("snapshot %d tail: %w", snap.Fund.Sequence, err)
	}
	if len(tail) > 0 {
		if !allowStale {
			return fmt.Errorf("snapshot %d is %d events behind the log; set recovery.allow_stale_snapshot to discard them",
				snap.Fund.Sequence, len(tail))
		}
		if err := discard(ctx, store, snap.Fund.Sequence, logger); err != nil {
			return err
		}
	}

	if err := comps.Restore(snap); err != nil {
		return err
	}
	logger.Info().Int64("sequence", snap.Fund.Sequence).Str("state_hash", snap.Fund.StateHash).Msg("restored from snapshot")
	return nil
}

func discard(ctx context.Context, store SnapshotStore, after int64, logger zerolog.Logger) error {
	n, err := store.DiscardAfter(ctx, after)
	if err != nil {
		return err
	}
	logger.Warn().Int64("after_sequence", after).Int64("discarded", n).Msg("discarded events the snapshot does not cover")
	return nil
}
