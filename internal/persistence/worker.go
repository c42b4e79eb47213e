package persistence

import (
	"context"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/observability"
	"FundLedger/internal/sequencer"

	"github.com/rs/zerolog"
)

// BatchWriter commits one batch atomically. EventLogWriter is the Postgres
// implementation.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []EventRow, commands []CommandRow) error
}

// PersistenceWorker drains the persist and command-log channels and
// batch-writes them. The fund sends to both channels blocking, so if this
// worker falls behind the sequencer stalls and no event is lost.
type PersistenceWorker struct {
	writer       BatchWriter
	outputs      <-chan core.CoreOutput
	commands     <-chan sequencer.CommandRecord
	batchSize    int
	flushTimeout time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration

	logger  zerolog.Logger
	metrics *observability.Metrics
}

type WorkerOption func(*PersistenceWorker)

// WithBackoff overrides the retry backoff bounds (default 100ms to 30s).
func WithBackoff(base, max time.Duration) WorkerOption {
	return func(pw *PersistenceWorker) {
		pw.baseBackoff = base
		pw.maxBackoff = max
	}
}

func NewPersistenceWorker(
	writer BatchWriter,
	outputs <-chan core.CoreOutput,
	commands <-chan sequencer.CommandRecord,
	batchSize int,
	flushTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	opts ...WorkerOption,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	pw := &PersistenceWorker{
		writer:       writer,
		outputs:      outputs,
		commands:     commands,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		baseBackoff:  100 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		logger:       logger,
		metrics:      metrics,
	}
	for _, opt := range opts {
		opt(pw)
	}
	return pw
}

// Run batches incoming rows and flushes when the batch is full or the
// flush timeout expires. It returns once ctx is cancelled and the pending
// batch is written, or when both channels are closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, pw.batchSize)
	commands := make([]CommandRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(events) == 0 && len(commands) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, events, commands); err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("events", len(events)).Msg("batch flush failed")
		}
		events = events[:0]
		commands = commands[:0]
	}

	outputs, cmds := pw.outputs, pw.commands
	for outputs != nil || cmds != nil {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush what is buffered, then anything the
			// sequencer managed to hand over before stopping.
			pw.drain(&events, &commands, outputs, cmds)
			flush(context.Background(), "shutdown")
			return nil

		case out, ok := <-outputs:
			if !ok {
				outputs = nil
				continue
			}
			events = append(events, EventRowFromOutput(out))

		case rec, ok := <-cmds:
			if !ok {
				cmds = nil
				continue
			}
			commands = append(commands, CommandRowFromRecord(rec))

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
			continue
		}

		if len(events)+len(commands) >= pw.batchSize {
			flush(ctx, "full")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pw.flushTimeout)
		}
	}

	flush(context.Background(), "closed")
	return nil
}

func (pw *PersistenceWorker) drain(events *[]EventRow, commands *[]CommandRow, outputs <-chan core.CoreOutput, cmds <-chan sequencer.CommandRecord) {
	for {
		select {
		case out, ok := <-outputs:
			if !ok {
				outputs = nil
				continue
			}
			*events = append(*events, EventRowFromOutput(out))
		case rec, ok := <-cmds:
			if !ok {
				cmds = nil
				continue
			}
			*commands = append(*commands, CommandRowFromRecord(rec))
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// events: it retries until the write succeeds or ctx is cancelled, in which
// case it makes one final attempt with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, commands []CommandRow) error {
	backoff := pw.baseBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), events, commands)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, events, commands)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, commands []CommandRow) error {
	start := time.Now()

	if err := pw.writer.WriteBatch(ctx, events, commands); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_batch").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		if len(events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}
	return nil
}
