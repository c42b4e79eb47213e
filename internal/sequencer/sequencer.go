// Package sequencer serializes every read and write of a fund onto one
// goroutine. The fund itself is not safe for concurrent use; HTTP handlers,
// the price ingester and scheduled jobs all go through Submit.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/observability"

	"github.com/rs/zerolog"
)

var (
	// ErrDuplicateCommand is returned for a reused idempotency key whose
	// original result is no longer cached.
	ErrDuplicateCommand = errors.New("sequencer: duplicate command")

	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("sequencer: stopped")
)

// Command is one unit of work executed against the fund.
type Command struct {
	// Name labels the operation in logs, metrics and the command log
	Name string

	// IdempotencyKey is optional. A key already processed for the same
	// Name returns the original result without running Run again.
	IdempotencyKey string

	Run func(f *core.Fund) (any, error)
}

// CommandRecord is written to the command log after a keyed command
// succeeds.
type CommandRecord struct {
	FundID         string
	Command        string
	IdempotencyKey string
	Sequence       int64
	ProcessedAt    time.Time
}

type submission struct {
	cmd   Command
	reply chan reply
}

type reply struct {
	result any
	err    error
}

type Option func(*Sequencer)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithIdempotency enables command deduplication.
func WithIdempotency(ic *IdempotencyChecker) Option {
	return func(s *Sequencer) { s.dedup = ic }
}

// WithCommandLog receives a record for every keyed command that succeeded.
// The send blocks, like the fund's persistence channel.
func WithCommandLog(ch chan<- CommandRecord) Option {
	return func(s *Sequencer) { s.commandLog = ch }
}

// WithDumpPath sets where the fund state is written if a command panics.
func WithDumpPath(path string) Option {
	return func(s *Sequencer) { s.dumpPath = path }
}

// Sequencer owns a fund and runs commands against it one at a time.
type Sequencer struct {
	fund       *core.Fund
	inbox      chan submission
	done       chan struct{}
	dedup      *IdempotencyChecker
	commandLog chan<- CommandRecord
	dumpPath   string

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func New(fund *core.Fund, inboxSize int, opts ...Option) *Sequencer {
	s := &Sequencer{
		fund:   fund,
		inbox:  make(chan submission, inboxSize),
		done:   make(chan struct{}),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the command loop. It must run in exactly one goroutine and returns
// when ctx is cancelled. A panic inside a command (the fund's conservation
// check, for one) dumps the fund state and halts the process.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info().Str("fund_id", s.fund.ID()).Msg("sequencer started")
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("command panicked; halting")
			s.DumpState()
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int64("sequence", s.fund.Sequence()).Msg("sequencer stopping")
			return nil
		case sub := <-s.inbox:
			if s.metrics != nil {
				s.metrics.SetChannelMetrics("sequencer_inbox", len(s.inbox), cap(s.inbox))
			}
			result, err := s.process(sub.cmd)
			sub.reply <- reply{result: result, err: err}
		}
	}
}

func (s *Sequencer) process(cmd Command) (any, error) {
	keyed := cmd.IdempotencyKey != "" && s.dedup != nil
	if keyed {
		if result, hasResult, dup := s.dedup.Lookup(cmd.Name, cmd.IdempotencyKey); dup {
			s.logger.Debug().Str("command", cmd.Name).Str("idempotency_key", cmd.IdempotencyKey).
				Msg("duplicate command")
			if !hasResult {
				return nil, ErrDuplicateCommand
			}
			return result, nil
		}
	}

	result, err := cmd.Run(s.fund)
	if err != nil || !keyed {
		return result, err
	}

	s.dedup.MarkProcessed(cmd.Name, cmd.IdempotencyKey, result)
	if s.commandLog != nil {
		s.commandLog <- CommandRecord{
			FundID:         s.fund.ID(),
			Command:        cmd.Name,
			IdempotencyKey: cmd.IdempotencyKey,
			Sequence:       s.fund.Sequence(),
			ProcessedAt:    time.Now().UTC(),
		}
	}
	return result, nil
}

// Submit queues cmd and waits for its result.
func (s *Sequencer) Submit(ctx context.Context, cmd Command) (any, error) {
	sub := submission{cmd: cmd, reply: make(chan reply, 1)}

	select {
	case s.inbox <- sub:
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Once queued the command runs even if the caller gives up waiting.
	select {
	case r := <-sub.reply:
		return r.result, r.err
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Read runs fn on the sequencer goroutine without deduplication.
func (s *Sequencer) Read(ctx context.Context, name string, fn func(f *core.Fund) (any, error)) (any, error) {
	return s.Submit(ctx, Command{Name: name, Run: fn})
}

// Done is closed when Run returns.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// DumpState writes the fund snapshot to the dump path for post-mortem.
func (s *Sequencer) DumpState() {
	if s.dumpPath == "" {
		return
	}
	s.logger.Info().Str("file", s.dumpPath).Msg("dumping fund state")

	b, err := json.MarshalIndent(s.fund.CreateSnapshotState(), "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal state")
		return
	}
	if err := os.WriteFile(s.dumpPath, b, 0o644); err != nil {
		s.logger.Error().Err(err).Msg("failed to write state dump")
	}
}
