package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/sequencer"
)

// EventLogWriter writes events and command records to Postgres using
// multi-row INSERTs inside one transaction per batch.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in fund_log.events
type EventRow struct {
	FundID         string
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// CommandRow represents a row in fund_log.commands
type CommandRow struct {
	FundID         string
	Command        string
	IdempotencyKey string
	Sequence       int64
	ProcessedAt    time.Time
}

// EventRowFromOutput converts a committed fund event into its row.
func EventRowFromOutput(out core.CoreOutput) EventRow {
	env := out.Envelope
	return EventRow{
		FundID:         env.FundID,
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
}

func CommandRowFromRecord(rec sequencer.CommandRecord) CommandRow {
	return CommandRow{
		FundID:         rec.FundID,
		Command:        rec.Command,
		IdempotencyKey: rec.IdempotencyKey,
		Sequence:       rec.Sequence,
		ProcessedAt:    rec.ProcessedAt,
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch commits events and commands atomically.
func (w *EventLogWriter) WriteBatch(ctx context.Context, events []EventRow, commands []CommandRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}
	defer tx.Rollback()

	if err := w.WriteEventBatch(ctx, tx, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := w.WriteCommandBatch(ctx, tx, commands); err != nil {
		return fmt.Errorf("write commands: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}

// WriteEventBatch writes a batch of events to fund_log.events.
// Rewriting a sequence is a no-op so retried batches are idempotent.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO fund_log.events
		(fund_id, sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES `

	const cols = 8
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.FundID, e.Sequence, e.EventType, e.IdempotencyKey,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (fund_id, sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteCommandBatch writes processed command keys to fund_log.commands.
func (w *EventLogWriter) WriteCommandBatch(ctx context.Context, tx *sql.Tx, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO fund_log.commands
		(fund_id, command, idempotency_key, sequence, processed_at)
		VALUES `

	const cols = 5
	values := make([]string, 0, len(commands))
	args := make([]any, 0, len(commands)*cols)

	for i, c := range commands {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, c.FundID, c.Command, c.IdempotencyKey, c.Sequence, c.ProcessedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (fund_id, command, idempotency_key) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
