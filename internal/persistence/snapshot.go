package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/event"
	"FundLedger/internal/venue"

	"github.com/google/uuid"
)

// formatVersion 1: JSON-encoded SnapshotData
const formatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db     *sql.DB
	fundID string
}

// SnapshotData is everything needed to resume a fund. Vault and Market are
// set when the process runs the in-process asset ledger and venue.
type SnapshotData struct {
	Fund      *core.SnapshotState `json:"fund"`
	Vault     *asset.VaultState   `json:"vault,omitempty"`
	Market    *venue.MarketState  `json:"market,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB, fundID string) *SnapshotManager {
	return &SnapshotManager{db: db, fundID: fundID}
}

// SaveSnapshot persists a snapshot. A snapshot taken at a sequence already
// stored replaces it.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	if snap.Fund == nil || snap.Fund.FundID != sm.fundID {
		return fmt.Errorf("snapshot is not for fund %q", sm.fundID)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO fund_log.snapshots
			(snapshot_id, fund_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (fund_id, sequence) DO UPDATE SET data = $4, state_hash = $5, size_bytes = $7, verified = FALSE
	`, uuid.New(), sm.fundID, snap.Fund.Sequence, data, snap.Fund.StateHash, formatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM fund_log.snapshots
		WHERE fund_id = $1 AND verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`, sm.fundID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot usable for restarts once its hash has been
// checked against the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE fund_log.snapshots SET verified = TRUE WHERE fund_id = $1 AND sequence = $2
	`, sm.fundID, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence, in order.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT fund_id, sequence, event_type, idempotency_key, payload,
		       state_hash, prev_hash, timestamp
		FROM fund_log.events
		WHERE fund_id = $1 AND sequence >= $2
		ORDER BY sequence ASC
		LIMIT $3
	`, sm.fundID, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.FundID, &e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM fund_log.events WHERE fund_id = $1
	`, sm.fundID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// VerifyAgainstLog checks that the snapshot's hash matches the logged
// event at its sequence. A snapshot taken before anything was logged
// must carry the genesis hash.
func (sm *SnapshotManager) VerifyAgainstLog(ctx context.Context, snap *core.SnapshotState) error {
	if snap.Sequence == 0 {
		genesis := core.GenesisHash()
		if snap.StateHash != hex.EncodeToString(genesis[:]) {
			return fmt.Errorf("snapshot at sequence 0 does not carry the genesis hash")
		}
		return nil
	}
	rows, err := sm.LoadEventsFrom(ctx, snap.Sequence, 1)
	if err != nil {
		return err
	}
	if len(rows) == 0 || rows[0].Sequence != snap.Sequence {
		return fmt.Errorf("event %d is not in the log", snap.Sequence)
	}
	if hex.EncodeToString(rows[0].StateHash) != snap.StateHash {
		return fmt.Errorf("snapshot hash differs from logged event %d", snap.Sequence)
	}
	return nil
}

// Tail returns the events logged after the snapshot, verified to chain from
// its hash. A non-empty tail means the snapshot is older than the log.
func (sm *SnapshotManager) Tail(ctx context.Context, snap *core.SnapshotState) ([]EventRow, error) {
	rows, err := sm.LoadEventsFrom(ctx, snap.Sequence+1, 1<<20)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("snapshot state hash is malformed")
	}
	var tip [32]byte
	copy(tip[:], raw)

	envs := make([]*event.EventEnvelope, 0, len(rows))
	for _, r := range rows {
		envs = append(envs, r.Envelope())
	}
	if _, err := core.VerifyChain(tip, envs); err != nil {
		return nil, err
	}
	return rows, nil
}

// DiscardAfter deletes the events and command keys logged after sequence,
// along with any snapshots past it. Used when an operator resumes from an
// older snapshot; the discarded events can never be replayed onto it.
func (sm *SnapshotManager) DiscardAfter(ctx context.Context, sequence int64) (int64, error) {
	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("tx begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM fund_log.events WHERE fund_id = $1 AND sequence > $2`, sm.fundID, sequence)
	if err != nil {
		return 0, fmt.Errorf("discard events: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_log.commands WHERE fund_id = $1 AND sequence > $2`, sm.fundID, sequence); err != nil {
		return 0, fmt.Errorf("discard commands: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_log.snapshots WHERE fund_id = $1 AND sequence > $2`, sm.fundID, sequence); err != nil {
		return 0, fmt.Errorf("discard snapshots: %w", err)
	}
	return n, tx.Commit()
}

// Envelope rebuilds the envelope fields the hash chain covers.
func (r EventRow) Envelope() *event.EventEnvelope {
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		FundID:         r.FundID,
		Timestamp:      r.Timestamp,
		Payload:        r.Payload,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env
}
