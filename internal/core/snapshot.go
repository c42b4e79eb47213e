package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"FundLedger/internal/ledger"
	"FundLedger/internal/state"
)

// SnapshotState is the full fund state at a sequence, for warm restarts.
type SnapshotState struct {
	FundID               string                   `json:"fund_id"`
	Sequence             int64                    `json:"sequence"`
	StateHash            string                   `json:"state_hash"`
	Status               Status                   `json:"status"`
	SubscriptionsEnabled bool                     `json:"subscriptions_enabled"`
	RedemptionsEnabled   bool                     `json:"redemptions_enabled"`
	Shares               map[ledger.Address]int64 `json:"shares"`
	Calculations         state.Calculations       `json:"calculations"`
	Requests             []state.Request          `json:"requests"`
	Orders               []state.Order            `json:"orders"`
	Slots                []int64                  `json:"slots"`
	PreviousHoldings     state.Holdings           `json:"previous_holdings"`
	TakenAt              time.Time                `json:"taken_at"`
}

// CreateSnapshotState copies the current state. Call between operations.
func (f *Fund) CreateSnapshotState() *SnapshotState {
	tip := f.hasher.GetPrevHash()
	orders, slots := f.orders.Snapshot()
	return &SnapshotState{
		FundID:               f.cfg.FundID,
		Sequence:             f.sequence,
		StateHash:            hex.EncodeToString(tip[:]),
		Status:               f.status,
		SubscriptionsEnabled: f.subscriptionsEnabled,
		RedemptionsEnabled:   f.redemptionsEnabled,
		Shares:               f.shares.Snapshot(),
		Calculations:         f.calcs,
		Requests:             f.requests.Snapshot(),
		Orders:               orders,
		Slots:                slots,
		PreviousHoldings:     f.previousHoldings.Clone(),
		TakenAt:              f.now(),
	}
}

// RestoreFromSnapshot replaces the fund state with snap. Nothing changes if
// the snapshot is rejected.
func (f *Fund) RestoreFromSnapshot(snap *SnapshotState) error {
	if f.inProgress {
		return precondition("no operation in progress")
	}
	if snap.FundID != f.cfg.FundID {
		return fmt.Errorf("snapshot belongs to fund %q, not %q", snap.FundID, f.cfg.FundID)
	}
	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("snapshot state hash is malformed")
	}
	var tip [32]byte
	copy(tip[:], raw)

	shares := ledger.NewShareLedger()
	if err := shares.Restore(snap.Shares); err != nil {
		return fmt.Errorf("restore shares: %w", err)
	}
	requests := state.NewRequestBook()
	if err := requests.Restore(snap.Requests); err != nil {
		return fmt.Errorf("restore requests: %w", err)
	}
	orders := state.NewOrderBook(f.orders.Capacity())
	if err := orders.Restore(snap.Orders, snap.Slots); err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}

	f.sequence = snap.Sequence
	f.hasher = RestoreStateHasher(tip)
	f.status = snap.Status
	f.subscriptionsEnabled = snap.SubscriptionsEnabled
	f.redemptionsEnabled = snap.RedemptionsEnabled
	f.shares = shares
	f.validator = ledger.NewInvariantValidator(shares)
	f.calcs = snap.Calculations
	f.requests = requests
	f.orders = orders
	f.escrowed = 0
	for _, r := range snap.Requests {
		if r.Status == state.RequestOpen {
			f.escrowed += r.Escrowed
		}
	}
	f.previousHoldings = state.Holdings{}
	for asset, v := range snap.PreviousHoldings {
		f.previousHoldings.Set(asset, v)
	}

	f.logger.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
	return nil
}
