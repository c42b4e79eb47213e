package event

import (
	"time"

	"FundLedger/internal/ledger"

	"github.com/google/uuid"
)

// SharesMinted is emitted for every mint on the share ledger.
type SharesMinted struct {
	ChangeID  uuid.UUID      `json:"change_id"`
	Owner     ledger.Address `json:"owner"`
	Actor     ledger.Address `json:"actor"`
	Amount    int64          `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *SharesMinted) IdempotencyKey() string { return e.ChangeID.String() }
func (e *SharesMinted) EventType() EventType   { return EventTypeSharesMinted }
func (e *SharesMinted) OccurredAt() time.Time  { return e.Timestamp }

// SharesBurned is emitted for every burn on the share ledger.
type SharesBurned struct {
	ChangeID  uuid.UUID      `json:"change_id"`
	Owner     ledger.Address `json:"owner"`
	Actor     ledger.Address `json:"actor"`
	Amount    int64          `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *SharesBurned) IdempotencyKey() string { return e.ChangeID.String() }
func (e *SharesBurned) EventType() EventType   { return EventTypeSharesBurned }
func (e *SharesBurned) OccurredAt() time.Time  { return e.Timestamp }

// FromChange converts a ledger change record into its event.
func FromChange(c ledger.Change) Event {
	if c.Kind == ledger.ChangeBurn {
		return &SharesBurned{ChangeID: c.ChangeID, Owner: c.Owner, Actor: c.Actor, Amount: c.Amount, Timestamp: c.Timestamp}
	}
	return &SharesMinted{ChangeID: c.ChangeID, Owner: c.Owner, Actor: c.Actor, Amount: c.Amount, Timestamp: c.Timestamp}
}
