package state

import (
	"FundLedger/internal/ledger"
	"fmt"
	"time"
)

// RequestStatus transitions one way: Open -> Executed | Cancelled.
type RequestStatus int

const (
	RequestOpen RequestStatus = iota
	RequestExecuted
	RequestCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case RequestOpen:
		return "open"
	case RequestExecuted:
		return "executed"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type RequestKind int

const (
	RequestSubscribe RequestKind = iota + 1
	RequestRedeem
)

func (k RequestKind) String() string {
	switch k {
	case RequestSubscribe:
		return "subscribe"
	case RequestRedeem:
		return "redeem"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the executable kinds.
func (k RequestKind) Valid() bool {
	return k == RequestSubscribe || k == RequestRedeem
}

// Outcome describes how an executed request settled.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeSettled: value moved and shares were minted or burned.
	OutcomeSettled
	// OutcomeSettlementMismatch: the price sanity check failed at execution.
	// The request is closed; any escrow goes back to the owner.
	OutcomeSettlementMismatch
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeSettlementMismatch:
		return "settlement_mismatch"
	default:
		return "none"
	}
}

// Request is one subscribe or redeem request.
type Request struct {
	ID        int64          `json:"id"`
	Owner     ledger.Address `json:"owner"`
	Status    RequestStatus  `json:"status"`
	Kind      RequestKind    `json:"kind"`
	NumShares int64          `json:"num_shares"`
	// Offered value for subscriptions, requested value for redemptions
	Value     int64 `json:"value"`
	Incentive int64 `json:"incentive"`
	// Base asset held by the fund on behalf of the request
	Escrowed int64 `json:"escrowed"`

	FeedUpdateID   int64     `json:"feed_update_id"`
	FeedUpdateTime time.Time `json:"feed_update_time"`
	CreatedAt      time.Time `json:"created_at"`

	Outcome  Outcome   `json:"outcome"`
	ClosedAt time.Time `json:"closed_at"`
}

// IsOpen returns true while the request can still be executed or cancelled
func (r *Request) IsOpen() bool {
	return r.Status == RequestOpen
}

// RequestBook is the append-only request log. IDs start at 1 and are the
// position in the log.
type RequestBook struct {
	requests []*Request
}

func NewRequestBook() *RequestBook {
	return &RequestBook{}
}

// NextID returns the id the next filed request will get
func (b *RequestBook) NextID() int64 {
	return int64(len(b.requests)) + 1
}

// File appends r with the next id and open status.
func (b *RequestBook) File(r Request) *Request {
	r.ID = b.NextID()
	r.Status = RequestOpen
	r.Outcome = OutcomeNone
	stored := r
	b.requests = append(b.requests, &stored)
	return &stored
}

func (b *RequestBook) Get(id int64) (*Request, bool) {
	if id < 1 || id > int64(len(b.requests)) {
		return nil, false
	}
	return b.requests[id-1], true
}

func (b *RequestBook) Len() int {
	return len(b.requests)
}

// Close moves an open request to its terminal status.
func (b *RequestBook) Close(id int64, status RequestStatus, outcome Outcome, at time.Time) error {
	r, ok := b.Get(id)
	if !ok {
		return fmt.Errorf("request %d not found", id)
	}
	if !r.IsOpen() {
		return fmt.Errorf("request %d is %s", id, r.Status)
	}
	if status == RequestOpen {
		return fmt.Errorf("request %d: cannot transition to open", id)
	}
	r.Status = status
	r.Outcome = outcome
	r.ClosedAt = at
	return nil
}

// Snapshot returns copies of all requests in id order.
func (b *RequestBook) Snapshot() []Request {
	out := make([]Request, len(b.requests))
	for i, r := range b.requests {
		out[i] = *r
	}
	return out
}

// Restore replaces the log. IDs must be 1..n in order.
func (b *RequestBook) Restore(requests []Request) error {
	restored := make([]*Request, len(requests))
	for i := range requests {
		if requests[i].ID != int64(i)+1 {
			return fmt.Errorf("request log gap: position %d has id %d", i+1, requests[i].ID)
		}
		r := requests[i]
		restored[i] = &r
	}
	b.requests = restored
	return nil
}
