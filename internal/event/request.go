// internal/event/request.go
package event

import (
	"fmt"
	"time"

	"FundLedger/internal/ledger"
)

type RequestFiled struct {
	RequestID      int64          `json:"request_id"`
	Owner          ledger.Address `json:"owner"`
	Kind           string         `json:"kind"`
	NumShares      int64          `json:"num_shares"`
	Value          int64          `json:"value"` // Offered (subscribe) or requested (redeem)
	Incentive      int64          `json:"incentive"`
	FeedUpdateID   int64          `json:"feed_update_id"`
	FeedUpdateTime time.Time      `json:"feed_update_time"`
	Timestamp      time.Time      `json:"timestamp"`
}

func (e *RequestFiled) IdempotencyKey() string { return fmt.Sprintf("request:%d:filed", e.RequestID) }
func (e *RequestFiled) EventType() EventType   { return EventTypeRequestFiled }
func (e *RequestFiled) OccurredAt() time.Time  { return e.Timestamp }

type RequestExecuted struct {
	RequestID   int64          `json:"request_id"`
	Owner       ledger.Address `json:"owner"`
	Worker      ledger.Address `json:"worker"`
	Kind        string         `json:"kind"`
	Outcome     string         `json:"outcome"`
	SharePrice  int64          `json:"share_price"`
	ActualValue int64          `json:"actual_value"`
	Refund      int64          `json:"refund"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *RequestExecuted) IdempotencyKey() string {
	return fmt.Sprintf("request:%d:executed", e.RequestID)
}
func (e *RequestExecuted) EventType() EventType  { return EventTypeRequestExecuted }
func (e *RequestExecuted) OccurredAt() time.Time { return e.Timestamp }

type RequestCancelled struct {
	RequestID int64          `json:"request_id"`
	Owner     ledger.Address `json:"owner"`
	Caller    ledger.Address `json:"caller"`
	Refunded  int64          `json:"refunded"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *RequestCancelled) IdempotencyKey() string {
	return fmt.Sprintf("request:%d:cancelled", e.RequestID)
}
func (e *RequestCancelled) EventType() EventType  { return EventTypeRequestCancelled }
func (e *RequestCancelled) OccurredAt() time.Time { return e.Timestamp }
