// internal/event/order.go
package event

import (
	"fmt"
	"time"

	"FundLedger/internal/ledger"
)

type OrderMade struct {
	OrderID     int64        `json:"order_id"`
	VenueHandle string       `json:"venue_handle"`
	Slot        int          `json:"slot"`
	SellAsset   ledger.Asset `json:"sell_asset"`
	BuyAsset    ledger.Asset `json:"buy_asset"`
	SellQty     int64        `json:"sell_qty"`
	BuyQty      int64        `json:"buy_qty"`
	Timestamp   time.Time    `json:"timestamp"`
}

func (e *OrderMade) IdempotencyKey() string { return fmt.Sprintf("order:%d:made", e.OrderID) }
func (e *OrderMade) EventType() EventType   { return EventTypeOrderMade }
func (e *OrderMade) OccurredAt() time.Time  { return e.Timestamp }

type OrderTaken struct {
	OrderID     int64        `json:"order_id"`
	VenueHandle string       `json:"venue_handle"`
	SellAsset   ledger.Asset `json:"sell_asset"`
	BuyAsset    ledger.Asset `json:"buy_asset"`
	SellQty     int64        `json:"sell_qty"`
	BuyQty      int64        `json:"buy_qty"`
	Timestamp   time.Time    `json:"timestamp"`
}

func (e *OrderTaken) IdempotencyKey() string { return fmt.Sprintf("order:%d:taken", e.OrderID) }
func (e *OrderTaken) EventType() EventType   { return EventTypeOrderTaken }
func (e *OrderTaken) OccurredAt() time.Time  { return e.Timestamp }

type OrderCancelled struct {
	OrderID     int64          `json:"order_id"`
	VenueHandle string         `json:"venue_handle"`
	Caller      ledger.Address `json:"caller"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *OrderCancelled) IdempotencyKey() string {
	return fmt.Sprintf("order:%d:cancelled", e.OrderID)
}
func (e *OrderCancelled) EventType() EventType  { return EventTypeOrderCancelled }
func (e *OrderCancelled) OccurredAt() time.Time { return e.Timestamp }

// OrdersClosed records one reconciliation pass over an asset pair.
type OrdersClosed struct {
	Sequence     int64        `json:"sequence"`
	Base         ledger.Asset `json:"base"`
	Quote        ledger.Asset `json:"quote"`
	OrderIDs     []int64      `json:"order_ids"`
	Embezzlement bool         `json:"embezzlement"`
	Timestamp    time.Time    `json:"timestamp"`
}

func (e *OrdersClosed) IdempotencyKey() string {
	return fmt.Sprintf("close:%d:%s:%s", e.Sequence, e.Base, e.Quote)
}
func (e *OrdersClosed) EventType() EventType  { return EventTypeOrdersClosed }
func (e *OrdersClosed) OccurredAt() time.Time { return e.Timestamp }

// EmbezzlementDetected carries the failed inequality of a reconciliation.
type EmbezzlementDetected struct {
	Sequence  int64        `json:"sequence"`
	Base      ledger.Asset `json:"base"`
	Quote     ledger.Asset `json:"quote"`
	Side      string       `json:"side"` // "sell" (outflow) or "buy" (inflow)
	Expected  int64        `json:"expected"`
	Actual    int64        `json:"actual"`
	Timestamp time.Time    `json:"timestamp"`
}

func (e *EmbezzlementDetected) IdempotencyKey() string {
	return fmt.Sprintf("embezzlement:%d:%s:%s", e.Sequence, e.Base, e.Quote)
}
func (e *EmbezzlementDetected) EventType() EventType  { return EventTypeEmbezzlementDetected }
func (e *EmbezzlementDetected) OccurredAt() time.Time { return e.Timestamp }
