package state

import (
	"fmt"
	"time"

	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
)

type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFullyFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFullyFilled:
		return "fully_filled"
	default:
		return "unknown"
	}
}

type OrderKind int

const (
	OrderMake OrderKind = iota + 1
	OrderTake
)

func (k OrderKind) String() string {
	switch k {
	case OrderMake:
		return "make"
	case OrderTake:
		return "take"
	default:
		return "unknown"
	}
}

// Order is a make or take action the fund sent to the venue.
type Order struct {
	ID          int64        `json:"id"`
	VenueHandle string       `json:"venue_handle"`
	SellAsset   ledger.Asset `json:"sell_asset"`
	BuyAsset    ledger.Asset `json:"buy_asset"`
	SellQty     int64        `json:"sell_qty"`
	BuyQty      int64        `json:"buy_qty"`
	Timestamp   time.Time    `json:"timestamp"`
	Status      OrderStatus  `json:"status"`
	Kind        OrderKind    `json:"kind"`
	FillQty     int64        `json:"fill_qty"`
}

// OpenSlot pairs an arena index with the order occupying it.
type OpenSlot struct {
	Index int
	Order *Order
}

// OrderBook keeps every order ever recorded plus a fixed-capacity arena of
// open make-order slots. A slot holds an order id, 0 marks it free.
type OrderBook struct {
	orders []*Order
	slots  []int64
}

func NewOrderBook(capacity int) *OrderBook {
	if capacity < 1 {
		capacity = 1
	}
	return &OrderBook{
		slots: make([]int64, capacity),
	}
}

func (b *OrderBook) Capacity() int {
	return len(b.slots)
}

// Record appends o with the next order id.
func (b *OrderBook) Record(o Order) *Order {
	o.ID = int64(len(b.orders)) + 1
	stored := o
	b.orders = append(b.orders, &stored)
	return &stored
}

func (b *OrderBook) Get(id int64) (*Order, bool) {
	if id < 1 || id > int64(len(b.orders)) {
		return nil, false
	}
	return b.orders[id-1], true
}

func (b *OrderBook) Len() int {
	return len(b.orders)
}

// FreeSlot finds the lowest free arena index. Linear in capacity.
func (b *OrderBook) FreeSlot() (int, bool) {
	for i, id := range b.slots {
		if id == 0 {
			return i, true
		}
	}
	return -1, false
}

// Occupy places an order in a free slot.
func (b *OrderBook) Occupy(index int, orderID int64) error {
	if index < 0 || index >= len(b.slots) {
		return fmt.Errorf("slot %d out of range [0,%d)", index, len(b.slots))
	}
	if b.slots[index] != 0 {
		return fmt.Errorf("slot %d already holds order %d", index, b.slots[index])
	}
	if _, ok := b.Get(orderID); !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	b.slots[index] = orderID
	return nil
}

// Release frees a slot. Releasing a free slot is a no-op.
func (b *OrderBook) Release(index int) {
	if index >= 0 && index < len(b.slots) {
		b.slots[index] = 0
	}
}

// OpenSlots returns occupied slots in index order.
func (b *OrderBook) OpenSlots() []OpenSlot {
	var out []OpenSlot
	for i, id := range b.slots {
		if id == 0 {
			continue
		}
		o, _ := b.Get(id)
		out = append(out, OpenSlot{Index: i, Order: o})
	}
	return out
}

func (b *OrderBook) OpenCount() int {
	n := 0
	for _, id := range b.slots {
		if id != 0 {
			n++
		}
	}
	return n
}

// SlotsFor returns open slots selling base for quote.
func (b *OrderBook) SlotsFor(base, quote ledger.Asset) []OpenSlot {
	var out []OpenSlot
	for _, s := range b.OpenSlots() {
		if s.Order.SellAsset == base && s.Order.BuyAsset == quote {
			out = append(out, s)
		}
	}
	return out
}

// Touches reports whether any open slot sells or buys asset.
func (b *OrderBook) Touches(asset ledger.Asset) bool {
	for _, s := range b.OpenSlots() {
		if s.Order.SellAsset == asset || s.Order.BuyAsset == asset {
			return true
		}
	}
	return false
}

// IntendedSell sums the sell quantity of open slots selling asset.
func (b *OrderBook) IntendedSell(asset ledger.Asset) (int64, error) {
	var sum int64
	for _, s := range b.OpenSlots() {
		if s.Order.SellAsset != asset {
			continue
		}
		var err error
		if sum, err = fpmath.Add(sum, s.Order.SellQty); err != nil {
			return 0, fmt.Errorf("intended sell of %s: %w", asset, err)
		}
	}
	return sum, nil
}

// IntendedBuy sums the buy quantity of open slots buying asset.
func (b *OrderBook) IntendedBuy(asset ledger.Asset) (int64, error) {
	var sum int64
	for _, s := range b.OpenSlots() {
		if s.Order.BuyAsset != asset {
			continue
		}
		var err error
		if sum, err = fpmath.Add(sum, s.Order.BuyQty); err != nil {
			return 0, fmt.Errorf("intended buy of %s: %w", asset, err)
		}
	}
	return sum, nil
}

// Snapshot returns copies of all orders and the arena.
func (b *OrderBook) Snapshot() ([]Order, []int64) {
	orders := make([]Order, len(b.orders))
	for i, o := range b.orders {
		orders[i] = *o
	}
	slots := make([]int64, len(b.slots))
	copy(slots, b.slots)
	return orders, slots
}

// Restore replaces orders and arena. The arena keeps its capacity when the
// snapshot is smaller; a larger snapshot is rejected.
func (b *OrderBook) Restore(orders []Order, slots []int64) error {
	if len(slots) > len(b.slots) {
		return fmt.Errorf("snapshot has %d slots, capacity is %d", len(slots), len(b.slots))
	}
	restored := make([]*Order, len(orders))
	for i := range orders {
		if orders[i].ID != int64(i)+1 {
			return fmt.Errorf("order log gap: position %d has id %d", i+1, orders[i].ID)
		}
		o := orders[i]
		restored[i] = &o
	}
	for i, id := range slots {
		if id < 0 || id > int64(len(restored)) {
			return fmt.Errorf("slot %d references unknown order %d", i, id)
		}
	}
	b.orders = restored
	b.slots = make([]int64, len(b.slots))
	copy(b.slots, slots)
	return nil
}
