package core

import (
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/state"
)

// orderPrices returns the implied price of an order and the oracle reference
// price, both in buy-asset smallest units per whole unit of the sell asset.
func (f *Fund) orderPrices(sell, buy ledger.Asset, sellQty, buyQty int64) (price, ref int64, err error) {
	sellPrice, ok := f.deps.Oracle.Price(sell)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, sell)
	}
	buyPrice, ok := f.deps.Oracle.Price(buy)
	if !ok || buyPrice <= 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, buy)
	}
	sellDecimals, ok := f.deps.Oracle.Decimals(sell)
	if !ok {
		return 0, 0, fmt.Errorf("%w: no decimals for %s", ErrPriceUnavailable, sell)
	}
	buyDecimals, ok := f.deps.Oracle.Decimals(buy)
	if !ok {
		return 0, 0, fmt.Errorf("%w: no decimals for %s", ErrPriceUnavailable, buy)
	}
	sellUnit, err := fpmath.Pow10(sellDecimals)
	if err != nil {
		return 0, 0, err
	}
	buyUnit, err := fpmath.Pow10(buyDecimals)
	if err != nil {
		return 0, 0, err
	}

	if ref, err = fpmath.MulDiv(sellPrice, buyUnit, buyPrice, fpmath.RoundDown); err != nil {
		return 0, 0, fmt.Errorf("reference price: %w", err)
	}
	if price, err = fpmath.MulDiv(buyQty, sellUnit, sellQty, fpmath.RoundDown); err != nil {
		return 0, 0, fmt.Errorf("order price: %w", err)
	}
	return price, ref, nil
}

// MakeOrder places a resting order at the venue and tracks it in a free
// open-order slot until the custody guard closes it.
func (f *Fund) MakeOrder(caller ledger.Address, sell, buy ledger.Asset, sellQty, buyQty int64) (id int64, err error) {
	if err := f.begin(); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { f.end("make_order", start, err) }()

	if err := f.requireManager(caller); err != nil {
		return 0, err
	}
	if err := f.requireActive(); err != nil {
		return 0, err
	}
	if sellQty <= 0 || buyQty <= 0 || sell == buy {
		return 0, precondition("positive quantities of two distinct assets")
	}

	price, ref, err := f.orderPrices(sell, buy, sellQty, buyQty)
	if err != nil {
		return 0, err
	}
	if !f.deps.Risk.ApproveMake(price, sellQty, ref) {
		return 0, precondition("risk permission approves make")
	}
	slot, ok := f.orders.FreeSlot()
	if !ok {
		return 0, precondition("free open-order slot")
	}
	if f.freeBalance(sell) < sellQty {
		return 0, fmt.Errorf("%w: fund cannot sell %d %s", ErrInsufficientBalance, sellQty, sell)
	}

	// Baselines for assets no open order touches yet, taken before escrow.
	armSell, armBuy := !f.orders.Touches(sell), !f.orders.Touches(buy)
	sellBefore := f.deps.Assets.BalanceOf(sell, f.address)
	buyBefore := f.deps.Assets.BalanceOf(buy, f.address)

	spender := f.deps.Venue.Address()
	if err := f.deps.Assets.Approve(sell, f.address, spender, sellQty); err != nil {
		return 0, fmt.Errorf("approve venue: %w", err)
	}
	handle, err := f.deps.Venue.Place(f.address, sell, buy, sellQty, buyQty)
	if err != nil {
		return 0, f.revokeApproval(sell, spender, fmt.Errorf("place order: %w", err))
	}

	now := f.now()
	order := f.orders.Record(state.Order{
		VenueHandle: handle,
		SellAsset:   sell,
		BuyAsset:    buy,
		SellQty:     sellQty,
		BuyQty:      buyQty,
		Timestamp:   now,
		Status:      state.OrderOpen,
		Kind:        state.OrderMake,
	})
	if err := f.orders.Occupy(slot, order.ID); err != nil {
		panic(fmt.Sprintf("FATAL: free slot %d rejected order %d: %v", slot, order.ID, err))
	}
	if armSell {
		f.previousHoldings.Set(sell, sellBefore)
	}
	if armBuy {
		f.previousHoldings.Set(buy, buyBefore)
	}

	f.emit(&event.OrderMade{
		OrderID:     order.ID,
		VenueHandle: handle,
		Slot:        slot,
		SellAsset:   sell,
		BuyAsset:    buy,
		SellQty:     sellQty,
		BuyQty:      buyQty,
		Timestamp:   now,
	})
	if f.metrics != nil {
		f.metrics.OrdersRecorded.WithLabelValues(state.OrderMake.String()).Inc()
	}
	return order.ID, nil
}

// TakeOrder fills qty of a counter-order resting at the venue. The fund
// pays in the counter-order's buy asset and receives its sell asset.
func (f *Fund) TakeOrder(caller ledger.Address, handle string, qty int64) (id int64, err error) {
	if err := f.begin(); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { f.end("take_order", start, err) }()

	if err := f.requireManager(caller); err != nil {
		return 0, err
	}
	if err := f.requireActive(); err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, precondition("positive quantity")
	}

	terms, err := f.deps.Venue.Lookup(handle)
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", handle, err)
	}
	if !terms.Active {
		return 0, precondition("counter-order active")
	}
	if qty > terms.SellQty {
		return 0, precondition("quantity within counter-order")
	}

	sell, buy := terms.BuyAsset, terms.SellAsset
	spend, err := TakeCost(terms, qty)
	if err != nil {
		return 0, err
	}
	if spend <= 0 {
		return 0, precondition("positive cost")
	}

	price, ref, err := f.orderPrices(sell, buy, spend, qty)
	if err != nil {
		return 0, err
	}
	if !f.deps.Risk.ApproveTake(price, spend, ref) {
		return 0, precondition("risk permission approves take")
	}
	if f.freeBalance(sell) < spend {
		return 0, fmt.Errorf("%w: fund cannot spend %d %s", ErrInsufficientBalance, spend, sell)
	}

	spender := f.deps.Venue.Address()
	if err := f.deps.Assets.Approve(sell, f.address, spender, spend); err != nil {
		return 0, fmt.Errorf("approve venue: %w", err)
	}
	if err := f.deps.Venue.Take(handle, qty, f.address); err != nil {
		return 0, f.revokeApproval(sell, spender, fmt.Errorf("take %s: %w", handle, err))
	}

	now := f.now()
	order := f.orders.Record(state.Order{
		VenueHandle: handle,
		SellAsset:   sell,
		BuyAsset:    buy,
		SellQty:     spend,
		BuyQty:      qty,
		Timestamp:   now,
		Status:      state.OrderFullyFilled,
		Kind:        state.OrderTake,
		FillQty:     qty,
	})
	// A take settles immediately; keep the baselines of armed assets in step.
	f.adjustBaseline(sell, -spend)
	f.adjustBaseline(buy, qty)

	f.emit(&event.OrderTaken{
		OrderID:     order.ID,
		VenueHandle: handle,
		SellAsset:   sell,
		BuyAsset:    buy,
		SellQty:     spend,
		BuyQty:      qty,
		Timestamp:   now,
	})
	if f.metrics != nil {
		f.metrics.OrdersRecorded.WithLabelValues(state.OrderTake.String()).Inc()
	}
	return order.ID, nil
}

// CancelOrder asks the venue to cancel an open make-order. The slot stays
// occupied until CloseOpenOrders reconciles it.
func (f *Fund) CancelOrder(caller ledger.Address, id int64) (err error) {
	if err := f.begin(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { f.end("cancel_order", start, err) }()

	if caller != f.cfg.Manager && f.status != StatusShutDown {
		return precondition("caller is manager or fund is shut down")
	}
	order, ok := f.orders.Get(id)
	if !ok || order.Kind != state.OrderMake {
		return precondition(fmt.Sprintf("make order %d exists", id))
	}
	if !f.holdsSlot(id) {
		return precondition(fmt.Sprintf("order %d is open", id))
	}

	if err := f.deps.Venue.Cancel(order.VenueHandle); err != nil {
		return fmt.Errorf("cancel %s: %w", order.VenueHandle, err)
	}

	f.emit(&event.OrderCancelled{
		OrderID:     order.ID,
		VenueHandle: order.VenueHandle,
		Caller:      caller,
		Timestamp:   f.now(),
	})
	return nil
}

func (f *Fund) holdsSlot(orderID int64) bool {
	for _, s := range f.orders.OpenSlots() {
		if s.Order.ID == orderID {
			return true
		}
	}
	return false
}

// revokeApproval clears the venue allowance left by a failed placement and
// returns cause, joined with the revoke error if that failed too.
func (f *Fund) revokeApproval(asset ledger.Asset, spender ledger.Address, cause error) error {
	if err := f.deps.Assets.Approve(asset, f.address, spender, 0); err != nil {
		f.logger.Warn().Err(err).Str("asset", asset.String()).Str("spender", spender.String()).
			Msg("venue approval left in place")
		return errors.Join(cause, fmt.Errorf("revoke approval: %w", err))
	}
	return cause
}
