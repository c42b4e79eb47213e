package core

import (
	"fmt"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/state"
)

// adjustBaseline moves the recorded baseline of an asset that open orders
// are exposed to, so that flows the fund itself initiated are not mistaken
// for venue shortfalls.
func (f *Fund) adjustBaseline(asset ledger.Asset, delta int64) {
	if delta == 0 || !f.orders.Touches(asset) {
		return
	}
	next, err := fpmath.Add(f.previousHoldings.Get(asset), delta)
	if err != nil {
		// Baselines track real holdings, which always fit.
		panic(fmt.Sprintf("FATAL: baseline of %s out of range: %v", asset, err))
	}
	f.previousHoldings.Set(asset, next)
}

// CloseOpenOrders reconciles every open slot selling base for quote. All of
// them must be finished at the venue (filled or cancelled). The proof of
// embezzlement runs first; a detected shortfall shuts the fund down but the
// slots are still freed and the new baseline recorded.
func (f *Fund) CloseOpenOrders(caller ledger.Address, base, quote ledger.Asset) (embezzled bool, err error) {
	if err := f.begin(); err != nil {
		return false, err
	}
	start := time.Now()
	defer func() { f.end("close_open_orders", start, err) }()

	slots := f.orders.SlotsFor(base, quote)
	if len(slots) == 0 {
		return false, nil
	}

	remaining := make([]int64, len(slots))
	for i, s := range slots {
		terms, err := f.deps.Venue.Lookup(s.Order.VenueHandle)
		if err != nil {
			return false, fmt.Errorf("lookup order %d: %w", s.Order.ID, err)
		}
		if terms.Active {
			return false, precondition(fmt.Sprintf("order %d finished at venue", s.Order.ID))
		}
		remaining[i] = terms.SellQty
	}

	embezzled, err = f.proofOfEmbezzlement(caller, base, quote)
	if err != nil {
		return false, err
	}

	ids := make([]int64, 0, len(slots))
	for i, s := range slots {
		filled := s.Order.SellQty - remaining[i]
		if filled < 0 {
			filled = 0
		}
		s.Order.FillQty = filled
		switch {
		case filled >= s.Order.SellQty:
			s.Order.Status = state.OrderFullyFilled
		case filled > 0:
			s.Order.Status = state.OrderPartiallyFilled
		}
		f.orders.Release(s.Index)
		ids = append(ids, s.Order.ID)
	}

	// Orders on other pairs may still hold base or quote at the venue.
	parked, err := f.parkedHoldings()
	if err != nil {
		return false, err
	}
	f.previousHoldings.Set(base, f.deps.Assets.BalanceOf(base, f.address)+parked[base])
	f.previousHoldings.Set(quote, f.deps.Assets.BalanceOf(quote, f.address)+parked[quote])

	f.emit(&event.OrdersClosed{
		Sequence:     f.nextSequence(),
		Base:         base,
		Quote:        quote,
		OrderIDs:     ids,
		Embezzlement: embezzled,
		Timestamp:    f.now(),
	})
	return embezzled, nil
}

// ProofOfEmbezzlement runs the reconciliation on its own. A detected
// shortfall shuts the fund down; the call itself succeeds.
func (f *Fund) ProofOfEmbezzlement(caller ledger.Address, base, quote ledger.Asset) (embezzled bool, err error) {
	if err := f.begin(); err != nil {
		return false, err
	}
	start := time.Now()
	defer func() { f.end("proof_of_embezzlement", start, err) }()

	return f.proofOfEmbezzlement(caller, base, quote)
}

// proofOfEmbezzlement checks both legs of the open orders on a pair:
//
//	outflow: previous[base] - intendedSell <= current[base]
//	inflow:  previous[quote] + intendedBuy*factor/10000 <= current[quote]
//
// where factor is the fraction of the intended sell that actually left.
// Current holdings include what active orders still hold at the venue.
func (f *Fund) proofOfEmbezzlement(caller ledger.Address, base, quote ledger.Asset) (bool, error) {
	parked, err := f.parkedHoldings()
	if err != nil {
		return false, err
	}
	intendedSell, err := f.orders.IntendedSell(base)
	if err != nil {
		return false, err
	}
	prevBase := f.previousHoldings.Get(base)
	curBase, err := fpmath.Add(f.deps.Assets.BalanceOf(base, f.address), parked[base])
	if err != nil {
		return false, err
	}

	floor, err := fpmath.Sub(prevBase, intendedSell)
	if err != nil {
		return false, err
	}
	if floor > curBase {
		f.reportEmbezzlement(caller, base, quote, "sell", floor, curBase)
		return true, nil
	}

	actualSold, err := fpmath.Sub(prevBase, curBase)
	if err != nil {
		return false, err
	}
	if actualSold < 0 {
		actualSold = 0
	}
	factor := fpmath.FactorScale
	if intendedSell > 0 {
		if factor, err = fpmath.MulDiv(actualSold, fpmath.FactorScale, intendedSell, fpmath.RoundDown); err != nil {
			return false, err
		}
	}

	intendedBuy, err := f.orders.IntendedBuy(quote)
	if err != nil {
		return false, err
	}
	expectedBuy, err := fpmath.MulDiv(intendedBuy, factor, fpmath.FactorScale, fpmath.RoundDown)
	if err != nil {
		return false, err
	}
	want, err := fpmath.Add(f.previousHoldings.Get(quote), expectedBuy)
	if err != nil {
		return false, err
	}
	curQuote, err := fpmath.Add(f.deps.Assets.BalanceOf(quote, f.address), parked[quote])
	if err != nil {
		return false, err
	}
	if want > curQuote {
		f.reportEmbezzlement(caller, base, quote, "buy", want, curQuote)
		return true, nil
	}
	return false, nil
}

func (f *Fund) reportEmbezzlement(caller ledger.Address, base, quote ledger.Asset, side string, expected, actual int64) {
	f.emit(&event.EmbezzlementDetected{
		Sequence:  f.nextSequence(),
		Base:      base,
		Quote:     quote,
		Side:      side,
		Expected:  expected,
		Actual:    actual,
		Timestamp: f.now(),
	})
	f.logger.Error().
		Str("base", string(base)).
		Str("quote", string(quote)).
		Str("side", side).
		Int64("expected", expected).
		Int64("actual", actual).
		Msg("embezzlement detected")
	if f.metrics != nil {
		f.metrics.EmbezzlementDetected.WithLabelValues(side).Inc()
	}
	f.shutDown(caller, "embezzlement detected")
}
