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

// Calculation is the result of one full valuation pass.
type Calculation struct {
	Gav               int64 `json:"gav"`
	ManagementReward  int64 `json:"management_reward"`
	PerformanceReward int64 `json:"performance_reward"`
	UnclaimedRewards  int64 `json:"unclaimed_rewards"`
	Nav               int64 `json:"nav"`
	SharePrice        int64 `json:"share_price"`
}

// parkedHoldings sums what the fund still has escrowed at the venue: the
// outstanding sell quantity of every open make-order the venue reports as
// active.
func (f *Fund) parkedHoldings() (map[ledger.Asset]int64, error) {
	parked := make(map[ledger.Asset]int64)
	for _, slot := range f.orders.OpenSlots() {
		terms, err := f.deps.Venue.Lookup(slot.Order.VenueHandle)
		if err != nil {
			return nil, fmt.Errorf("lookup order %d: %w", slot.Order.ID, err)
		}
		if !terms.Active {
			continue
		}
		sum, err := fpmath.Add(parked[slot.Order.SellAsset], terms.SellQty)
		if err != nil {
			return nil, err
		}
		parked[slot.Order.SellAsset] = sum
	}
	return parked, nil
}

// CalcGav values direct plus parked holdings of every registered asset at
// oracle prices, in smallest units of the base asset. Subscription escrow is
// excluded. Nothing is cached.
func (f *Fund) CalcGav() (int64, error) {
	parked, err := f.parkedHoldings()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	var gav int64
	for _, asset := range f.deps.Oracle.RegisteredAssets() {
		price, ok := f.deps.Oracle.Price(asset)
		if !ok || price < 0 {
			return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
		}
		decimals, ok := f.deps.Oracle.Decimals(asset)
		if !ok {
			return 0, fmt.Errorf("%w: no decimals for %s", ErrPriceUnavailable, asset)
		}
		unit, err := fpmath.Pow10(decimals)
		if err != nil {
			return 0, fmt.Errorf("decimals of %s: %w", asset, err)
		}

		holdings, err := fpmath.Add(f.freeBalance(asset), parked[asset])
		if err != nil {
			return 0, err
		}
		value, err := fpmath.MulDiv(holdings, price, unit, fpmath.RoundDown)
		if err != nil {
			return 0, fmt.Errorf("value of %s: %w", asset, err)
		}
		if gav, err = fpmath.Add(gav, value); err != nil {
			return 0, err
		}
	}
	return gav, nil
}

// CalcUnclaimedRewards accrues fees since the last settlement. The
// management fee is a straight time proration of gav; the performance fee is
// charged only on the share price gain above the committed high-water mark.
func (f *Fund) CalcUnclaimedRewards(gav int64) (management, performance, unclaimed int64, err error) {
	elapsed := int64(f.now().Sub(f.calcs.Timestamp) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	management, err = fpmath.MulMulDiv(f.cfg.ManagementFeeRate, elapsed, gav,
		fpmath.RateScale, fpmath.SecondsPerYear, fpmath.RoundDown)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("management fee: %w", err)
	}

	supply := f.shares.TotalSupply()
	if supply > 0 && f.cfg.PerformanceFeeRate > 0 {
		netGav, err := fpmath.Sub(gav, management)
		if err != nil {
			return 0, 0, 0, err
		}
		current, err := fpmath.MulDiv(netGav, f.shareBaseUnit, supply, fpmath.RoundDown)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("share price: %w", err)
		}
		if current > f.calcs.SharePrice {
			performance, err = fpmath.MulMulDiv(f.cfg.PerformanceFeeRate, current-f.calcs.SharePrice, supply,
				fpmath.RateScale, f.shareBaseUnit, fpmath.RoundDown)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("performance fee: %w", err)
			}
		}
	}

	unclaimed, err = fpmath.Add(management, performance)
	if err != nil {
		return 0, 0, 0, err
	}
	return management, performance, unclaimed, nil
}

func CalcNav(gav, unclaimedRewards int64) (int64, error) {
	return fpmath.Sub(gav, unclaimedRewards)
}

// CalcValuePerShare returns value * shareBaseUnit / totalSupply.
func (f *Fund) CalcValuePerShare(value int64) (int64, error) {
	supply := f.shares.TotalSupply()
	if supply == 0 {
		return 0, ErrDivisionByZeroGuard
	}
	return fpmath.MulDiv(value, f.shareBaseUnit, supply, fpmath.RoundDown)
}

// PerformCalculations recomputes the full valuation from current holdings
// and the committed high-water mark. Read-only.
func (f *Fund) PerformCalculations() (Calculation, error) {
	gav, err := f.CalcGav()
	if err != nil {
		return Calculation{}, err
	}
	management, performance, unclaimed, err := f.CalcUnclaimedRewards(gav)
	if err != nil {
		return Calculation{}, err
	}
	nav, err := CalcNav(gav, unclaimed)
	if err != nil {
		return Calculation{}, err
	}

	sharePrice, err := f.CalcValuePerShare(nav)
	if errors.Is(err, ErrDivisionByZeroGuard) {
		sharePrice = f.shareBaseUnit
	} else if err != nil {
		return Calculation{}, err
	}

	return Calculation{
		Gav:               gav,
		ManagementReward:  management,
		PerformanceReward: performance,
		UnclaimedRewards:  unclaimed,
		Nav:               nav,
		SharePrice:        sharePrice,
	}, nil
}

// ConvertUnclaimedRewards settles accrued fees by minting
// totalSupply * unclaimed / gav shares to the manager and committing the
// fresh calculations as the new high-water mark.
func (f *Fund) ConvertUnclaimedRewards(caller ledger.Address) (settled state.Calculations, err error) {
	if err := f.begin(); err != nil {
		return state.Calculations{}, err
	}
	start := time.Now()
	defer func() { f.end("convert_unclaimed_rewards", start, err) }()

	if err := f.requireActive(); err != nil {
		return state.Calculations{}, err
	}
	if err := f.requireManager(caller); err != nil {
		return state.Calculations{}, err
	}
	if err := f.requireNoOpenOrders(); err != nil {
		return state.Calculations{}, err
	}

	calc, err := f.PerformCalculations()
	if err != nil {
		return state.Calculations{}, err
	}
	if calc.Gav <= 0 {
		return state.Calculations{}, fmt.Errorf("%w: gav is zero", ErrDivisionByZeroGuard)
	}

	toMint, err := fpmath.MulDiv(f.shares.TotalSupply(), calc.UnclaimedRewards, calc.Gav, fpmath.RoundDown)
	if err != nil {
		return state.Calculations{}, fmt.Errorf("fee shares: %w", err)
	}

	now := f.now()
	if toMint > 0 {
		change, err := f.shares.Mint(f.cfg.Manager, toMint, caller, now)
		if err != nil {
			return state.Calculations{}, err
		}
		f.emitChanges(change)
	}

	f.calcs = state.Calculations{
		Gav:               calc.Gav,
		ManagementReward:  calc.ManagementReward,
		PerformanceReward: calc.PerformanceReward,
		UnclaimedRewards:  calc.UnclaimedRewards,
		Nav:               calc.Nav,
		SharePrice:        calc.SharePrice,
		TotalSupply:       f.shares.TotalSupply(),
		Timestamp:         now,
	}

	f.emit(&event.FeesConverted{
		Sequence:          f.nextSequence(),
		Manager:           f.cfg.Manager,
		Gav:               calc.Gav,
		ManagementReward:  calc.ManagementReward,
		PerformanceReward: calc.PerformanceReward,
		UnclaimedRewards:  calc.UnclaimedRewards,
		Nav:               calc.Nav,
		SharePrice:        calc.SharePrice,
		SharesMinted:      toMint,
		TotalSupply:       f.calcs.TotalSupply,
		Timestamp:         now,
	})

	f.logger.Info().
		Int64("gav", calc.Gav).
		Int64("unclaimed", calc.UnclaimedRewards).
		Int64("shares_minted", toMint).
		Int64("share_price", calc.SharePrice).
		Msg("fees converted")

	if f.metrics != nil {
		f.metrics.FeeSettlements.Inc()
		f.metrics.FeeSharesMinted.Add(float64(toMint))
		f.metrics.Gav.Set(float64(calc.Gav))
		f.metrics.Nav.Set(float64(calc.Nav))
		f.metrics.SharePrice.Set(float64(calc.SharePrice))
	}
	return f.calcs, nil
}
