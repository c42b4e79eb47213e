package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"FundLedger/internal/ledger"
	"FundLedger/internal/pricefeed"

	"github.com/shopspring/decimal"
)

// ErrMalformedUpdate is returned for payloads that can never be applied.
// The message is terminated rather than redelivered.
var ErrMalformedUpdate = errors.New("ingestion: malformed price update")

// --- JSON wire format ---
// Field names use snake_case to match upstream producers. Prices are the
// value of one whole unit of the asset in whole units of the base asset,
// written as decimal strings ("2000.125") or JSON numbers.

type priceUpdateJSON struct {
	Source      string                     `json:"source"`
	Sequence    int64                      `json:"sequence"`
	TimestampUs int64                      `json:"timestamp_us"`
	Prices      map[string]decimal.Decimal `json:"prices"`
}

// ParsePriceUpdate converts a raw payload into a feed update. baseDecimals
// is the precision of the fund's base asset; a price finer than that is
// rejected instead of being rounded.
func ParsePriceUpdate(data []byte, baseDecimals int) (pricefeed.Update, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return pricefeed.Update{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if j.Source == "" {
		return pricefeed.Update{}, fmt.Errorf("%w: missing source", ErrMalformedUpdate)
	}
	if j.Sequence <= 0 {
		return pricefeed.Update{}, fmt.Errorf("%w: sequence must be positive", ErrMalformedUpdate)
	}
	if j.TimestampUs <= 0 {
		return pricefeed.Update{}, fmt.Errorf("%w: missing timestamp_us", ErrMalformedUpdate)
	}
	if len(j.Prices) == 0 {
		return pricefeed.Update{}, fmt.Errorf("%w: no prices", ErrMalformedUpdate)
	}

	prices := make(map[ledger.Asset]int64, len(j.Prices))
	for sym, d := range j.Prices {
		units, err := ToUnits(d, baseDecimals)
		if err != nil {
			return pricefeed.Update{}, fmt.Errorf("%w: %s: %v", ErrMalformedUpdate, sym, err)
		}
		prices[ledger.Asset(sym)] = units
	}

	return pricefeed.Update{
		Source:    j.Source,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
		Prices:    prices,
	}, nil
}

var maxUnits = decimal.NewFromInt(math.MaxInt64)

// ToUnits converts a decimal amount of whole units into smallest units.
func ToUnits(d decimal.Decimal, decimals int) (int64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", d)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%s has more than %d decimals", d, decimals)
	}
	if shifted.GreaterThan(maxUnits) {
		return 0, fmt.Errorf("%s overflows", d)
	}
	return shifted.IntPart(), nil
}

// FromUnits renders smallest units as a decimal of whole units.
func FromUnits(units int64, decimals int) decimal.Decimal {
	return decimal.New(units, -int32(decimals))
}
