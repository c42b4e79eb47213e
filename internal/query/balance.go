package query

import (
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"

	"github.com/shopspring/decimal"
)

// BalanceResponse is an investor's share position.
type BalanceResponse struct {
	Owner  string          `json:"owner"`
	Shares decimal.Decimal `json:"shares"`

	// Value at the committed share price, in the base asset
	Value decimal.Decimal `json:"value"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

func amount(units int64, decimals int) decimal.Decimal {
	return decimal.New(units, -int32(decimals))
}

func baseDecimals(f *core.Fund) int {
	d, _ := f.Decimals(f.BaseAsset())
	return d
}

func assetDecimals(f *core.Fund, a ledger.Asset) int {
	d, _ := f.Decimals(a)
	return d
}

func shareBalance(f *core.Fund, owner ledger.Address) (*BalanceResponse, error) {
	dec := baseDecimals(f)
	shares := f.SharesOf(owner)
	value, err := fpmath.MulDiv(shares, f.Calculations().SharePrice, f.ShareBaseUnit(), fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		Owner:        owner.String(),
		Shares:       amount(shares, dec),
		Value:        amount(value, dec),
		AsOfSequence: f.Sequence(),
	}, nil
}
