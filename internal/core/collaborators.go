package core

import (
	"time"

	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
)

// Oracle supplies prices and the staleness policy. Price is the value of one
// whole unit (10^decimals smallest units) of asset, in smallest units of the
// fund's base asset.
type Oracle interface {
	CurrentUpdateID() int64
	LastUpdateTimestamp() time.Time
	UpdateInterval() time.Duration
	Price(asset ledger.Asset) (int64, bool)
	Decimals(asset ledger.Asset) (int, bool)
	RegisteredAssets() []ledger.Asset
}

// OrderTerms is what the venue reports for an order handle. SellQty and
// BuyQty are the quantities still outstanding.
type OrderTerms struct {
	Maker     ledger.Address
	SellAsset ledger.Asset
	BuyAsset  ledger.Asset
	SellQty   int64
	BuyQty    int64
	Active    bool
}

// Venue executes trades against an external order book. Implementations
// are chosen at construction time.
type Venue interface {
	// Address is the spender the fund approves before placing or taking.
	Address() ledger.Address
	Place(maker ledger.Address, sell, buy ledger.Asset, sellQty, buyQty int64) (string, error)
	Take(handle string, qty int64, taker ledger.Address) error
	Cancel(handle string) error
	Lookup(handle string) (OrderTerms, error)
}

// TakeCost is what a taker pays, in terms.BuyAsset, to receive qty of
// terms.SellAsset. Rounds up so partial takes never shortchange the maker.
func TakeCost(terms OrderTerms, qty int64) (int64, error) {
	if terms.SellQty <= 0 {
		return 0, ErrDivisionByZeroGuard
	}
	return fpmath.MulDiv(qty, terms.BuyQty, terms.SellQty, fpmath.RoundUp)
}

// AssetLedger is the fungible-unit primitive for externally held assets.
type AssetLedger interface {
	BalanceOf(asset ledger.Asset, owner ledger.Address) int64
	Allowance(asset ledger.Asset, owner, spender ledger.Address) int64
	Transfer(asset ledger.Asset, from, to ledger.Address, amount int64) error
	TransferFrom(asset ledger.Asset, spender, from, to ledger.Address, amount int64) error
	Approve(asset ledger.Asset, owner, spender ledger.Address, amount int64) error
}

type SubscribePermission interface {
	ApproveSubscribe(owner ledger.Address, shares, value int64) bool
}

type RedeemPermission interface {
	ApproveRedeem(owner ledger.Address, shares, value int64) bool
}

// RiskPermission compares an order's implied price with the oracle
// reference price. Both are buy-asset units per whole sell-asset unit.
type RiskPermission interface {
	ApproveMake(price, qty, refPrice int64) bool
	ApproveTake(price, qty, refPrice int64) bool
}

// Clock is the fund's only source of time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
