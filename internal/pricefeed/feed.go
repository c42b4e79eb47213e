// Package pricefeed is an in-process oracle: registered assets with their
// decimals, the latest price of each, and a monotonically increasing update
// counter that request execution uses as its staleness gate.
package pricefeed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
)

var (
	ErrStaleUpdate   = errors.New("pricefeed: stale update")
	ErrUnknownAsset  = errors.New("pricefeed: unknown asset")
	ErrInvalidPrice  = errors.New("pricefeed: invalid price")
	ErrAlreadyExists = errors.New("pricefeed: asset already registered")
)

// Update is one batch of prices from a publisher. Prices are the value of
// one whole unit of the asset in smallest units of the base asset.
type Update struct {
	Source    string
	Sequence  int64
	Timestamp time.Time
	Prices    map[ledger.Asset]int64
}

// Feed is safe for concurrent use.
type Feed struct {
	mu         sync.RWMutex
	interval   time.Duration
	updateID   int64
	lastUpdate time.Time
	assets     []ledger.Asset
	decimals   map[ledger.Asset]int
	prices     map[ledger.Asset]int64
	sequences  *SequenceValidator
}

// New creates a feed whose staleness interval is interval.
func New(interval time.Duration) *Feed {
	return &Feed{
		interval:  interval,
		decimals:  make(map[ledger.Asset]int),
		prices:    make(map[ledger.Asset]int64),
		sequences: NewSequenceValidator(),
	}
}

// Register adds an asset. Registration order is the order RegisteredAssets
// reports.
func (f *Feed) Register(asset ledger.Asset, decimals int) error {
	if decimals < 0 || decimals > fpmath.MaxDecimals {
		return fmt.Errorf("pricefeed: decimals %d outside [0,%d]", decimals, fpmath.MaxDecimals)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.decimals[asset]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, asset)
	}
	f.decimals[asset] = decimals
	f.assets = append(f.assets, asset)
	return nil
}

// Apply validates and applies an update, advancing the update counter.
// The whole update is rejected if any price is invalid.
func (f *Feed) Apply(u Update) (gap bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(u.Prices) == 0 {
		return false, fmt.Errorf("%w: empty update", ErrInvalidPrice)
	}
	for asset, price := range u.Prices {
		if _, ok := f.decimals[asset]; !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
		}
		if price < 0 {
			return false, fmt.Errorf("%w: %s=%d", ErrInvalidPrice, asset, price)
		}
	}
	if u.Timestamp.Before(f.lastUpdate) {
		return false, fmt.Errorf("%w: timestamp %s before %s", ErrStaleUpdate, u.Timestamp, f.lastUpdate)
	}
	if gap, err = f.sequences.Validate(u.Source, u.Sequence); err != nil {
		return false, err
	}

	for asset, price := range u.Prices {
		f.prices[asset] = price
	}
	f.updateID++
	f.lastUpdate = u.Timestamp
	return gap, nil
}

func (f *Feed) CurrentUpdateID() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updateID
}

func (f *Feed) LastUpdateTimestamp() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

func (f *Feed) UpdateInterval() time.Duration {
	return f.interval
}

// Price returns false until the asset has received a price.
func (f *Feed) Price(asset ledger.Asset) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[asset]
	return p, ok
}

func (f *Feed) Decimals(asset ledger.Asset) (int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.decimals[asset]
	return d, ok
}

func (f *Feed) RegisteredAssets() []ledger.Asset {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ledger.Asset, len(f.assets))
	copy(out, f.assets)
	return out
}

// Gaps returns how many sequence gaps a source has produced.
func (f *Feed) Gaps(source string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sequences.Gaps(source)
}
