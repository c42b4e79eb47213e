// Package venue holds the exchange adapters a fund can trade through. The
// adapter is picked by kind when the fund is wired up.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
)

type Kind string

const KindSimple Kind = "simple"

// Transferer is the part of the asset ledger a venue needs.
type Transferer interface {
	Transfer(asset ledger.Asset, from, to ledger.Address, amount int64) error
	TransferFrom(asset ledger.Asset, spender, from, to ledger.Address, amount int64) error
}

type Factory func(assets Transferer) core.Venue

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Factory{
		KindSimple: func(assets Transferer) core.Venue { return NewSimpleMarket(assets) },
	}
)

// Register adds or replaces an adapter kind.
func Register(kind Kind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// New builds the adapter registered under kind.
func New(kind Kind, assets Transferer) (core.Venue, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("venue: unknown kind %q", kind)
	}
	return factory(assets), nil
}

// Kinds lists registered adapter kinds, sorted.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
