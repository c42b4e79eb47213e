package state

import "FundLedger/internal/ledger"

// Holdings is the per-asset baseline recorded by the custody guard
// immediately after the last reconciliation.
type Holdings map[ledger.Asset]int64

func (h Holdings) Get(asset ledger.Asset) int64 {
	return h[asset]
}

func (h Holdings) Set(asset ledger.Asset, amount int64) {
	h[asset] = amount
}

// Clone returns an independent copy
func (h Holdings) Clone() Holdings {
	out := make(Holdings, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
