// Package permission holds the policies a fund consults before accepting
// subscriptions, redemptions and orders.
package permission

import (
	"sync"

	"FundLedger/internal/ledger"
)

// Open approves every subscription and redemption.
type Open struct{}

func (Open) ApproveSubscribe(ledger.Address, int64, int64) bool { return true }
func (Open) ApproveRedeem(ledger.Address, int64, int64) bool    { return true }

// Whitelist approves only listed investors. Safe for concurrent use.
type Whitelist struct {
	mu      sync.RWMutex
	allowed map[ledger.Address]struct{}
}

func NewWhitelist(investors ...ledger.Address) *Whitelist {
	w := &Whitelist{allowed: make(map[ledger.Address]struct{}, len(investors))}
	for _, a := range investors {
		w.allowed[a] = struct{}{}
	}
	return w
}

func (w *Whitelist) Add(investor ledger.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.allowed[investor] = struct{}{}
}

func (w *Whitelist) Remove(investor ledger.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.allowed, investor)
}

func (w *Whitelist) Contains(investor ledger.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.allowed[investor]
	return ok
}

func (w *Whitelist) ApproveSubscribe(owner ledger.Address, _, _ int64) bool {
	return w.Contains(owner)
}

func (w *Whitelist) ApproveRedeem(owner ledger.Address, _, _ int64) bool {
	return w.Contains(owner)
}
