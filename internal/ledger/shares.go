package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	fpmath "FundLedger/internal/math"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientBalance is returned when a burn exceeds the owner's balance.
	ErrInsufficientBalance = errors.New("insufficient share balance")

	// ErrInvalidAmount is returned for non-positive mint/burn amounts.
	ErrInvalidAmount = errors.New("share amount must be positive")
)

// ShareLedger maintains fund share balances and the total supply.
// Not thread-safe: only accessed from the fund's serialized entry points.
type ShareLedger struct {
	totalSupply int64
	balances    map[Address]int64
}

func NewShareLedger() *ShareLedger {
	return &ShareLedger{
		balances: make(map[Address]int64),
	}
}

// TotalSupply returns the number of shares in existence
func (sl *ShareLedger) TotalSupply() int64 {
	return sl.totalSupply
}

// BalanceOf returns the share balance of owner
func (sl *ShareLedger) BalanceOf(owner Address) int64 {
	return sl.balances[owner]
}

// Mint creates amount shares for owner.
func (sl *ShareLedger) Mint(owner Address, amount int64, actor Address, at time.Time) (Change, error) {
	if err := sl.checkMint(owner, amount); err != nil {
		return Change{}, err
	}

	sl.balances[owner] += amount
	sl.totalSupply += amount

	return newChange(ChangeMint, owner, actor, amount, at), nil
}

// Burn destroys amount shares held by owner.
func (sl *ShareLedger) Burn(owner Address, amount int64, actor Address, at time.Time) (Change, error) {
	if err := sl.checkBurn(owner, amount); err != nil {
		return Change{}, err
	}

	sl.balances[owner] -= amount
	if sl.balances[owner] == 0 {
		delete(sl.balances, owner)
	}
	sl.totalSupply -= amount

	return newChange(ChangeBurn, owner, actor, amount, at), nil
}

// TransferInternal moves shares between two accounts as burn(from) followed
// by mint(to). The supply deltas cancel, so totalSupply is unchanged.
// Both legs are pre-checked so that a failure leaves balances untouched.
func (sl *ShareLedger) TransferInternal(from, to Address, amount int64, actor Address, at time.Time) ([]Change, error) {
	if err := sl.checkBurn(from, amount); err != nil {
		return nil, fmt.Errorf("transfer burn leg: %w", err)
	}
	if to == ZeroAddress {
		return nil, fmt.Errorf("transfer mint leg: %w", ErrInvalidAmount)
	}
	if from != to {
		if _, err := fpmath.Add(sl.balances[to], amount); err != nil {
			return nil, fmt.Errorf("transfer mint leg: %w", err)
		}
	}

	burn, err := sl.Burn(from, amount, actor, at)
	if err != nil {
		return nil, err
	}
	mint, err := sl.Mint(to, amount, actor, at)
	if err != nil {
		// Unreachable after the pre-checks; restore the burned leg regardless.
		sl.balances[from] += amount
		sl.totalSupply += amount
		return nil, err
	}

	return []Change{burn, mint}, nil
}

func (sl *ShareLedger) checkMint(owner Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if owner == ZeroAddress {
		return fmt.Errorf("mint to zero address: %w", ErrInvalidAmount)
	}
	if _, err := fpmath.Add(sl.totalSupply, amount); err != nil {
		return err
	}
	if _, err := fpmath.Add(sl.balances[owner], amount); err != nil {
		return err
	}
	return nil
}

func (sl *ShareLedger) checkBurn(owner Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if have := sl.balances[owner]; have < amount {
		return fmt.Errorf("%w: owner=%s have=%d need=%d", ErrInsufficientBalance, owner, have, amount)
	}
	return nil
}

// ValidateSufficient checks owner holds at least amount shares.
func (sl *ShareLedger) ValidateSufficient(owner Address, amount int64) error {
	if have := sl.balances[owner]; have < amount {
		return fmt.Errorf("%w: owner=%s have=%d need=%d", ErrInsufficientBalance, owner, have, amount)
	}
	return nil
}

// Holders returns all non-zero holders in deterministic order.
func (sl *ShareLedger) Holders() []Address {
	owners := make([]Address, 0, len(sl.balances))
	for owner := range sl.balances {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners
}

// Snapshot returns a copy of all balances (for state hashing and persistence)
func (sl *ShareLedger) Snapshot() map[Address]int64 {
	snapshot := make(map[Address]int64, len(sl.balances))
	for k, v := range sl.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces the ledger contents with balances; totalSupply is
// recomputed from the balances so the conservation invariant holds.
func (sl *ShareLedger) Restore(balances map[Address]int64) error {
	restored := make(map[Address]int64, len(balances))
	var supply int64
	for owner, bal := range balances {
		if bal < 0 {
			return fmt.Errorf("restore: negative balance for %s: %d", owner, bal)
		}
		if bal == 0 {
			continue
		}
		var err error
		if supply, err = fpmath.Add(supply, bal); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		restored[owner] = bal
	}
	sl.balances = restored
	sl.totalSupply = supply
	return nil
}

func newChange(kind ChangeKind, owner, actor Address, amount int64, at time.Time) Change {
	return Change{
		ChangeID:  uuid.New(),
		Kind:      kind,
		Owner:     owner,
		Actor:     actor,
		Amount:    amount,
		Timestamp: at,
	}
}
