// Package asset is an in-process fungible-unit ledger for the assets a fund
// holds: balances, allowances, transfer and transferFrom.
package asset

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
)

var (
	ErrInsufficientFunds     = fmt.Errorf("asset: %w", ledger.ErrInsufficientBalance)
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
	ErrNegativeAmount        = errors.New("asset: negative amount")
)

type allowanceKey struct {
	asset   ledger.Asset
	owner   ledger.Address
	spender ledger.Address
}

// Vault is safe for concurrent use.
type Vault struct {
	mu         sync.RWMutex
	balances   map[ledger.Asset]map[ledger.Address]int64
	allowances map[allowanceKey]int64
}

func NewVault() *Vault {
	return &Vault{
		balances:   make(map[ledger.Asset]map[ledger.Address]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

// Credit creates amount of asset out of thin air for owner (faucet, tests).
func (v *Vault) Credit(asset ledger.Asset, owner ledger.Address, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := fpmath.Add(v.balanceLocked(asset, owner), amount)
	if err != nil {
		return err
	}
	v.setLocked(asset, owner, next)
	return nil
}

func (v *Vault) BalanceOf(asset ledger.Asset, owner ledger.Address) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balanceLocked(asset, owner)
}

func (v *Vault) Allowance(asset ledger.Asset, owner, spender ledger.Address) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowances[allowanceKey{asset, owner, spender}]
}

// Approve sets (not adds) the allowance of spender over owner's asset.
func (v *Vault) Approve(asset ledger.Asset, owner, spender ledger.Address, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := allowanceKey{asset, owner, spender}
	if amount == 0 {
		delete(v.allowances, key)
		return nil
	}
	v.allowances[key] = amount
	return nil
}

func (v *Vault) Transfer(asset ledger.Asset, from, to ledger.Address, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.moveLocked(asset, from, to, amount)
}

// TransferFrom moves owner funds on behalf of spender, consuming allowance.
func (v *Vault) TransferFrom(asset ledger.Asset, spender, from, to ledger.Address, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := allowanceKey{asset, from, spender}
	allowed := v.allowances[key]
	if allowed < amount {
		return fmt.Errorf("%w: %s may spend %d of %s's %s, needs %d", ErrInsufficientAllowance, spender, allowed, from, asset, amount)
	}
	if err := v.moveLocked(asset, from, to, amount); err != nil {
		return err
	}
	if allowed == amount {
		delete(v.allowances, key)
	} else {
		v.allowances[key] = allowed - amount
	}
	return nil
}

// Holders lists owners with a non-zero balance of asset, sorted.
func (v *Vault) Holders(asset ledger.Asset) []ledger.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]ledger.Address, 0, len(v.balances[asset]))
	for owner := range v.balances[asset] {
		out = append(out, owner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (v *Vault) moveLocked(asset ledger.Asset, from, to ledger.Address, amount int64) error {
	if amount == 0 || from == to {
		return nil
	}
	have := v.balanceLocked(asset, from)
	if have < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, from, have, asset, amount)
	}
	credited, err := fpmath.Add(v.balanceLocked(asset, to), amount)
	if err != nil {
		return err
	}
	v.setLocked(asset, from, have-amount)
	v.setLocked(asset, to, credited)
	return nil
}

func (v *Vault) balanceLocked(asset ledger.Asset, owner ledger.Address) int64 {
	return v.balances[asset][owner]
}

func (v *Vault) setLocked(asset ledger.Asset, owner ledger.Address, amount int64) {
	m := v.balances[asset]
	if m == nil {
		m = make(map[ledger.Address]int64)
		v.balances[asset] = m
	}
	if amount == 0 {
		delete(m, owner)
		return
	}
	m[owner] = amount
}

// VaultState is a serializable copy of every balance and allowance.
type VaultState struct {
	Balances   map[ledger.Asset]map[ledger.Address]int64 `json:"balances"`
	Allowances []AllowanceState                          `json:"allowances"`
}

type AllowanceState struct {
	Asset   ledger.Asset   `json:"asset"`
	Owner   ledger.Address `json:"owner"`
	Spender ledger.Address `json:"spender"`
	Amount  int64          `json:"amount"`
}

func (v *Vault) Snapshot() *VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	st := &VaultState{Balances: make(map[ledger.Asset]map[ledger.Address]int64, len(v.balances))}
	for a, owners := range v.balances {
		m := make(map[ledger.Address]int64, len(owners))
		for o, amt := range owners {
			m[o] = amt
		}
		st.Balances[a] = m
	}
	for k, amt := range v.allowances {
		st.Allowances = append(st.Allowances, AllowanceState{Asset: k.asset, Owner: k.owner, Spender: k.spender, Amount: amt})
	}
	sort.Slice(st.Allowances, func(i, j int) bool {
		a, b := st.Allowances[i], st.Allowances[j]
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Spender < b.Spender
	})
	return st
}

// Restore replaces the vault contents. Nothing changes on error.
func (v *Vault) Restore(st *VaultState) error {
	balances := make(map[ledger.Asset]map[ledger.Address]int64, len(st.Balances))
	for a, owners := range st.Balances {
		m := make(map[ledger.Address]int64, len(owners))
		for o, amt := range owners {
			if amt < 0 {
				return fmt.Errorf("%w: %s balance of %s", ErrNegativeAmount, a, o)
			}
			if amt > 0 {
				m[o] = amt
			}
		}
		balances[a] = m
	}
	allowances := make(map[allowanceKey]int64, len(st.Allowances))
	for _, al := range st.Allowances {
		if al.Amount < 0 {
			return fmt.Errorf("%w: allowance of %s", ErrNegativeAmount, al.Spender)
		}
		if al.Amount > 0 {
			allowances[allowanceKey{al.Asset, al.Owner, al.Spender}] = al.Amount
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = balances
	v.allowances = allowances
	return nil
}
