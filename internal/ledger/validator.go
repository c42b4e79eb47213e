package ledger

import (
	"fmt"
)

// InvariantValidator checks share ledger invariants
type InvariantValidator struct {
	shares *ShareLedger
}

func NewInvariantValidator(shares *ShareLedger) *InvariantValidator {
	return &InvariantValidator{
		shares: shares,
	}
}

// ValidateConservation verifies sum(balances) == totalSupply and that no
// balance is negative.
func (v *InvariantValidator) ValidateConservation() error {
	var sum int64
	for owner, balance := range v.shares.balances {
		if balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", owner.AccountPath(), balance)
		}
		sum += balance
	}

	if sum != v.shares.totalSupply {
		return fmt.Errorf("conservation violated: sum(balances)=%d totalSupply=%d", sum, v.shares.totalSupply)
	}

	return nil
}
