package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChangeKind represents the primitive that produced a ledger change
type ChangeKind int32

const (
	ChangeMint ChangeKind = iota
	ChangeBurn
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMint:
		return "mint"
	case ChangeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Change is the record emitted by every share ledger mutation.
type Change struct {
	ChangeID  uuid.UUID  // Unique identifier
	Kind      ChangeKind // mint or burn
	Owner     Address    // Account whose balance moved
	Actor     Address    // Caller that triggered the mutation
	Amount    int64      // Shares (ALWAYS positive)
	Timestamp time.Time  // Versioned input timestamp
}

// Validate ensures the change is well-formed.
func (c Change) Validate() error {
	if c.Amount <= 0 {
		return fmt.Errorf("change %s has non-positive amount: %d", c.ChangeID, c.Amount)
	}
	if c.Owner == ZeroAddress {
		return fmt.Errorf("change %s has no owner", c.ChangeID)
	}
	return nil
}
