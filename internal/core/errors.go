package core

import (
	"errors"
	"fmt"

	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
)

var (
	// ErrPreconditionFailed is the parent of every *PreconditionError.
	ErrPreconditionFailed = errors.New("precondition failed")

	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrOverflow            = fpmath.ErrOverflow

	// ErrDivisionByZeroGuard covers zero-supply and zero-GAV paths.
	ErrDivisionByZeroGuard = errors.New("division by zero guard")

	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInvalidRequestState = errors.New("invalid request state")
)

// PreconditionError names the gating condition that was false.
type PreconditionError struct {
	Condition string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Condition)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

func precondition(condition string) error {
	return &PreconditionError{Condition: condition}
}

// reason maps an error onto a short metrics label
func reason(err error) string {
	var pe *PreconditionError
	switch {
	case errors.As(err, &pe):
		return "precondition"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDivisionByZeroGuard):
		return "division_by_zero"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrInvalidRequestState):
		return "invalid_request_state"
	default:
		return "external"
	}
}
