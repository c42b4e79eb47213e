package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/query"
	"FundLedger/internal/sequencer"
	"FundLedger/internal/venue"
)

// inputError is a malformed request: bad JSON, a missing header, an amount
// with more precision than the asset has.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func badInput(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an error to an HTTP status and a short code for the
// response body and the error metric.
func statusFor(err error) (int, string) {
	var in *inputError
	var pe *core.PreconditionError
	switch {
	case errors.As(err, &in), errors.Is(err, venue.ErrInvalidOrder), errors.Is(err, asset.ErrNegativeAmount):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, ingestion.ErrMalformedUpdate),
		errors.Is(err, pricefeed.ErrUnknownAsset),
		errors.Is(err, pricefeed.ErrInvalidPrice):
		return http.StatusBadRequest, "invalid_price_update"
	case errors.Is(err, query.ErrNotFound), errors.Is(err, venue.ErrUnknownOrder):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, sequencer.ErrDuplicateCommand):
		return http.StatusConflict, "duplicate_command"
	case errors.As(err, &pe):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, core.ErrInvalidRequestState), errors.Is(err, venue.ErrOrderInactive):
		return http.StatusConflict, "invalid_request_state"
	case errors.Is(err, pricefeed.ErrStaleUpdate):
		return http.StatusConflict, "stale_update"
	case errors.Is(err, core.ErrInsufficientBalance), errors.Is(err, asset.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, core.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "price_unavailable"
	case errors.Is(err, sequencer.ErrStopped):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	case errors.Is(err, core.ErrOverflow), errors.Is(err, core.ErrDivisionByZeroGuard):
		return http.StatusUnprocessableEntity, "arithmetic"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
