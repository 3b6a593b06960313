package domain

import (
	"errors"
	"fmt"
)

// Precondition failures: the command is well formed but the order, user or
// dispute is not in a state that allows it. Nothing is mutated.
var (
	ErrNotFound                = errors.New("not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrRateLimited             = errors.New("rate limited")
	ErrCannotTakeOwnOrder      = errors.New("cannot take own order")
	ErrTypeMismatch            = errors.New("order type mismatch")
	ErrAlreadyTaken            = errors.New("order already taken")
	ErrNotParticipant          = errors.New("user is not a party to this order")
	ErrIllegalTransition       = errors.New("illegal order transition")
	ErrStaleOrder              = errors.New("order changed concurrently")
	ErrPreconditionFailed      = errors.New("precondition failed")
	ErrBlockedByPendingRelease = errors.New("seller has an order waiting for release")
	ErrUserBanned              = errors.New("user is banned")
	ErrNotSolver               = errors.New("user is not a dispute solver")
	ErrDisputeTaken            = errors.New("dispute already has a solver")
	ErrPayoutInProgress        = errors.New("a payout for this order is still pending")
	ErrDuplicateInvoice        = errors.New("hold invoice already linked to another order")
)

// Validation failures.
var (
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidInvoice  = errors.New("invalid invoice")
	ErrRateUnavailable = errors.New("fiat rate unavailable")
)

// Gateway terminal conditions.
var (
	ErrInvoiceExpired    = errors.New("invoice expired")
	ErrAttemptsExhausted = errors.New("payment attempts exhausted")
)

// ErrAccountingInvariant marks a referenced community or user that is missing
// while money is being accounted for. Jobs skip the item and log it.
var ErrAccountingInvariant = errors.New("accounting invariant violated")

// ValidationError wraps one of the validation sentinels with the offending
// field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// GatewayError is returned by the Lightning gateway. Retriable errors are
// transient (node unreachable, timeouts) and are retried on the next cycle.
type GatewayError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is a transient gateway failure.
func IsRetriable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retriable
	}
	return false
}
