package valuation

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStock indicates an issue would drive on-hand quantity
	// below zero while negative stock is disallowed.
	ErrInsufficientStock = errors.New("valuation: insufficient stock")
	// ErrEmptyReconciliation indicates a reconciliation with neither quantity nor rate.
	ErrEmptyReconciliation = errors.New("valuation: reconciliation requires quantity or rate")
	// ErrInconsistentLedger indicates the replayed quantity chain does not add up.
	ErrInconsistentLedger = errors.New("valuation: inconsistent ledger")
	// ErrInvalidStep indicates a malformed movement (wrong sign, negative rate).
	ErrInvalidStep = errors.New("valuation: invalid movement")
)

// StepError reports which movement of a replay failed.
type StepError struct {
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("valuation: step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
