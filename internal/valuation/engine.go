package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StepKind distinguishes the movement shapes the engine understands.
type StepKind string

const (
	StepReceipt        StepKind = "RECEIPT"
	StepIssue          StepKind = "ISSUE"
	StepReconciliation StepKind = "RECONCILIATION"
)

// Step is one movement in replay order. Receipts carry a positive Qty and
// an incoming Rate, issues a negative Qty. Reconciliations leave Qty unused
// and carry SetQty and/or Rate.
type Step struct {
	Kind   StepKind
	Qty    decimal.Decimal
	Rate   decimal.NullDecimal
	SetQty decimal.NullDecimal
}

// Result holds the derived fields of a step.
type Result struct {
	ActualQty     decimal.Decimal
	QtyAfter      decimal.Decimal
	ValueAfter    decimal.Decimal
	ValuationRate decimal.Decimal
	ValueChange   decimal.Decimal
	// Lots is the FIFO queue after the step; nil for moving average.
	Lots []Lot
}

// Options tunes replay policy.
type Options struct {
	AllowNegativeStock bool
}

// Replay runs steps from an empty position and returns one Result per step.
// It never mutates its input and is deterministic for a given input.
func Replay(steps []Step, method Method, opts Options) ([]Result, error) {
	acc, err := newAccumulator(method)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(steps))
	prevQty, prevValue := decimal.Zero, decimal.Zero
	for i, step := range steps {
		if err := applyStep(acc, step, opts); err != nil {
			return nil, &StepError{Index: i, Err: err}
		}
		qty := acc.quantity()
		if qty.IsNegative() && !opts.AllowNegativeStock {
			return nil, &StepError{Index: i, Err: ErrInsufficientStock}
		}
		value := acc.value()
		res := Result{
			ActualQty:     qty.Sub(prevQty),
			QtyAfter:      qty,
			ValueAfter:    value,
			ValuationRate: acc.valuationRate(),
			ValueChange:   value.Sub(prevValue),
		}
		if q, ok := acc.(*fifoQueue); ok {
			res.Lots = q.snapshot()
		}
		results[i] = res
		prevQty, prevValue = qty, value
	}
	if err := Verify(steps, results); err != nil {
		return nil, err
	}
	return results, nil
}

func applyStep(acc accumulator, step Step, opts Options) error {
	switch step.Kind {
	case StepReceipt:
		if !step.Qty.IsPositive() {
			return fmt.Errorf("%w: receipt quantity must be positive", ErrInvalidStep)
		}
		rate := step.Rate.Decimal
		if rate.IsNegative() {
			return fmt.Errorf("%w: negative incoming rate", ErrInvalidStep)
		}
		acc.receive(step.Qty, rate)
	case StepIssue:
		if !step.Qty.IsNegative() {
			return fmt.Errorf("%w: issue quantity must be negative", ErrInvalidStep)
		}
		out := step.Qty.Neg()
		if !opts.AllowNegativeStock && acc.quantity().LessThan(out) {
			return ErrInsufficientStock
		}
		acc.issue(out)
	case StepReconciliation:
		if !step.SetQty.Valid && !step.Rate.Valid {
			return ErrEmptyReconciliation
		}
		if step.SetQty.Valid && step.SetQty.Decimal.IsNegative() {
			return fmt.Errorf("%w: negative reconciled quantity", ErrInvalidStep)
		}
		if step.Rate.Valid && step.Rate.Decimal.IsNegative() {
			return fmt.Errorf("%w: negative valuation rate", ErrInvalidStep)
		}
		switch {
		case step.SetQty.Valid && step.Rate.Valid:
			acc.set(step.SetQty.Decimal, step.Rate.Decimal)
		case step.SetQty.Valid:
			acc.set(step.SetQty.Decimal, acc.valuationRate())
		default:
			acc.set(acc.quantity(), step.Rate.Decimal)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStep, step.Kind)
	}
	return nil
}

// Verify checks that every result's quantity follows from its predecessor
// and its step, and that the value chain is continuous.
func Verify(steps []Step, results []Result) error {
	if len(steps) != len(results) {
		return fmt.Errorf("%w: %d steps, %d results", ErrInconsistentLedger, len(steps), len(results))
	}
	running, value := decimal.Zero, decimal.Zero
	for i, step := range steps {
		expected := running
		switch step.Kind {
		case StepReceipt, StepIssue:
			expected = running.Add(step.Qty)
		case StepReconciliation:
			if step.SetQty.Valid {
				expected = step.SetQty.Decimal
			}
		}
		res := results[i]
		if !res.QtyAfter.Equal(expected) || !res.ActualQty.Equal(expected.Sub(running)) {
			return &StepError{Index: i, Err: fmt.Errorf("%w: qty after %s, expected %s", ErrInconsistentLedger, res.QtyAfter, expected)}
		}
		if !res.ValueChange.Equal(res.ValueAfter.Sub(value)) {
			return &StepError{Index: i, Err: fmt.Errorf("%w: value change %s does not bridge %s to %s", ErrInconsistentLedger, res.ValueChange, value, res.ValueAfter)}
		}
		running, value = expected, res.ValueAfter
	}
	return nil
}

// StateAt returns the position before steps[index] would apply, i.e. after
// replaying steps[:index]. An index of zero yields the empty position.
func StateAt(steps []Step, index int, method Method, opts Options) (Result, error) {
	if index <= 0 {
		return Result{}, nil
	}
	if index > len(steps) {
		index = len(steps)
	}
	results, err := Replay(steps[:index], method, opts)
	if err != nil {
		return Result{}, err
	}
	return results[index-1], nil
}
