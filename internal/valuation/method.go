// Package valuation replays an ordered list of stock movements for one
// item/warehouse pair and derives the on-hand quantity, stock value and
// valuation rate after every movement.
package valuation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Method enumerates supported costing methods.
type Method string

const (
	// MethodFIFO consumes the oldest receipt lots first.
	MethodFIFO Method = "FIFO"
	// MethodMovingAverage blends every receipt into one running rate.
	MethodMovingAverage Method = "MOVING_AVERAGE"
)

// ErrUnknownMethod indicates an unsupported costing method.
var ErrUnknownMethod = errors.New("valuation: unknown costing method")

// ParseMethod normalises user or database input into a Method.
func ParseMethod(raw string) (Method, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch normalized {
	case string(MethodFIFO):
		return MethodFIFO, nil
	case string(MethodMovingAverage), "AVERAGE", "AVG":
		return MethodMovingAverage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, raw)
}

func (m Method) String() string {
	return string(m)
}

// Rounding applied to derived figures. Quantities are kept exact.
const (
	RatePlaces  int32 = 9
	ValuePlaces int32 = 2
)

func roundValue(d decimal.Decimal) decimal.Decimal {
	return d.Round(ValuePlaces)
}

func divRate(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, RatePlaces)
}

// accumulator is the transient costing state rebuilt on every replay.
type accumulator interface {
	receive(qty, rate decimal.Decimal)
	issue(qty decimal.Decimal)
	set(qty, rate decimal.Decimal)
	quantity() decimal.Decimal
	value() decimal.Decimal
	valuationRate() decimal.Decimal
}

func newAccumulator(method Method) (accumulator, error) {
	switch method {
	case MethodFIFO:
		return &fifoQueue{}, nil
	case MethodMovingAverage:
		return &movingAverage{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(method))
}
