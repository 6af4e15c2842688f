package valuation

import "github.com/shopspring/decimal"

// Lot is an unconsumed quantity/rate pair in a FIFO queue. A lot with a
// negative quantity is a debt lot: stock issued beyond what was on hand.
type Lot struct {
	Qty  decimal.Decimal
	Rate decimal.Decimal
}

type fifoQueue struct {
	lots []Lot
}

func (q *fifoQueue) receive(qty, rate decimal.Decimal) {
	if n := len(q.lots); n > 0 && !q.lots[n-1].Qty.IsPositive() {
		// Receipts settle an outstanding debt lot before forming a new one.
		tail := &q.lots[n-1]
		tail.Qty = tail.Qty.Add(qty)
		tail.Rate = rate
		q.compact()
		return
	}
	q.lots = append(q.lots, Lot{Qty: qty, Rate: rate})
}

func (q *fifoQueue) issue(qty decimal.Decimal) {
	remaining := qty
	for remaining.IsPositive() {
		if len(q.lots) == 0 {
			// Shortfall beyond depletion is carried at zero cost.
			q.lots = append(q.lots, Lot{Qty: decimal.Zero, Rate: decimal.Zero})
		}
		head := &q.lots[0]
		if head.Qty.IsPositive() && head.Qty.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(head.Qty)
			q.lots = q.lots[1:]
			continue
		}
		head.Qty = head.Qty.Sub(remaining)
		remaining = decimal.Zero
	}
	q.compact()
}

func (q *fifoQueue) set(qty, rate decimal.Decimal) {
	q.lots = nil
	if !qty.IsZero() {
		q.lots = []Lot{{Qty: qty, Rate: rate}}
	}
}

func (q *fifoQueue) compact() {
	kept := q.lots[:0]
	for _, lot := range q.lots {
		if lot.Qty.IsZero() {
			continue
		}
		kept = append(kept, lot)
	}
	q.lots = kept
}

func (q *fifoQueue) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range q.lots {
		total = total.Add(lot.Qty)
	}
	return total
}

func (q *fifoQueue) value() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range q.lots {
		total = total.Add(lot.Qty.Mul(lot.Rate))
	}
	return roundValue(total)
}

func (q *fifoQueue) valuationRate() decimal.Decimal {
	return divRate(q.value(), q.quantity()).Abs()
}

// snapshot copies the queue so callers cannot alias replay state.
func (q *fifoQueue) snapshot() []Lot {
	if len(q.lots) == 0 {
		return nil
	}
	out := make([]Lot, len(q.lots))
	copy(out, q.lots)
	return out
}
