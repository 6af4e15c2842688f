package valuation

import "github.com/shopspring/decimal"

type movingAverage struct {
	qty  decimal.Decimal
	rate decimal.Decimal
}

// receive blends the receipt into the running rate. A negative position is
// weighted by its absolute quantity so the shortfall is settled at the rate
// it was issued at.
func (m *movingAverage) receive(qty, rate decimal.Decimal) {
	base := m.qty.Abs()
	m.rate = divRate(base.Mul(m.rate).Add(qty.Mul(rate)), base.Add(qty))
	m.qty = m.qty.Add(qty)
}

func (m *movingAverage) issue(qty decimal.Decimal) {
	m.qty = m.qty.Sub(qty)
}

func (m *movingAverage) set(qty, rate decimal.Decimal) {
	m.qty = qty
	m.rate = rate
}

func (m *movingAverage) quantity() decimal.Decimal {
	return m.qty
}

func (m *movingAverage) value() decimal.Decimal {
	return roundValue(m.qty.Mul(m.rate))
}

func (m *movingAverage) valuationRate() decimal.Decimal {
	return m.rate
}
