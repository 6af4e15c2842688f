package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceAggregator keeps the per-key snapshot equal to the derived state of
// the last movement in ledger order.
type BalanceAggregator struct {
	now func() time.Time
}

// Snapshot computes the balance of key from its ordered movements.
func (a BalanceAggregator) Snapshot(key Key, movements []Movement) Balance {
	b := Balance{
		WarehouseID:   key.WarehouseID,
		ProductID:     key.ProductID,
		Qty:           decimal.Zero,
		Value:         decimal.Zero,
		ValuationRate: decimal.Zero,
		UpdatedAt:     a.clock(),
	}
	if len(movements) == 0 {
		return b
	}
	last := movements[len(movements)-1]
	b.Qty = last.QtyAfter
	b.Value = last.ValueAfter
	b.ValuationRate = last.ValuationRate
	b.LastMovementID = last.ID
	return b
}

// Refresh stores the snapshot of key, dropping the row once no movements remain.
func (a BalanceAggregator) Refresh(ctx context.Context, tx TxRepository, key Key, movements []Movement) (Balance, error) {
	b := a.Snapshot(key, movements)
	if len(movements) == 0 {
		return b, tx.DeleteBalance(ctx, key)
	}
	return b, tx.UpsertBalance(ctx, b)
}

func (a BalanceAggregator) clock() time.Time {
	if a.now == nil {
		return time.Now().UTC()
	}
	return a.now()
}
