package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationPostedEvent represents a committed stock count ready for ledger posting.
type ReconciliationPostedEvent struct {
	ReconciliationID int64
	Code             string
	WarehouseID      int64
	ProductID        int64
	PostedAt         time.Time
	ValueChange      decimal.Decimal
	ActorID          int64
}

// ReconciliationRevaluedEvent carries the change of a posted reconciliation's
// value change after an earlier movement reposted it.
type ReconciliationRevaluedEvent struct {
	ReconciliationID int64
	Code             string
	WarehouseID      int64
	ProductID        int64
	PostedAt         time.Time
	Delta            decimal.Decimal
	ActorID          int64
}

// ReconciliationCancelledEvent asks the ledger to reverse a reconciliation's
// journal together with its repost adjustments.
type ReconciliationCancelledEvent struct {
	ReconciliationID     int64
	Code                 string
	WarehouseID          int64
	ProductID            int64
	JournalID            int64
	AdjustmentJournalIDs []int64
	CancelledAt          time.Time
	ActorID              int64
}

// IntegrationHandler is implemented by modules that post inventory value
// changes to the general ledger. Every call returns the journal id written,
// or zero when nothing was posted.
type IntegrationHandler interface {
	HandleReconciliationPosted(ctx context.Context, evt ReconciliationPostedEvent) (int64, error)
	HandleReconciliationRevalued(ctx context.Context, evt ReconciliationRevaluedEvent) (int64, error)
	HandleReconciliationCancelled(ctx context.Context, evt ReconciliationCancelledEvent) (int64, error)
}
