package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// MovementKind enumerates ledger movement shapes.
type MovementKind string

const (
	// MovementReceipt adds stock at an incoming rate.
	MovementReceipt MovementKind = "RECEIPT"
	// MovementIssue removes stock at the prevailing valuation.
	MovementIssue MovementKind = "ISSUE"
	// MovementReconciliation asserts a counted quantity and/or rate.
	MovementReconciliation MovementKind = "RECONCILIATION"
)

func (k MovementKind) step() valuation.StepKind {
	switch k {
	case MovementReceipt:
		return valuation.StepReceipt
	case MovementIssue:
		return valuation.StepIssue
	case MovementReconciliation:
		return valuation.StepReconciliation
	}
	return valuation.StepKind(k)
}

// Key identifies a stock position.
type Key struct {
	WarehouseID int64 `json:"warehouse_id"`
	ProductID   int64 `json:"product_id"`
}

// Valid reports whether both identifiers are set.
func (k Key) Valid() bool {
	return k.WarehouseID > 0 && k.ProductID > 0
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.WarehouseID, k.ProductID)
}

// Movement is one ledger row. The fields below ActualQty are derived by
// replaying the position and are rewritten whenever an earlier row changes.
type Movement struct {
	ID               int64               `json:"id"`
	Code             string              `json:"code"`
	Kind             MovementKind        `json:"kind"`
	WarehouseID      int64               `json:"warehouse_id"`
	ProductID        int64               `json:"product_id"`
	PostedAt         time.Time           `json:"posted_at"`
	Seq              int64               `json:"seq"`
	Qty              decimal.Decimal     `json:"qty"`
	Rate             decimal.NullDecimal `json:"rate"`
	SetQty           decimal.NullDecimal `json:"set_qty"`
	ReconciliationID int64               `json:"reconciliation_id,omitempty"`
	Note             string              `json:"note,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`

	ActualQty     decimal.Decimal `json:"actual_qty"`
	QtyAfter      decimal.Decimal `json:"qty_after"`
	ValueAfter    decimal.Decimal `json:"value_after"`
	ValuationRate decimal.Decimal `json:"valuation_rate"`
	ValueChange   decimal.Decimal `json:"value_change"`
}

// Key returns the position the movement belongs to.
func (m Movement) Key() Key {
	return Key{WarehouseID: m.WarehouseID, ProductID: m.ProductID}
}

func (m Movement) step() valuation.Step {
	return valuation.Step{Kind: m.Kind.step(), Qty: m.Qty, Rate: m.Rate, SetQty: m.SetQty}
}

// Balance summarises the latest state of a position.
type Balance struct {
	WarehouseID    int64           `json:"warehouse_id"`
	ProductID      int64           `json:"product_id"`
	Qty            decimal.Decimal `json:"qty"`
	Value          decimal.Decimal `json:"value"`
	ValuationRate  decimal.Decimal `json:"valuation_rate"`
	LastMovementID int64           `json:"last_movement_id,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ReconciliationStatus tracks the document lifecycle.
type ReconciliationStatus string

const (
	ReconciliationDraft     ReconciliationStatus = "DRAFT"
	ReconciliationPosted    ReconciliationStatus = "POSTED"
	ReconciliationCancelled ReconciliationStatus = "CANCELLED"
)

// Reconciliation is a stock count document for one position.
type Reconciliation struct {
	ID                int64                `json:"id"`
	Code              string               `json:"code"`
	WarehouseID       int64                `json:"warehouse_id"`
	ProductID         int64                `json:"product_id"`
	PostedAt          time.Time            `json:"posted_at"`
	Qty               decimal.NullDecimal  `json:"qty"`
	Rate              decimal.NullDecimal  `json:"valuation_rate"`
	Status            ReconciliationStatus `json:"status"`
	Method            valuation.Method     `json:"method"`
	MovementID        int64                `json:"movement_id,omitempty"`
	QtyBefore         decimal.Decimal      `json:"qty_before"`
	ValueBefore       decimal.Decimal      `json:"value_before"`
	QtyAfter          decimal.Decimal      `json:"qty_after"`
	ValueAfter        decimal.Decimal      `json:"value_after"`
	ValueChange       decimal.Decimal      `json:"value_change"`
	JournalID         int64                `json:"journal_id,omitempty"`
	ReversalJournalID int64                `json:"reversal_journal_id,omitempty"`
	// AdjustmentJournalIDs book later changes of ValueChange caused by
	// back-dated movements. JournalID plus these always sum to ValueChange.
	AdjustmentJournalIDs []int64    `json:"adjustment_journal_ids,omitempty"`
	Note                 string     `json:"note,omitempty"`
	CreatedBy            int64      `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
}

// Key returns the position the reconciliation counts.
func (r Reconciliation) Key() Key {
	return Key{WarehouseID: r.WarehouseID, ProductID: r.ProductID}
}

// ReconciliationInput describes a stock count to apply.
type ReconciliationInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	PostedAt    time.Time
	Qty         decimal.NullDecimal
	Rate        decimal.NullDecimal
	Note        string
	ActorID     int64
}

// ReceiptInput describes an inbound movement.
type ReceiptInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	PostedAt    time.Time
	Qty         decimal.Decimal
	Rate        decimal.Decimal
	Note        string
	ActorID     int64
}

// IssueInput describes an outbound movement. Qty is the positive amount issued.
type IssueInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	PostedAt    time.Time
	Qty         decimal.Decimal
	Note        string
	ActorID     int64
}

// MovementResult pairs a posted movement with the refreshed balance.
type MovementResult struct {
	Movement  Movement `json:"movement"`
	Balance   Balance  `json:"balance"`
	Rewritten int      `json:"rewritten"`
}

// ReconciliationResult pairs a reconciliation with the refreshed balance.
type ReconciliationResult struct {
	Reconciliation Reconciliation `json:"reconciliation"`
	Balance        Balance        `json:"balance"`
	Rewritten      int            `json:"rewritten"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	WarehouseID int64
	ProductID   int64
	From        time.Time
	To          time.Time
	Limit       int
}

var (
	// ErrKeyRequired indicates a missing warehouse or product.
	ErrKeyRequired = errors.New("inventory: warehouse and product required")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidRate indicates a negative rate.
	ErrInvalidRate = errors.New("inventory: rate must be >= 0")
	// ErrValuationRateRequired indicates a counted quantity with no rate given
	// and none to carry forward.
	ErrValuationRateRequired = errors.New("inventory: valuation rate required")
	// ErrReconciliationNotFound indicates an unknown reconciliation id.
	ErrReconciliationNotFound = errors.New("inventory: reconciliation not found")
	// ErrMovementNotFound indicates a ledger row is missing.
	ErrMovementNotFound = errors.New("inventory: movement not found")
	// ErrInvalidStatus indicates the reconciliation cannot be cancelled.
	ErrInvalidStatus = errors.New("inventory: reconciliation is not posted")
	// ErrBalanceNotFound indicates missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")

	// Replay failures surface with the valuation sentinels.
	ErrEmptyReconciliation = valuation.ErrEmptyReconciliation
	ErrInsufficientStock   = valuation.ErrInsufficientStock
	ErrInconsistentLedger  = valuation.ErrInconsistentLedger
)
