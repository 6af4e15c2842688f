package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/accounting/mappings"
	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/accounting/shared"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

const (
	mappingModule = "INVENTORY"
	// KeyStock maps to the stock-in-hand asset account.
	KeyStock = "inventory.reconciliation.stock"
	// KeyAdjustment maps to the stock adjustment expense account.
	KeyAdjustment = "inventory.reconciliation.adjustment"
	// SourceModule tags journals posted for reconciliations.
	SourceModule = "INVENTORY.RECONCILIATION"
)

// ErrAlreadyReversed indicates a reconciliation's journal was reversed before it was linked.
var ErrAlreadyReversed = errors.New("integration: reconciliation journal already reversed")

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	PostJournal(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
	ReverseJournal(ctx context.Context, input journals.ReverseInput) (journals.JournalEntry, error)
	FindBySource(ctx context.Context, module string, ref uuid.UUID) (journals.JournalEntry, error)
}

// PeriodRepository provides period lookups.
type PeriodRepository interface {
	FindOpenPeriodByDate(ctx context.Context, date time.Time) (periods.Period, error)
}

// AccountMappingRepository provides mapping lookups.
type AccountMappingRepository interface {
	Get(ctx context.Context, module, key string) (mappings.AccountMapping, error)
}

// HooksConfig toggles ledger posting.
type HooksConfig struct {
	// Enabled gates new postings. Reversals of journals already posted run regardless.
	Enabled bool
}

// Hooks wires inventory events into the general ledger.
type Hooks struct {
	ledger      Ledger
	periodRepo  PeriodRepository
	mappingRepo AccountMappingRepository
	cfg         HooksConfig
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, periodRepo PeriodRepository, mappingRepo AccountMappingRepository, cfg HooksConfig) *Hooks {
	return &Hooks{ledger: ledger, periodRepo: periodRepo, mappingRepo: mappingRepo, cfg: cfg}
}

// ReconciliationSourceID is the journal source id of a reconciliation.
func ReconciliationSourceID(reconciliationID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RECO:%d", reconciliationID)))
}

func (h *Hooks) resolveAccount(ctx context.Context, key string) (int64, error) {
	mapping, err := h.mappingRepo.Get(ctx, mappingModule, key)
	if err != nil {
		return 0, fmt.Errorf("integration: mapping %s: %w", key, err)
	}
	return mapping.AccountID, nil
}

// post writes the journal; a replay of the same source returns the entry
// linked the first time.
func (h *Hooks) post(ctx context.Context, input journals.PostingInput) (int64, error) {
	if input.SourceID == uuid.Nil {
		return 0, errors.New("integration: source id required")
	}
	entry, err := h.ledger.PostJournal(ctx, input)
	if err == nil {
		return entry.ID, nil
	}
	if !errors.Is(err, shared.ErrSourceAlreadyLinked) {
		return 0, err
	}
	existing, err := h.ledger.FindBySource(ctx, input.SourceModule, input.SourceID)
	if err != nil {
		return 0, err
	}
	if existing.Status != journals.JournalStatusPosted {
		return 0, fmt.Errorf("%w: journal %d", ErrAlreadyReversed, existing.ID)
	}
	return existing.ID, nil
}

// HandleReconciliationPosted books the stock value difference of a
// reconciliation: stock against adjustment, sides chosen by the sign.
func (h *Hooks) HandleReconciliationPosted(ctx context.Context, evt inventory.ReconciliationPostedEvent) (int64, error) {
	return h.book(ctx, booking{
		sourceID:    ReconciliationSourceID(evt.ReconciliationID),
		memo:        fmt.Sprintf("Stock Reconciliation %s", evt.Code),
		warehouseID: evt.WarehouseID,
		productID:   evt.ProductID,
		postedAt:    evt.PostedAt,
		amount:      evt.ValueChange,
		actorID:     evt.ActorID,
	})
}

// HandleReconciliationRevalued books the difference a repost made to a
// reconciliation's value change, on the reconciliation's own date. Each
// repost gets a fresh source: a failed one is reversed, never replayed.
func (h *Hooks) HandleReconciliationRevalued(ctx context.Context, evt inventory.ReconciliationRevaluedEvent) (int64, error) {
	return h.book(ctx, booking{
		sourceID:    uuid.New(),
		memo:        fmt.Sprintf("Stock Reconciliation %s repost", evt.Code),
		warehouseID: evt.WarehouseID,
		productID:   evt.ProductID,
		postedAt:    evt.PostedAt,
		amount:      evt.Delta,
		actorID:     evt.ActorID,
	})
}

type booking struct {
	sourceID    uuid.UUID
	memo        string
	warehouseID int64
	productID   int64
	postedAt    time.Time
	amount      decimal.Decimal
	actorID     int64
}

func (h *Hooks) book(ctx context.Context, b booking) (int64, error) {
	if h == nil || !h.cfg.Enabled || h.ledger == nil || h.periodRepo == nil || h.mappingRepo == nil {
		return 0, nil
	}
	if b.postedAt.IsZero() {
		return 0, errors.New("integration: reconciliation post date required")
	}
	amount := roundMoney(b.amount)
	if amount.IsZero() {
		return 0, nil
	}
	date := journalDate(b.postedAt)
	period, err := h.periodRepo.FindOpenPeriodByDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("integration: period for %s: %w", date.Format("2006-01-02"), err)
	}
	stockAccount, err := h.resolveAccount(ctx, KeyStock)
	if err != nil {
		return 0, err
	}
	adjustmentAccount, err := h.resolveAccount(ctx, KeyAdjustment)
	if err != nil {
		return 0, err
	}
	debit, credit := stockAccount, adjustmentAccount
	if amount.IsNegative() {
		debit, credit = adjustmentAccount, stockAccount
	}
	value := amount.Abs()
	warehouse, product := b.warehouseID, b.productID
	input := journals.PostingInput{
		PeriodID:     period.ID,
		Date:         date,
		SourceModule: SourceModule,
		SourceID:     b.sourceID,
		Memo:         b.memo,
		PostedBy:     b.actorID,
		Lines: []journals.PostingLineInput{
			{AccountID: debit, Debit: value, Warehouse: &warehouse, Product: &product},
			{AccountID: credit, Credit: value, Warehouse: &warehouse, Product: &product},
		},
	}
	return h.post(ctx, input)
}

// HandleReconciliationCancelled reverses the journal of a cancelled
// reconciliation and its repost adjustments on their original dates, or in
// the next open period when those are closed. Reversing twice yields the
// first reversals. The id returned is the main journal's reversal.
func (h *Hooks) HandleReconciliationCancelled(ctx context.Context, evt inventory.ReconciliationCancelledEvent) (int64, error) {
	if h == nil || h.ledger == nil {
		return 0, nil
	}
	memo := fmt.Sprintf("Cancel Stock Reconciliation %s", evt.Code)
	for _, id := range evt.AdjustmentJournalIDs {
		if _, err := h.reverse(ctx, id, evt.ActorID, memo); err != nil {
			return 0, err
		}
	}
	if evt.JournalID == 0 {
		return 0, nil
	}
	return h.reverse(ctx, evt.JournalID, evt.ActorID, memo)
}

func (h *Hooks) reverse(ctx context.Context, journalID, actorID int64, memo string) (int64, error) {
	reversal, err := h.ledger.ReverseJournal(ctx, journals.ReverseInput{
		EntryID: journalID,
		ActorID: actorID,
		Memo:    memo,
	})
	if err != nil {
		return 0, fmt.Errorf("integration: reverse journal %d: %w", journalID, err)
	}
	return reversal.ID, nil
}

var _ inventory.IntegrationHandler = (*Hooks)(nil)
