package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "POSTED"
	// JournalStatusReversed marks an entry offset by a reversal entry.
	JournalStatusReversed JournalStatus = "REVERSED"
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64
	Number       int64
	PeriodID     int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	PostedAt     time.Time
	Status       JournalStatus
	ReversalOf   *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID             int64
	JournalID      int64
	AccountID      int64
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	DimWarehouseID *int64
	DimProductID   *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AccountBalance is the net debit minus credit posted to an account.
type AccountBalance struct {
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Net       decimal.Decimal `json:"net"`
}
