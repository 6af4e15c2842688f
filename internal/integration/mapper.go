package integration

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/shared"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(valuation.ValuePlaces)
}

// journalDate drops the time of day; journals are dated, not timestamped.
func journalDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ClassifyError maps ledger failures surfaced through inventory operations
// onto HTTP error kinds.
func ClassifyError(err error) error {
	switch {
	case errors.Is(err, shared.ErrInvalidPeriod), errors.Is(err, shared.ErrPeriodLocked),
		errors.Is(err, shared.ErrDateOutOfRange), errors.Is(err, shared.ErrMappingNotFound),
		errors.Is(err, shared.ErrUnbalanced), errors.Is(err, ErrAlreadyReversed):
		return httpx.ErrUnprocessable
	case errors.Is(err, shared.ErrJournalNotFound):
		return httpx.ErrNotFound
	}
	return nil
}
