package periods

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/accounting/shared"
)

// MemoryRepository keeps the fiscal calendar in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	periods []Period
}

// NewMemoryRepository seeds the calendar with the supplied periods.
func NewMemoryRepository(seed ...Period) *MemoryRepository {
	r := &MemoryRepository{}
	for _, p := range seed {
		r.Add(p)
	}
	return r
}

// MonthlyCalendar builds open monthly periods covering [from, to].
func MonthlyCalendar(from, to time.Time) []Period {
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []Period
	for id := int64(1); !start.After(to); id++ {
		next := start.AddDate(0, 1, 0)
		out = append(out, Period{
			ID:        id,
			Code:      fmt.Sprintf("%04d-%02d", start.Year(), start.Month()),
			StartDate: start,
			EndDate:   next.Add(-time.Nanosecond),
			Status:    PeriodStatusOpen,
		})
		start = next
	}
	return out
}

// Add inserts or replaces a period by id.
func (r *MemoryRepository) Add(p Period) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.periods {
		if r.periods[i].ID == p.ID {
			r.periods[i] = p
			return
		}
	}
	r.periods = append(r.periods, p)
	sort.Slice(r.periods, func(i, j int) bool { return r.periods[i].StartDate.Before(r.periods[j].StartDate) })
}

// SetStatus moves a period to status when the transition is allowed.
func (r *MemoryRepository) SetStatus(id int64, status PeriodStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.periods {
		if r.periods[i].ID == id {
			if err := ValidateTransition(r.periods[i].Status, status, false); err != nil {
				return err
			}
			r.periods[i].Status = status
			return nil
		}
	}
	return shared.ErrInvalidPeriod
}

func (r *MemoryRepository) FindOpenPeriodByDate(_ context.Context, date time.Time) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.periods {
		if p.Status == PeriodStatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, shared.ErrInvalidPeriod
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.periods {
		if p.ID == id {
			return p, nil
		}
	}
	return Period{}, shared.ErrInvalidPeriod
}

// NextOpenAfter returns the earliest open period starting strictly after date.
// Callers pass the end of a closed period, whatever its granularity.
func (r *MemoryRepository) NextOpenAfter(_ context.Context, date time.Time) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.periods {
		if p.Status == PeriodStatusOpen && p.StartDate.After(date) {
			return p, nil
		}
	}
	return Period{}, shared.ErrNoOpenPeriod
}
