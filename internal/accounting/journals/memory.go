package journals

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/accounting/shared"
)

// PeriodSource is the calendar view the in-memory ledger validates against.
type PeriodSource interface {
	Get(ctx context.Context, id int64) (periods.Period, error)
	NextOpenAfter(ctx context.Context, date time.Time) (periods.Period, error)
}

type sourceKey struct {
	module string
	ref    uuid.UUID
}

type memoryState struct {
	entries map[int64]JournalEntry
	lines   map[int64][]JournalLine
	links   map[sourceKey]int64
	nextID  int64
	lineID  int64
}

func (s memoryState) clone() memoryState {
	lines := make(map[int64][]JournalLine, len(s.lines))
	for id, ls := range s.lines {
		lines[id] = slices.Clone(ls)
	}
	return memoryState{
		entries: maps.Clone(s.entries),
		lines:   lines,
		links:   maps.Clone(s.links),
		nextID:  s.nextID,
		lineID:  s.lineID,
	}
}

// MemoryRepository is a process-local journal store. Transactions are
// serialised and rolled back by restoring a snapshot.
type MemoryRepository struct {
	mu      sync.RWMutex
	state   memoryState
	periods PeriodSource
	now     func() time.Time
}

// NewMemoryRepository constructs an empty ledger over the given calendar.
func NewMemoryRepository(periods PeriodSource) *MemoryRepository {
	return &MemoryRepository{
		state: memoryState{
			entries: make(map[int64]JournalEntry),
			lines:   make(map[int64][]JournalLine),
			links:   make(map[sourceKey]int64),
		},
		periods: periods,
		now:     time.Now,
	}
}

func (r *MemoryRepository) List(_ context.Context) ([]JournalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JournalEntry, 0, len(r.state.entries))
	for _, e := range r.state.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (JournalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.state.entries[id]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	entry.Lines = slices.Clone(r.state.lines[id])
	return entry, nil
}

func (r *MemoryRepository) FindBySource(_ context.Context, module string, ref uuid.UUID) (JournalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.findBySource(module, ref)
}

func (r *MemoryRepository) AccountBalances(_ context.Context) ([]AccountBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byAccount := make(map[int64]*AccountBalance)
	for _, lines := range r.state.lines {
		for _, line := range lines {
			b, ok := byAccount[line.AccountID]
			if !ok {
				b = &AccountBalance{AccountID: line.AccountID}
				byAccount[line.AccountID] = b
			}
			b.Debit = b.Debit.Add(line.Debit)
			b.Credit = b.Credit.Add(line.Credit)
		}
	}
	out := make([]AccountBalance, 0, len(byAccount))
	for _, b := range byAccount {
		b.Net = b.Debit.Sub(b.Credit)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (s memoryState) findBySource(module string, ref uuid.UUID) (JournalEntry, error) {
	id, ok := s.links[sourceKey{module: module, ref: ref}]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return s.entries[id], nil
}

type memoryTx struct {
	repo *MemoryRepository
}

func (tx *memoryTx) InsertJournalEntry(_ context.Context, in PostingInput) (JournalEntry, error) {
	st := &tx.repo.state
	st.nextID++
	now := tx.repo.now()
	entry := JournalEntry{
		ID:           st.nextID,
		Number:       st.nextID,
		PeriodID:     in.PeriodID,
		Date:         in.Date,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		PostedBy:     in.PostedBy,
		PostedAt:     now,
		Status:       JournalStatusPosted,
		ReversalOf:   in.ReversalOf,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	st.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryTx) InsertJournalLines(_ context.Context, entryID int64, lines []PostingLineInput) error {
	st := &tx.repo.state
	if _, ok := st.entries[entryID]; !ok {
		return shared.ErrJournalNotFound
	}
	now := tx.repo.now()
	for _, line := range lines {
		st.lineID++
		st.lines[entryID] = append(st.lines[entryID], JournalLine{
			ID:             st.lineID,
			JournalID:      entryID,
			AccountID:      line.AccountID,
			Debit:          line.Debit.Round(2),
			Credit:         line.Credit.Round(2),
			DimWarehouseID: line.Warehouse,
			DimProductID:   line.Product,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return nil
}

func (tx *memoryTx) LinkSource(_ context.Context, module string, ref uuid.UUID, entryID int64) error {
	key := sourceKey{module: module, ref: ref}
	if _, exists := tx.repo.state.links[key]; exists {
		return shared.ErrSourceConflict
	}
	tx.repo.state.links[key] = entryID
	return nil
}

func (tx *memoryTx) FindBySource(_ context.Context, module string, ref uuid.UUID) (JournalEntry, error) {
	return tx.repo.state.findBySource(module, ref)
}

func (tx *memoryTx) GetJournalWithLines(_ context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, ok := tx.repo.state.entries[entryID]
	if !ok {
		return JournalEntry{}, nil, shared.ErrJournalNotFound
	}
	return entry, slices.Clone(tx.repo.state.lines[entryID]), nil
}

func (tx *memoryTx) UpdateJournalStatus(_ context.Context, entryID int64, status JournalStatus) error {
	entry, ok := tx.repo.state.entries[entryID]
	if !ok {
		return shared.ErrJournalNotFound
	}
	entry.Status = status
	entry.UpdatedAt = tx.repo.now()
	tx.repo.state.entries[entryID] = entry
	return nil
}

func (tx *memoryTx) GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error) {
	if tx.repo.periods == nil {
		return periods.Period{}, shared.ErrInvalidPeriod
	}
	return tx.repo.periods.Get(ctx, periodID)
}

func (tx *memoryTx) GetNextOpenPeriodAfter(ctx context.Context, date time.Time) (periods.Period, error) {
	if tx.repo.periods == nil {
		return periods.Period{}, shared.ErrInvalidPeriod
	}
	return tx.repo.periods.NextOpenAfter(ctx, date)
}

// NetBalance sums debit minus credit over the given balances for one account.
func NetBalance(balances []AccountBalance, accountID int64) decimal.Decimal {
	for _, b := range balances {
		if b.AccountID == accountID {
			return b.Net
		}
	}
	return decimal.Zero
}
