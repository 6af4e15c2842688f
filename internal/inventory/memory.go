package inventory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

type memoryState struct {
	movements      map[int64]Movement
	balances       map[Key]Balance
	recos          map[int64]Reconciliation
	nextMovementID int64
	nextRecoID     int64
}

func (s memoryState) clone() memoryState {
	return memoryState{
		movements:      maps.Clone(s.movements),
		balances:       maps.Clone(s.balances),
		recos:          maps.Clone(s.recos),
		nextMovementID: s.nextMovementID,
		nextRecoID:     s.nextRecoID,
	}
}

func (s memoryState) position(key Key) []Movement {
	var out []Movement
	for _, m := range s.movements {
		if m.Key() == key {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, compareMovements)
	return out
}

func compareMovements(a, b Movement) int {
	if c := a.PostedAt.Compare(b.PostedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// MemoryRepository is a process-local ledger store. Transactions are
// serialised by one mutex and rolled back by restoring a snapshot, which
// also makes every position lock implicit. Ids are never reused, matching
// database sequences.
type MemoryRepository struct {
	mu    sync.RWMutex
	state memoryState
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: memoryState{
		movements: make(map[int64]Movement),
		balances:  make(map[Key]Balance),
		recos:     make(map[int64]Reconciliation),
	}}
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &r.state}); err != nil {
		snapshot.nextMovementID = r.state.nextMovementID
		snapshot.nextRecoID = r.state.nextRecoID
		r.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) GetBalance(_ context.Context, key Key) (Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.state.balances[key]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (r *MemoryRepository) GetStockCard(_ context.Context, filter StockCardFilter) ([]Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Movement
	for _, m := range r.state.position(Key{WarehouseID: filter.WarehouseID, ProductID: filter.ProductID}) {
		if !filter.From.IsZero() && m.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.PostedAt.After(filter.To) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetReconciliation(_ context.Context, id int64) (Reconciliation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.reconciliation(id)
}

func (r *MemoryRepository) ListKeys(_ context.Context) ([]Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Key]struct{})
	for _, m := range r.state.movements {
		seen[m.Key()] = struct{}{}
	}
	keys := slices.Collect(maps.Keys(seen))
	slices.SortFunc(keys, func(a, b Key) int {
		if c := cmp.Compare(a.WarehouseID, b.WarehouseID); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return keys, nil
}

func (s memoryState) reconciliation(id int64) (Reconciliation, error) {
	reco, ok := s.recos[id]
	if !ok {
		return Reconciliation{}, fmt.Errorf("%w: id %d", ErrReconciliationNotFound, id)
	}
	return reco, nil
}

type memoryTx struct {
	state *memoryState
}

func (tx *memoryTx) LockKey(context.Context, Key) error {
	return nil
}

func (tx *memoryTx) ListMovements(_ context.Context, key Key) ([]Movement, error) {
	return tx.state.position(key), nil
}

func (tx *memoryTx) NextSequence(_ context.Context, key Key) (int64, error) {
	var seq int64
	for _, m := range tx.state.movements {
		if m.Key() == key && m.Seq > seq {
			seq = m.Seq
		}
	}
	return seq + 1, nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) (Movement, error) {
	tx.state.nextMovementID++
	m.ID = tx.state.nextMovementID
	tx.state.movements[m.ID] = m
	return m, nil
}

func (tx *memoryTx) UpdateValuation(_ context.Context, m Movement) error {
	stored, ok := tx.state.movements[m.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrMovementNotFound, m.ID)
	}
	stored.ActualQty = m.ActualQty
	stored.QtyAfter = m.QtyAfter
	stored.ValueAfter = m.ValueAfter
	stored.ValuationRate = m.ValuationRate
	stored.ValueChange = m.ValueChange
	tx.state.movements[m.ID] = stored
	return nil
}

func (tx *memoryTx) DeleteMovement(_ context.Context, id int64) error {
	if _, ok := tx.state.movements[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrMovementNotFound, id)
	}
	delete(tx.state.movements, id)
	return nil
}

func (tx *memoryTx) UpsertBalance(_ context.Context, b Balance) error {
	tx.state.balances[Key{WarehouseID: b.WarehouseID, ProductID: b.ProductID}] = b
	return nil
}

func (tx *memoryTx) DeleteBalance(_ context.Context, key Key) error {
	delete(tx.state.balances, key)
	return nil
}

func (tx *memoryTx) InsertReconciliation(_ context.Context, reco Reconciliation) (Reconciliation, error) {
	tx.state.nextRecoID++
	reco.ID = tx.state.nextRecoID
	tx.state.recos[reco.ID] = reco
	return reco, nil
}

func (tx *memoryTx) GetReconciliationForUpdate(_ context.Context, id int64) (Reconciliation, error) {
	return tx.state.reconciliation(id)
}

func (tx *memoryTx) UpdateReconciliation(_ context.Context, reco Reconciliation) error {
	if _, ok := tx.state.recos[reco.ID]; !ok {
		return fmt.Errorf("%w: id %d", ErrReconciliationNotFound, reco.ID)
	}
	tx.state.recos[reco.ID] = reco
	return nil
}
