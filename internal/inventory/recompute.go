package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// position is the in-memory ledger of one key while a repost is planned.
// Nothing is written until the full replay succeeded.
type position struct {
	key       Key
	method    valuation.Method
	movements []Movement
}

func newPosition(key Key, method valuation.Method, movements []Movement) *position {
	return &position{key: key, method: method, movements: slices.Clone(movements)}
}

// insert places m after every movement posted at or before m.PostedAt and
// returns its index. Same-instant movements keep arrival order via seq.
func (p *position) insert(m Movement) int {
	idx := sort.Search(len(p.movements), func(i int) bool {
		return p.movements[i].PostedAt.After(m.PostedAt)
	})
	p.movements = slices.Insert(p.movements, idx, m)
	return idx
}

// remove drops the movement with the given id and returns the index it held.
func (p *position) remove(id int64) (Movement, int, error) {
	idx := slices.IndexFunc(p.movements, func(m Movement) bool { return m.ID == id })
	if idx < 0 {
		return Movement{}, -1, fmt.Errorf("%w: id %d", ErrMovementNotFound, id)
	}
	removed := p.movements[idx]
	p.movements = slices.Delete(p.movements, idx, idx+1)
	return removed, idx, nil
}

func (p *position) steps() []valuation.Step {
	steps := make([]valuation.Step, len(p.movements))
	for i, m := range p.movements {
		steps[i] = m.step()
	}
	return steps
}

// replay values the whole position from scratch.
func (p *position) replay(opts valuation.Options) ([]valuation.Result, error) {
	results, err := valuation.Replay(p.steps(), p.method, opts)
	if err != nil {
		var stepErr *valuation.StepError
		if errors.As(err, &stepErr) && stepErr.Index >= 0 && stepErr.Index < len(p.movements) {
			m := p.movements[stepErr.Index]
			return nil, fmt.Errorf("inventory: %s %q at %s: %w", m.Kind, m.Code, m.PostedAt.Format(time.RFC3339), err)
		}
		return nil, err
	}
	return results, nil
}

// stored returns the derived fields as currently persisted.
func (p *position) stored() []valuation.Result {
	out := make([]valuation.Result, len(p.movements))
	for i, m := range p.movements {
		out[i] = valuation.Result{
			ActualQty:     m.ActualQty,
			QtyAfter:      m.QtyAfter,
			ValueAfter:    m.ValueAfter,
			ValuationRate: m.ValuationRate,
			ValueChange:   m.ValueChange,
		}
	}
	return out
}

// apply copies results into the movements from index from onward and returns
// the indexes whose derived values differ from what is stored. Unsaved rows
// are always reported.
func (p *position) apply(results []valuation.Result, from int) []int {
	var changed []int
	for i := max(from, 0); i < len(p.movements) && i < len(results); i++ {
		m := &p.movements[i]
		r := results[i]
		if m.ID != 0 && sameDerived(*m, r) {
			continue
		}
		m.ActualQty = r.ActualQty
		m.QtyAfter = r.QtyAfter
		m.ValueAfter = r.ValueAfter
		m.ValuationRate = r.ValuationRate
		m.ValueChange = r.ValueChange
		changed = append(changed, i)
	}
	return changed
}

func sameDerived(m Movement, r valuation.Result) bool {
	return m.ActualQty.Equal(r.ActualQty) &&
		m.QtyAfter.Equal(r.QtyAfter) &&
		m.ValueAfter.Equal(r.ValueAfter) &&
		m.ValuationRate.Equal(r.ValuationRate) &&
		m.ValueChange.Equal(r.ValueChange)
}

// stateBefore is the position just before index idx.
func stateBefore(results []valuation.Result, idx int) valuation.Result {
	if idx <= 0 || idx > len(results) {
		return valuation.Result{}
	}
	return results[idx-1]
}

// persist writes changed rows. New rows are inserted and receive their id;
// the count of rewritten existing rows is returned.
func persist(ctx context.Context, tx TxRepository, p *position, changed []int) (int, error) {
	rewritten := 0
	for _, i := range changed {
		m := p.movements[i]
		if m.ID == 0 {
			inserted, err := tx.InsertMovement(ctx, m)
			if err != nil {
				return rewritten, fmt.Errorf("inventory: insert movement: %w", err)
			}
			p.movements[i] = inserted
			continue
		}
		if err := tx.UpdateValuation(ctx, m); err != nil {
			return rewritten, fmt.Errorf("inventory: update movement %d: %w", m.ID, err)
		}
		rewritten++
	}
	return rewritten, nil
}

// reconciliationRows lists the indexes of every reconciliation movement.
func (p *position) reconciliationRows() []int {
	var out []int
	for i, m := range p.movements {
		if m.Kind == MovementReconciliation {
			out = append(out, i)
		}
	}
	return out
}

// restate brings the documents of later reconciliations in line with their
// rewritten ledger rows and books the change of their value change. skip is
// the reconciliation the caller is applying itself. The ids of adjustment
// journals posted are returned so a failed transaction can reverse them.
func (s *Service) restate(ctx context.Context, tx TxRepository, p *position, results []valuation.Result, changed []int, skip, actorID int64) ([]int64, error) {
	var posted []int64
	for _, i := range changed {
		m := p.movements[i]
		if m.Kind != MovementReconciliation || m.ReconciliationID == 0 || m.ReconciliationID == skip {
			continue
		}
		reco, err := tx.GetReconciliationForUpdate(ctx, m.ReconciliationID)
		if err != nil {
			return posted, err
		}
		if reco.Status != ReconciliationPosted {
			continue
		}
		before := stateBefore(results, i)
		if reco.QtyBefore.Equal(before.QtyAfter) && reco.ValueBefore.Equal(before.ValueAfter) &&
			reco.QtyAfter.Equal(m.QtyAfter) && reco.ValueAfter.Equal(m.ValueAfter) && reco.ValueChange.Equal(m.ValueChange) {
			continue
		}
		delta := m.ValueChange.Sub(reco.ValueChange)
		reco.QtyBefore = before.QtyAfter
		reco.ValueBefore = before.ValueAfter
		reco.QtyAfter = m.QtyAfter
		reco.ValueAfter = m.ValueAfter
		reco.ValueChange = m.ValueChange
		if !delta.IsZero() && s.integration != nil {
			journalID, err := s.integration.HandleReconciliationRevalued(ctx, ReconciliationRevaluedEvent{
				ReconciliationID: reco.ID,
				Code:             reco.Code,
				WarehouseID:      reco.WarehouseID,
				ProductID:        reco.ProductID,
				PostedAt:         reco.PostedAt,
				Delta:            delta,
				ActorID:          actorID,
			})
			if err != nil {
				return posted, fmt.Errorf("inventory: repost reconciliation %q journal: %w", reco.Code, err)
			}
			if journalID != 0 {
				reco.AdjustmentJournalIDs = append(slices.Clone(reco.AdjustmentJournalIDs), journalID)
				posted = append(posted, journalID)
			}
		}
		if err := tx.UpdateReconciliation(ctx, reco); err != nil {
			return posted, err
		}
	}
	return posted, nil
}
