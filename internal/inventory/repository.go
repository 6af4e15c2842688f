package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// LockKey serialises writers of one position for the rest of the transaction.
	LockKey(ctx context.Context, key Key) error
	// ListMovements returns the position ordered by (posted_at, seq).
	ListMovements(ctx context.Context, key Key) ([]Movement, error)
	NextSequence(ctx context.Context, key Key) (int64, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	UpdateValuation(ctx context.Context, m Movement) error
	DeleteMovement(ctx context.Context, id int64) error
	UpsertBalance(ctx context.Context, b Balance) error
	DeleteBalance(ctx context.Context, key Key) error
	InsertReconciliation(ctx context.Context, r Reconciliation) (Reconciliation, error)
	GetReconciliationForUpdate(ctx context.Context, id int64) (Reconciliation, error)
	UpdateReconciliation(ctx context.Context, r Reconciliation) error
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const movementColumns = `id, code, kind, warehouse_id, product_id, posted_at, seq, qty, rate, set_qty,
COALESCE(reconciliation_id, 0), COALESCE(note, ''), created_at,
actual_qty, qty_after, value_after, valuation_rate, value_change`

const reconciliationColumns = `id, code, warehouse_id, product_id, posted_at, qty, rate, status, method,
COALESCE(movement_id, 0), qty_before, value_before, qty_after, value_after, value_change,
COALESCE(journal_id, 0), COALESCE(reversal_journal_id, 0), adjustment_journal_ids, COALESCE(note, ''),
COALESCE(created_by, 0), created_at, cancelled_at`

// WithTx runs fn at read committed so the snapshot of every statement is
// taken after the position's advisory lock was granted.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *Repository) GetBalance(ctx context.Context, key Key) (Balance, error) {
	var b Balance
	err := r.pool.QueryRow(ctx, `SELECT warehouse_id, product_id, qty, value, valuation_rate, COALESCE(last_movement_id, 0), updated_at
FROM stock_balances WHERE warehouse_id=$1 AND product_id=$2`, key.WarehouseID, key.ProductID).
		Scan(&b.WarehouseID, &b.ProductID, &b.Qty, &b.Value, &b.ValuationRate, &b.LastMovementID, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
WHERE warehouse_id=$1 AND product_id=$2
AND ($3::timestamptz IS NULL OR posted_at >= $3)
AND ($4::timestamptz IS NULL OR posted_at <= $4)
ORDER BY posted_at, seq`
	args := []any{filter.WarehouseID, filter.ProductID, nullTime(filter.From), nullTime(filter.To)}
	if filter.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, filter.Limit)
	}
	return listMovements(ctx, r.pool, query, args...)
}

func (r *Repository) GetReconciliation(ctx context.Context, id int64) (Reconciliation, error) {
	return getReconciliation(ctx, r.pool, id)
}

func (r *Repository) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT warehouse_id, product_id FROM stock_movements ORDER BY warehouse_id, product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.WarehouseID, &k.ProductID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) LockKey(ctx context.Context, key Key) error {
	return db.AdvisoryXactLock(ctx, r.tx, shared.StockLockKey(key.WarehouseID, key.ProductID))
}

func (r *txRepo) ListMovements(ctx context.Context, key Key) ([]Movement, error) {
	return listMovements(ctx, r.tx, `SELECT `+movementColumns+` FROM stock_movements
WHERE warehouse_id=$1 AND product_id=$2 ORDER BY posted_at, seq`, key.WarehouseID, key.ProductID)
}

func (r *txRepo) NextSequence(ctx context.Context, key Key) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM stock_movements WHERE warehouse_id=$1 AND product_id=$2`,
		key.WarehouseID, key.ProductID).Scan(&seq)
	return seq, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (code, kind, warehouse_id, product_id, posted_at, seq, qty, rate, set_qty,
reconciliation_id, note, actual_qty, qty_after, value_after, valuation_rate, value_change, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING id`,
		m.Code, m.Kind, m.WarehouseID, m.ProductID, m.PostedAt, m.Seq, m.Qty, m.Rate, m.SetQty,
		nullInt(m.ReconciliationID), m.Note, m.ActualQty, m.QtyAfter, m.ValueAfter, m.ValuationRate, m.ValueChange, m.CreatedAt).
		Scan(&m.ID)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

func (r *txRepo) UpdateValuation(ctx context.Context, m Movement) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE stock_movements
SET actual_qty=$2, qty_after=$3, value_after=$4, valuation_rate=$5, value_change=$6 WHERE id=$1`,
		m.ID, m.ActualQty, m.QtyAfter, m.ValueAfter, m.ValuationRate, m.ValueChange)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrMovementNotFound, m.ID)
	}
	return nil
}

func (r *txRepo) DeleteMovement(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrMovementNotFound, id)
	}
	return nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (warehouse_id, product_id, qty, value, valuation_rate, last_movement_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (warehouse_id, product_id) DO UPDATE
SET qty=EXCLUDED.qty, value=EXCLUDED.value, valuation_rate=EXCLUDED.valuation_rate,
last_movement_id=EXCLUDED.last_movement_id, updated_at=EXCLUDED.updated_at`,
		b.WarehouseID, b.ProductID, b.Qty, b.Value, b.ValuationRate, nullInt(b.LastMovementID), b.UpdatedAt)
	return err
}

func (r *txRepo) DeleteBalance(ctx context.Context, key Key) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_balances WHERE warehouse_id=$1 AND product_id=$2`, key.WarehouseID, key.ProductID)
	return err
}

func (r *txRepo) InsertReconciliation(ctx context.Context, reco Reconciliation) (Reconciliation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reconciliations (code, warehouse_id, product_id, posted_at, qty, rate, status, method,
qty_before, value_before, qty_after, value_after, value_change, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id`,
		reco.Code, reco.WarehouseID, reco.ProductID, reco.PostedAt, reco.Qty, reco.Rate, reco.Status, reco.Method,
		reco.QtyBefore, reco.ValueBefore, reco.QtyAfter, reco.ValueAfter, reco.ValueChange, reco.Note, nullInt(reco.CreatedBy), reco.CreatedAt).
		Scan(&reco.ID)
	if err != nil {
		return Reconciliation{}, err
	}
	return reco, nil
}

func (r *txRepo) GetReconciliationForUpdate(ctx context.Context, id int64) (Reconciliation, error) {
	return getReconciliation(ctx, r.tx, id, "FOR UPDATE")
}

func (r *txRepo) UpdateReconciliation(ctx context.Context, reco Reconciliation) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE stock_reconciliations
SET status=$2, movement_id=$3, qty_before=$4, value_before=$5, qty_after=$6, value_after=$7, value_change=$8,
journal_id=$9, reversal_journal_id=$10, cancelled_at=$11, adjustment_journal_ids=$12 WHERE id=$1`,
		reco.ID, reco.Status, nullInt(reco.MovementID), reco.QtyBefore, reco.ValueBefore, reco.QtyAfter, reco.ValueAfter,
		reco.ValueChange, nullInt(reco.JournalID), nullInt(reco.ReversalJournalID), reco.CancelledAt, adjustmentIDs(reco.AdjustmentJournalIDs))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrReconciliationNotFound
	}
	return nil
}

func listMovements(ctx context.Context, q querier, query string, args ...any) ([]Movement, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Code, &m.Kind, &m.WarehouseID, &m.ProductID, &m.PostedAt, &m.Seq, &m.Qty, &m.Rate, &m.SetQty,
			&m.ReconciliationID, &m.Note, &m.CreatedAt,
			&m.ActualQty, &m.QtyAfter, &m.ValueAfter, &m.ValuationRate, &m.ValueChange); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func getReconciliation(ctx context.Context, q querier, id int64, lockClause ...string) (Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM stock_reconciliations WHERE id=$1`
	for _, clause := range lockClause {
		query += " " + clause
	}
	var reco Reconciliation
	err := q.QueryRow(ctx, query, id).Scan(&reco.ID, &reco.Code, &reco.WarehouseID, &reco.ProductID, &reco.PostedAt,
		&reco.Qty, &reco.Rate, &reco.Status, &reco.Method, &reco.MovementID,
		&reco.QtyBefore, &reco.ValueBefore, &reco.QtyAfter, &reco.ValueAfter, &reco.ValueChange,
		&reco.JournalID, &reco.ReversalJournalID, &reco.AdjustmentJournalIDs, &reco.Note, &reco.CreatedBy, &reco.CreatedAt, &reco.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, fmt.Errorf("%w: id %d", ErrReconciliationNotFound, id)
		}
		return Reconciliation{}, err
	}
	return reco, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

// adjustmentIDs keeps the column NOT NULL for documents without adjustments.
func adjustmentIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
