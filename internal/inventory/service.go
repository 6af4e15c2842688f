package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, key Key) (Balance, error)
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error)
	GetReconciliation(ctx context.Context, id int64) (Reconciliation, error)
	ListKeys(ctx context.Context) ([]Key, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives repost telemetry.
type Observer interface {
	ObserveRepost(operation string, method valuation.Method, rewritten int, elapsed time.Duration, err error)
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency shared.IdempotencyGuard
	integration IntegrationHandler
	locker      shared.KeyLocker
	methods     ItemSettings
	observer    Observer
	logger      *slog.Logger
	balances    BalanceAggregator
	allowNeg    bool
	concurrency int
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	DefaultMethod      valuation.Method
	RebuildConcurrency int
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem shared.IdempotencyGuard, cfg ServiceConfig, integration IntegrationHandler) *Service {
	method := cfg.DefaultMethod
	if method == "" {
		method = valuation.MethodMovingAverage
	}
	concurrency := cfg.RebuildConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	s := &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		integration: integration,
		locker:      shared.NewLocalLocker(),
		methods:     StaticMethods{Default: method},
		logger:      slog.Default(),
		allowNeg:    cfg.AllowNegativeStock,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.balances = BalanceAggregator{now: s.clock}
	return s
}

// WithLocker replaces the per-key locker.
func (s *Service) WithLocker(locker shared.KeyLocker) *Service {
	if locker != nil {
		s.locker = locker
	}
	return s
}

// WithItemSettings sets the valuation method source.
func (s *Service) WithItemSettings(settings ItemSettings) *Service {
	if settings != nil {
		s.methods = settings
	}
	return s
}

// WithObserver attaches repost telemetry.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithNow overrides the clock. Mainly used in tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now()
}

func (s *Service) options() valuation.Options {
	return valuation.Options{AllowNegativeStock: s.allowNeg}
}

// ApplyReconciliation inserts a stock count at its posting time, revalues
// every later movement of the position and posts the value change.
func (s *Service) ApplyReconciliation(ctx context.Context, in ReconciliationInput) (ReconciliationResult, error) {
	key := Key{WarehouseID: in.WarehouseID, ProductID: in.ProductID}
	if !key.Valid() {
		return ReconciliationResult{}, ErrKeyRequired
	}
	if !in.Qty.Valid && !in.Rate.Valid {
		return ReconciliationResult{}, ErrEmptyReconciliation
	}
	if in.Qty.Valid && in.Qty.Decimal.IsNegative() {
		return ReconciliationResult{}, ErrInvalidQuantity
	}
	if in.Rate.Valid && in.Rate.Decimal.IsNegative() {
		return ReconciliationResult{}, ErrInvalidRate
	}
	now := s.clock()
	postedAt := in.PostedAt
	if postedAt.IsZero() {
		postedAt = now
	}
	code := in.Code
	if code == "" {
		code = fmt.Sprintf("RECO-%d", now.UnixNano())
	}

	idemKey := fmt.Sprintf("%s:%s:%d:%d", MovementReconciliation, code, key.WarehouseID, key.ProductID)
	release, err := s.guard(ctx, in.Code, idemKey, key)
	if err != nil {
		return ReconciliationResult{}, err
	}
	defer release()

	method, err := s.methods.ValuationMethod(ctx, key.ProductID)
	if err != nil {
		s.forget(ctx, in.Code, idemKey)
		return ReconciliationResult{}, err
	}

	started := time.Now()
	var (
		result ReconciliationResult
		posted []int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockKey(ctx, key); err != nil {
			return err
		}
		movements, err := tx.ListMovements(ctx, key)
		if err != nil {
			return err
		}
		p := newPosition(key, method, movements)
		seq, err := tx.NextSequence(ctx, key)
		if err != nil {
			return err
		}
		reco, err := tx.InsertReconciliation(ctx, Reconciliation{
			Code:        code,
			WarehouseID: key.WarehouseID,
			ProductID:   key.ProductID,
			PostedAt:    postedAt,
			Qty:         in.Qty,
			Rate:        in.Rate,
			Status:      ReconciliationDraft,
			Method:      method,
			Note:        in.Note,
			CreatedBy:   in.ActorID,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		idx := p.insert(Movement{
			Code:             code,
			Kind:             MovementReconciliation,
			WarehouseID:      key.WarehouseID,
			ProductID:        key.ProductID,
			PostedAt:         postedAt,
			Seq:              seq,
			Qty:              decimal.Zero,
			Rate:             in.Rate,
			SetQty:           in.Qty,
			ReconciliationID: reco.ID,
			Note:             in.Note,
			CreatedAt:        now,
		})
		results, err := p.replay(s.options())
		if err != nil {
			return err
		}
		before := stateBefore(results, idx)
		if in.Qty.Valid && in.Qty.Decimal.IsPositive() && !in.Rate.Valid && before.ValuationRate.IsZero() {
			return ErrValuationRateRequired
		}
		changed := p.apply(results, idx)
		rewritten, err := persist(ctx, tx, p, changed)
		if err != nil {
			return err
		}
		balance, err := s.balances.Refresh(ctx, tx, key, p.movements)
		if err != nil {
			return err
		}
		adjusted, err := s.restate(ctx, tx, p, results, changed, reco.ID, in.ActorID)
		posted = append(posted, adjusted...)
		if err != nil {
			return err
		}
		applied := p.movements[idx]
		reco.MovementID = applied.ID
		reco.QtyBefore = before.QtyAfter
		reco.ValueBefore = before.ValueAfter
		reco.QtyAfter = applied.QtyAfter
		reco.ValueAfter = applied.ValueAfter
		reco.ValueChange = applied.ValueChange
		reco.Status = ReconciliationPosted
		if s.integration != nil {
			journalID, err := s.integration.HandleReconciliationPosted(ctx, ReconciliationPostedEvent{
				ReconciliationID: reco.ID,
				Code:             reco.Code,
				WarehouseID:      key.WarehouseID,
				ProductID:        key.ProductID,
				PostedAt:         postedAt,
				ValueChange:      reco.ValueChange,
				ActorID:          in.ActorID,
			})
			if err != nil {
				return fmt.Errorf("inventory: post reconciliation journal: %w", err)
			}
			reco.JournalID = journalID
			if journalID != 0 {
				posted = append(posted, journalID)
			}
		}
		if err := tx.UpdateReconciliation(ctx, reco); err != nil {
			return err
		}
		result = ReconciliationResult{Reconciliation: reco, Balance: balance, Rewritten: rewritten}
		return nil
	})
	s.observe("apply_reconciliation", method, result.Rewritten, started, err)
	if err != nil {
		s.compensate(ctx, posted, key, code, in.ActorID)
		s.forget(ctx, in.Code, idemKey)
		return ReconciliationResult{}, err
	}

	reco := result.Reconciliation
	s.logger.Info("inventory reconciliation applied",
		slog.Int64("reconciliation_id", reco.ID),
		slog.Int64("warehouse_id", key.WarehouseID),
		slog.Int64("product_id", key.ProductID),
		slog.String("method", string(method)),
		slog.String("value_change", reco.ValueChange.String()),
		slog.Int("rewritten", result.Rewritten),
	)
	s.record(ctx, in.ActorID, "inventory:reconciliation:apply", "stock_reconciliation", fmt.Sprintf("%d", reco.ID), map[string]any{
		"code":         reco.Code,
		"warehouse_id": key.WarehouseID,
		"product_id":   key.ProductID,
		"value_change": reco.ValueChange.String(),
		"journal_id":   reco.JournalID,
	})
	return result, nil
}

// CancelReconciliation removes a posted reconciliation from the ledger,
// revalues what followed it and reverses its journal.
func (s *Service) CancelReconciliation(ctx context.Context, id, actorID int64) (ReconciliationResult, error) {
	current, err := s.repo.GetReconciliation(ctx, id)
	if err != nil {
		return ReconciliationResult{}, err
	}
	key := current.Key()
	release, err := s.locker.Lock(ctx, shared.StockLockKey(key.WarehouseID, key.ProductID))
	if err != nil {
		return ReconciliationResult{}, err
	}
	defer release()

	method, err := s.methods.ValuationMethod(ctx, key.ProductID)
	if err != nil {
		return ReconciliationResult{}, err
	}

	started := time.Now()
	var (
		result ReconciliationResult
		posted []int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockKey(ctx, key); err != nil {
			return err
		}
		reco, err := tx.GetReconciliationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if reco.Status != ReconciliationPosted {
			return fmt.Errorf("%w: status %s", ErrInvalidStatus, reco.Status)
		}
		movements, err := tx.ListMovements(ctx, key)
		if err != nil {
			return err
		}
		p := newPosition(key, method, movements)
		removed, idx, err := p.remove(reco.MovementID)
		if err != nil {
			return err
		}
		results, err := p.replay(s.options())
		if err != nil {
			return err
		}
		if err := tx.DeleteMovement(ctx, removed.ID); err != nil {
			return err
		}
		changed := p.apply(results, idx)
		rewritten, err := persist(ctx, tx, p, changed)
		if err != nil {
			return err
		}
		balance, err := s.balances.Refresh(ctx, tx, key, p.movements)
		if err != nil {
			return err
		}
		adjusted, err := s.restate(ctx, tx, p, results, changed, reco.ID, actorID)
		posted = append(posted, adjusted...)
		if err != nil {
			return err
		}
		cancelledAt := s.clock()
		if s.integration != nil && (reco.JournalID != 0 || len(reco.AdjustmentJournalIDs) > 0) {
			reversalID, err := s.integration.HandleReconciliationCancelled(ctx, ReconciliationCancelledEvent{
				ReconciliationID:     reco.ID,
				Code:                 reco.Code,
				WarehouseID:          key.WarehouseID,
				ProductID:            key.ProductID,
				JournalID:            reco.JournalID,
				AdjustmentJournalIDs: reco.AdjustmentJournalIDs,
				CancelledAt:          cancelledAt,
				ActorID:              actorID,
			})
			if err != nil {
				return fmt.Errorf("inventory: reverse reconciliation journal: %w", err)
			}
			reco.ReversalJournalID = reversalID
		}
		reco.Status = ReconciliationCancelled
		reco.CancelledAt = &cancelledAt
		if err := tx.UpdateReconciliation(ctx, reco); err != nil {
			return err
		}
		result = ReconciliationResult{Reconciliation: reco, Balance: balance, Rewritten: rewritten}
		return nil
	})
	s.observe("cancel_reconciliation", method, result.Rewritten, started, err)
	if err != nil {
		s.compensate(ctx, posted, key, current.Code, actorID)
		return ReconciliationResult{}, err
	}
	s.logger.Info("inventory reconciliation cancelled",
		slog.Int64("reconciliation_id", id),
		slog.Int64("warehouse_id", key.WarehouseID),
		slog.Int64("product_id", key.ProductID),
		slog.Int("rewritten", result.Rewritten),
	)
	s.record(ctx, actorID, "inventory:reconciliation:cancel", "stock_reconciliation", fmt.Sprintf("%d", id), map[string]any{
		"reversal_journal_id": result.Reconciliation.ReversalJournalID,
	})
	return result, nil
}

// PostReceipt posts an inbound movement, possibly back-dated.
func (s *Service) PostReceipt(ctx context.Context, in ReceiptInput) (MovementResult, error) {
	if !in.Qty.IsPositive() {
		return MovementResult{}, ErrInvalidQuantity
	}
	if in.Rate.IsNegative() {
		return MovementResult{}, ErrInvalidRate
	}
	return s.postMovement(ctx, Movement{
		Code:        in.Code,
		Kind:        MovementReceipt,
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		PostedAt:    in.PostedAt,
		Qty:         in.Qty,
		Rate:        decimal.NewNullDecimal(in.Rate),
		Note:        in.Note,
	}, in.ActorID)
}

// PostIssue posts an outbound movement, possibly back-dated.
func (s *Service) PostIssue(ctx context.Context, in IssueInput) (MovementResult, error) {
	if !in.Qty.IsPositive() {
		return MovementResult{}, ErrInvalidQuantity
	}
	return s.postMovement(ctx, Movement{
		Code:        in.Code,
		Kind:        MovementIssue,
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		PostedAt:    in.PostedAt,
		Qty:         in.Qty.Neg(),
		Note:        in.Note,
	}, in.ActorID)
}

func (s *Service) postMovement(ctx context.Context, mv Movement, actorID int64) (MovementResult, error) {
	key := mv.Key()
	if !key.Valid() {
		return MovementResult{}, ErrKeyRequired
	}
	now := s.clock()
	if mv.PostedAt.IsZero() {
		mv.PostedAt = now
	}
	requested := mv.Code
	if mv.Code == "" {
		mv.Code = fmt.Sprintf("INV-%d", now.UnixNano())
	}
	mv.CreatedAt = now

	idemKey := fmt.Sprintf("%s:%s:%d:%d", mv.Kind, mv.Code, key.WarehouseID, key.ProductID)
	release, err := s.guard(ctx, requested, idemKey, key)
	if err != nil {
		return MovementResult{}, err
	}
	defer release()

	method, err := s.methods.ValuationMethod(ctx, key.ProductID)
	if err != nil {
		s.forget(ctx, requested, idemKey)
		return MovementResult{}, err
	}

	started := time.Now()
	var (
		result MovementResult
		posted []int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockKey(ctx, key); err != nil {
			return err
		}
		movements, err := tx.ListMovements(ctx, key)
		if err != nil {
			return err
		}
		p := newPosition(key, method, movements)
		if mv.Seq, err = tx.NextSequence(ctx, key); err != nil {
			return err
		}
		idx := p.insert(mv)
		results, err := p.replay(s.options())
		if err != nil {
			return err
		}
		changed := p.apply(results, idx)
		rewritten, err := persist(ctx, tx, p, changed)
		if err != nil {
			return err
		}
		balance, err := s.balances.Refresh(ctx, tx, key, p.movements)
		if err != nil {
			return err
		}
		posted, err = s.restate(ctx, tx, p, results, changed, 0, actorID)
		if err != nil {
			return err
		}
		result = MovementResult{Movement: p.movements[idx], Balance: balance, Rewritten: rewritten}
		return nil
	})
	op := "post_" + string(mv.Kind)
	s.observe(op, method, result.Rewritten, started, err)
	if err != nil {
		s.compensate(ctx, posted, key, mv.Code, actorID)
		s.forget(ctx, requested, idemKey)
		return MovementResult{}, err
	}
	s.logger.Debug("inventory movement posted",
		slog.String("kind", string(mv.Kind)),
		slog.Int64("movement_id", result.Movement.ID),
		slog.Int64("warehouse_id", key.WarehouseID),
		slog.Int64("product_id", key.ProductID),
		slog.Int("rewritten", result.Rewritten),
	)
	s.record(ctx, actorID, fmt.Sprintf("inventory:%s", mv.Kind), "stock_movement", fmt.Sprintf("%d", result.Movement.ID), map[string]any{
		"warehouse_id": key.WarehouseID,
		"product_id":   key.ProductID,
		"qty":          mv.Qty.String(),
		"note":         mv.Note,
	})
	return result, nil
}

// GetBalance returns the snapshot of a position; an unknown key is empty.
func (s *Service) GetBalance(ctx context.Context, key Key) (Balance, error) {
	if !key.Valid() {
		return Balance{}, ErrKeyRequired
	}
	b, err := s.repo.GetBalance(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{
			WarehouseID:   key.WarehouseID,
			ProductID:     key.ProductID,
			Qty:           decimal.Zero,
			Value:         decimal.Zero,
			ValuationRate: decimal.Zero,
		}, nil
	}
	return b, err
}

// GetStockCard lists the movements of a position in ledger order.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	if filter.WarehouseID == 0 || filter.ProductID == 0 {
		return nil, ErrKeyRequired
	}
	return s.repo.GetStockCard(ctx, filter)
}

// GetReconciliation loads a reconciliation document.
func (s *Service) GetReconciliation(ctx context.Context, id int64) (Reconciliation, error) {
	return s.repo.GetReconciliation(ctx, id)
}

// guard registers the idempotency key of a caller-supplied code and takes
// the position lock. The returned release must always be called.
func (s *Service) guard(ctx context.Context, requested, idemKey string, key Key) (func(), error) {
	if requested != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
			return nil, err
		}
	}
	release, err := s.locker.Lock(ctx, shared.StockLockKey(key.WarehouseID, key.ProductID))
	if err != nil {
		s.forget(ctx, requested, idemKey)
		return nil, err
	}
	return release, nil
}

func (s *Service) forget(ctx context.Context, requested, idemKey string) {
	if requested == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(context.WithoutCancel(ctx), idemKey); err != nil {
		s.logger.Warn("inventory idempotency key not released", slog.String("key", idemKey), slog.Any("error", err))
	}
}

// compensate reverses journals posted inside a transaction that then failed.
func (s *Service) compensate(ctx context.Context, journalIDs []int64, key Key, code string, actorID int64) {
	if s.integration == nil {
		return
	}
	for _, journalID := range journalIDs {
		_, err := s.integration.HandleReconciliationCancelled(context.WithoutCancel(ctx), ReconciliationCancelledEvent{
			Code:        code,
			WarehouseID: key.WarehouseID,
			ProductID:   key.ProductID,
			JournalID:   journalID,
			CancelledAt: s.clock(),
			ActorID:     actorID,
		})
		if err != nil {
			s.logger.Error("inventory reconciliation journal left unreversed",
				slog.Int64("journal_id", journalID),
				slog.String("code", code),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Service) observe(op string, method valuation.Method, rewritten int, started time.Time, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveRepost(op, method, rewritten, time.Since(started), err)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("inventory audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
