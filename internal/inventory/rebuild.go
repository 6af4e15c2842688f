package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// RebuildSummary reports a full revaluation run.
type RebuildSummary struct {
	Keys      int `json:"keys"`
	Rewritten int `json:"rewritten"`
	Drifted   int `json:"drifted"`
}

// RebuildBalance replays a position from its first movement, rewrites every
// derived field that drifted and refreshes the snapshot.
func (s *Service) RebuildBalance(ctx context.Context, key Key) (Balance, int, error) {
	if !key.Valid() {
		return Balance{}, 0, ErrKeyRequired
	}
	release, err := s.locker.Lock(ctx, shared.StockLockKey(key.WarehouseID, key.ProductID))
	if err != nil {
		return Balance{}, 0, err
	}
	defer release()

	method, err := s.methods.ValuationMethod(ctx, key.ProductID)
	if err != nil {
		return Balance{}, 0, err
	}

	started := time.Now()
	var (
		balance   Balance
		rewritten int
		posted    []int64
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
		if err := valuation.Verify(p.steps(), p.stored()); err != nil {
			s.logger.Warn("inventory stored valuation drifted",
				slog.String("key", key.String()),
				slog.Any("error", err),
			)
		}
		results, err := p.replay(s.options())
		if err != nil {
			return err
		}
		changed := p.apply(results, 0)
		if rewritten, err = persist(ctx, tx, p, changed); err != nil {
			return err
		}
		if balance, err = s.balances.Refresh(ctx, tx, key, p.movements); err != nil {
			return err
		}
		posted, err = s.restate(ctx, tx, p, results, p.reconciliationRows(), 0, 0)
		return err
	})
	s.observe("rebuild", method, rewritten, started, err)
	if err != nil {
		s.compensate(ctx, posted, key, "rebuild", 0)
		return Balance{}, 0, err
	}
	return balance, rewritten, nil
}

// RebuildAll rebuilds every known position with bounded concurrency. Each
// position runs in its own transaction; the first failure stops the rest.
func (s *Service) RebuildAll(ctx context.Context) (RebuildSummary, error) {
	keys, err := s.repo.ListKeys(ctx)
	if err != nil {
		return RebuildSummary{}, err
	}
	var rewritten, drifted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			_, n, err := s.RebuildBalance(gctx, key)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				return &RebuildError{Key: key, Err: err}
			}
			rewritten.Add(int64(n))
			if n > 0 {
				drifted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	summary := RebuildSummary{Keys: len(keys), Rewritten: int(rewritten.Load()), Drifted: int(drifted.Load())}
	if err != nil {
		return summary, err
	}
	s.logger.Info("inventory revaluation finished",
		slog.Int("keys", summary.Keys),
		slog.Int("drifted", summary.Drifted),
		slog.Int("rewritten", summary.Rewritten),
	)
	s.record(ctx, 0, "inventory:revaluation", "stock_balance", "all", map[string]any{
		"keys":      summary.Keys,
		"rewritten": summary.Rewritten,
	})
	return summary, nil
}

// RebuildError names the position a rebuild failed on.
type RebuildError struct {
	Key Key
	Err error
}

func (e *RebuildError) Error() string {
	return "inventory: rebuild " + e.Key.String() + ": " + e.Err.Error()
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}
