package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const (
	// TaskInventoryRevaluation replays stock positions and repairs drifted figures.
	TaskInventoryRevaluation = "inventory:revaluation"
)

// InventoryRevaluationPayload scopes a revaluation run. Zero ids mean every
// known position.
type InventoryRevaluationPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	WarehouseID  int64     `json:"warehouse_id,omitempty"`
	ProductID    int64     `json:"product_id,omitempty"`
}

func (p InventoryRevaluationPayload) key() (inventory.Key, bool) {
	key := inventory.Key{WarehouseID: p.WarehouseID, ProductID: p.ProductID}
	return key, p.WarehouseID != 0 || p.ProductID != 0
}

// NewInventoryRevaluationTask constructs an Asynq task for inventory revaluation.
func NewInventoryRevaluationTask(payload InventoryRevaluationPayload) (*asynq.Task, error) {
	return newTask(TaskInventoryRevaluation, QueueMaintenance, payload)
}

// Revaluer is the part of the inventory service the job drives.
type Revaluer interface {
	RebuildAll(ctx context.Context) (inventory.RebuildSummary, error)
	RebuildBalance(ctx context.Context, key inventory.Key) (inventory.Balance, int, error)
}

// InventoryRevaluationJob rebuilds balances from the movement history.
type InventoryRevaluationJob struct {
	Service Revaluer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInventoryRevaluationJob constructs the job handler.
func NewInventoryRevaluationJob(service Revaluer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryRevaluationJob {
	return &InventoryRevaluationJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one revaluation run.
func (j *InventoryRevaluationJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("inventory revaluation: dependencies not configured")
	}
	var payload InventoryRevaluationPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskInventoryRevaluation)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	if key, scoped := payload.key(); scoped {
		if !key.Valid() {
			return errors.Join(inventory.ErrKeyRequired, asynq.SkipRetry)
		}
		_, rewritten, err := j.Service.RebuildBalance(ctx, key)
		if err != nil {
			j.log().Error("revalue position", slog.String("key", key.String()), slog.Any("error", err))
			return err
		}
		drifted := 0
		if rewritten > 0 {
			drifted = 1
		}
		j.Metrics.AddPositions(1, drifted)
		j.log().Info("revalued position", slog.String("key", key.String()), slog.Int("rewritten", rewritten),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	summary, err := j.Service.RebuildAll(ctx)
	j.Metrics.AddPositions(summary.Keys, summary.Drifted)
	if err != nil {
		var rebuildErr *inventory.RebuildError
		if errors.As(err, &rebuildErr) {
			j.log().Error("revaluation stopped", slog.String("key", rebuildErr.Key.String()), slog.Any("error", rebuildErr.Err))
		} else {
			j.log().Error("revaluation stopped", slog.Any("error", err))
		}
		return err
	}
	j.log().Info("revaluation finished",
		slog.Time("scheduled_for", payload.ScheduledFor),
		slog.Int("keys", summary.Keys),
		slog.Int("drifted", summary.Drifted),
		slog.Int("rewritten", summary.Rewritten),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *InventoryRevaluationJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryRevaluation))
	}
	return slog.Default().With(slog.String("job", TaskInventoryRevaluation))
}
