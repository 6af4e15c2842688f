package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// TaskGLIntegrity checks that the ledger still balances.
const TaskGLIntegrity = "accounting:integrity"

// ErrLedgerOutOfBalance reports total debits differing from total credits.
var ErrLedgerOutOfBalance = errors.New("jobs: general ledger out of balance")

// TrialBalancer exposes per-account totals.
type TrialBalancer interface {
	TrialBalance(ctx context.Context) ([]journals.AccountBalance, error)
}

// NewGLIntegrityTask constructs the integrity check task.
func NewGLIntegrityTask() (*asynq.Task, error) {
	return newTask(TaskGLIntegrity, QueueMaintenance, struct{}{})
}

// GLIntegrityJob sums the trial balance and fails when it does not net to zero.
type GLIntegrityJob struct {
	Ledger  TrialBalancer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(ledger TrialBalancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle runs the check.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("gl integrity: ledger not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	balances, err := j.Ledger.TrialBalance(ctx)
	if err != nil {
		return err
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, b := range balances {
		debit = debit.Add(b.Debit)
		credit = credit.Add(b.Credit)
	}
	if !debit.Equal(credit) {
		logger.Error("general ledger out of balance",
			slog.String("debit", debit.StringFixed(2)),
			slog.String("credit", credit.StringFixed(2)),
		)
		return fmt.Errorf("%w: debit %s credit %s: %w", ErrLedgerOutOfBalance, debit.StringFixed(2), credit.StringFixed(2), asynq.SkipRetry)
	}
	logger.Info("GL integrity check executed", slog.String("job", TaskGLIntegrity), slog.Int("accounts", len(balances)))
	return nil
}
