package app

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/accounting/mappings"
	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/integration"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Default accounts seeded into the in-process mapping store.
const (
	memoryStockAccount      int64 = 1400
	memoryAdjustmentAccount int64 = 5100
)

// Container holds the services shared by the HTTP server and the worker.
type Container struct {
	Inventory *inventory.Service
	Journals  *journals.Service
	Hooks     *integration.Hooks
	Audit     inventory.AuditPort
}

// ContainerDeps are the process-wide resources the services are built on.
// Pool is required for the postgres driver; Redis is optional and enables the
// cross-process position lock.
type ContainerDeps struct {
	Config  *Config
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewContainer wires repositories for the configured storage driver.
func NewContainer(deps ContainerDeps) (*Container, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		invRepo     inventory.RepositoryPort
		journalRepo journals.Repository
		periodRepo  integration.PeriodRepository
		mappingRepo integration.AccountMappingRepository
		idempotency shared.IdempotencyGuard
		audit       inventory.AuditPort
		settings    inventory.ItemSettings
	)
	method := cfg.ValuationMethod()

	switch cfg.StorageDriver {
	case StoragePostgres:
		if deps.Pool == nil {
			return nil, errors.New("app: postgres pool required")
		}
		periodsRepo := periods.NewRepository(deps.Pool)
		invRepo = inventory.NewRepository(deps.Pool)
		journalRepo = journals.NewRepository(deps.Pool)
		periodRepo = periods.NewService(periodsRepo)
		mappingRepo = mappings.NewRepository(deps.Pool)
		idempotency = shared.NewIdempotencyStore(deps.Pool)
		audit = shared.NewAuditLogger(deps.Pool)
		settings = inventory.NewProductMethods(deps.Pool, method)
	default:
		now := time.Now().UTC()
		calendar := periods.NewMemoryRepository(periods.MonthlyCalendar(
			time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(now.Year()+1, time.December, 31, 0, 0, 0, 0, time.UTC),
		)...)
		accounts := mappings.NewMemoryRepository()
		accounts.Set("INVENTORY", integration.KeyStock, memoryStockAccount)
		accounts.Set("INVENTORY", integration.KeyAdjustment, memoryAdjustmentAccount)
		invRepo = inventory.NewMemoryRepository()
		journalRepo = journals.NewMemoryRepository(calendar)
		periodRepo = calendar
		mappingRepo = accounts
		idempotency = shared.NewMemoryIdempotencyStore()
		audit = shared.NewMemoryAuditLog()
		settings = inventory.StaticMethods{Default: method}
	}

	ledger := journals.NewService(journalRepo, audit)
	hooks := integration.NewHooks(ledger, periodRepo, mappingRepo, integration.HooksConfig{Enabled: cfg.AccountingEnabled})

	locker := shared.KeyLocker(shared.NewLocalLocker())
	if deps.Redis != nil {
		locker = shared.ChainLocker{locker, shared.NewRedisLocker(deps.Redis, cfg.LockTTL).WithLogger(logger)}
	}

	svc := inventory.NewService(invRepo, audit, idempotency, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		DefaultMethod:      method,
		RebuildConcurrency: cfg.RebuildConcurrency,
	}, hooks).
		WithLocker(locker).
		WithItemSettings(settings).
		WithLogger(logger.With(slog.String("component", "inventory")))
	if deps.Metrics != nil {
		svc.WithObserver(deps.Metrics)
	}

	logger.Info("services wired",
		slog.String("storage", cfg.StorageDriver),
		slog.String("default_method", method.String()),
		slog.Bool("accounting", cfg.AccountingEnabled),
		slog.Bool("distributed_lock", deps.Redis != nil),
	)
	return &Container{Inventory: svc, Journals: ledger, Hooks: hooks, Audit: audit}, nil
}
