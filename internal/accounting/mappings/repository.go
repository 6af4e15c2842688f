package mappings

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/accounting/shared"
)

type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, errors.New("accounting: module and key required")
	}
	normalized := strings.ToUpper(module)
	var mapping AccountMapping
	err := r.db.QueryRow(ctx, `SELECT module, key, account_id, created_at, updated_at FROM account_mappings WHERE module=$1 AND key=$2`, normalized, key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, shared.ErrMappingNotFound
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

// MemoryRepository serves mappings configured in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	mappings map[string]AccountMapping
}

func NewMemoryRepository(seed ...AccountMapping) *MemoryRepository {
	r := &MemoryRepository{mappings: make(map[string]AccountMapping)}
	for _, m := range seed {
		r.Set(m.Module, m.Key, m.AccountID)
	}
	return r
}

// Set registers or replaces the account behind module/key.
func (r *MemoryRepository) Set(module, key string, accountID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	module = strings.ToUpper(module)
	r.mappings[module+"|"+key] = AccountMapping{Module: module, Key: key, AccountID: accountID}
}

func (r *MemoryRepository) Get(_ context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, errors.New("accounting: module and key required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	mapping, ok := r.mappings[strings.ToUpper(module)+"|"+key]
	if !ok {
		return AccountMapping{}, shared.ErrMappingNotFound
	}
	return mapping, nil
}
