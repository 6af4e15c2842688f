package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// ItemSettings resolves the valuation method configured for a product.
type ItemSettings interface {
	ValuationMethod(ctx context.Context, productID int64) (valuation.Method, error)
}

// StaticMethods answers from an in-process table with a fallback.
type StaticMethods struct {
	Default   valuation.Method
	ByProduct map[int64]valuation.Method
}

func (s StaticMethods) ValuationMethod(_ context.Context, productID int64) (valuation.Method, error) {
	if m, ok := s.ByProduct[productID]; ok {
		return m, nil
	}
	if s.Default == "" {
		return valuation.MethodMovingAverage, nil
	}
	return s.Default, nil
}

// ProductMethods reads products.valuation_method, falling back to Default
// for unknown products or a blank column.
type ProductMethods struct {
	pool    *pgxpool.Pool
	Default valuation.Method
}

// NewProductMethods constructs a pgx backed ItemSettings.
func NewProductMethods(pool *pgxpool.Pool, fallback valuation.Method) *ProductMethods {
	return &ProductMethods{pool: pool, Default: fallback}
}

func (p *ProductMethods) ValuationMethod(ctx context.Context, productID int64) (valuation.Method, error) {
	var raw string
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(valuation_method, '') FROM products WHERE id=$1`, productID).Scan(&raw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("inventory: load valuation method: %w", err)
	}
	if raw == "" {
		return StaticMethods{Default: p.Default}.ValuationMethod(ctx, productID)
	}
	return valuation.ParseMethod(raw)
}
