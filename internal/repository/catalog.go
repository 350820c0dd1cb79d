package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendly/promo-engine/internal/domain/cart"
)

const lookupScopeSQL = `SELECT id, category_id, vendor_id
	FROM products WHERE id = ANY($1)`

var _ cart.CatalogProvider = (*CatalogRepository)(nil)

// CatalogRepository serves scope attributes from the product snapshot table.
// Unknown product ids are simply absent from the result; the engine treats
// them as lines without category or vendor.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository using the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// LookupScope batch-resolves category and vendor ids for the given products.
func (r *CatalogRepository) LookupScope(ctx context.Context, productIDs []string) (map[string]cart.ProductScope, error) {
	scopes := make(map[string]cart.ProductScope, len(productIDs))
	if len(productIDs) == 0 {
		return scopes, nil
	}

	rows, err := r.pool.Query(ctx, lookupScopeSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("querying product scopes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var s cart.ProductScope
		if err := rows.Scan(&id, &s.CategoryID, &s.VendorID); err != nil {
			return nil, fmt.Errorf("scanning product scope: %w", err)
		}
		scopes[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading product scopes: %w", err)
	}
	return scopes, nil
}
