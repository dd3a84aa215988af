package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
)

const (
	getVariantsSQL = `SELECT v.product_id, v.id, p.name, v.name, p.category, v.price, v.stock
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE (v.product_id, v.id) IN (SELECT * FROM unnest($1::text[], $2::text[]))
		ORDER BY v.product_id, v.id`

	lockStockSQL = `SELECT stock FROM product_variants
		WHERE product_id = $1 AND id = $2 FOR UPDATE`

	decrementStockSQL = `UPDATE product_variants SET stock = stock - $3
		WHERE product_id = $1 AND id = $2 AND stock >= $3`
)

var _ catalog.Reader = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Reader backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariants returns the variants matching refs. Unknown refs are skipped.
func (r *CatalogRepository) GetVariants(ctx context.Context, refs []catalog.Ref) ([]catalog.Variant, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	products := make([]string, len(refs))
	variants := make([]string, len(refs))
	for i, ref := range refs {
		products[i] = ref.ProductID
		variants[i] = ref.VariantID
	}

	rows, err := r.pool.Query(ctx, getVariantsSQL, products, variants)
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var (
		v           catalog.Variant
		productName string
		variantName string
	)
	err := row.Scan(&v.ProductID, &v.VariantID, &productName, &variantName, &v.Category, &v.Price, &v.Stock)
	v.Name = productName
	if variantName != "" {
		v.Name = fmt.Sprintf("%s (%s)", productName, variantName)
	}
	return v, err
}

var _ inventory.Store = stockStore{}

type stockStore struct {
	q querier
}

func (s stockStore) LockStock(ctx context.Context, ref catalog.Ref) (int, error) {
	var stock int
	err := s.q.QueryRow(ctx, lockStockSQL, ref.ProductID, ref.VariantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, catalog.ErrNotFound
		}
		return 0, fmt.Errorf("locking stock %s: %w", ref, err)
	}
	return stock, nil
}

func (s stockStore) DecrementStock(ctx context.Context, ref catalog.Ref, qty int) error {
	tag, err := s.q.Exec(ctx, decrementStockSQL, ref.ProductID, ref.VariantID, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock %s: %w", ref, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("decrementing stock %s: insufficient stock", ref)
	}
	return nil
}
