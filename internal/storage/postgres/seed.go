package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, category) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`

	upsertVariantSQL = `INSERT INTO product_variants (product_id, id, name, price, stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock`

	upsertCouponSQL = `INSERT INTO coupons (id, code, discount_type, value, max_discount,
		min_order_amount, scope, valid_from, valid_to, usage_cap, active, audience)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount, min_order_amount = EXCLUDED.min_order_amount,
			scope = EXCLUDED.scope, valid_from = EXCLUDED.valid_from, valid_to = EXCLUDED.valid_to,
			usage_cap = EXCLUDED.usage_cap, active = EXCLUDED.active, audience = EXCLUDED.audience`

	deleteCouponAudienceSQL = `DELETE FROM coupon_audience WHERE coupon_id = $1`

	insertCouponAudienceSQL = `INSERT INTO coupon_audience (coupon_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	// Coupons skipped by the merge do not exist under the imported id, so
	// their audience is not attached to the older coupon.
	importAudienceSQL = `INSERT INTO coupon_audience (coupon_id, user_id)
		SELECT id, $2 FROM coupons WHERE id = $1
		ON CONFLICT DO NOTHING`

	createCouponImportSQL = `CREATE TEMP TABLE coupon_import (LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeCouponImportSQL = `INSERT INTO coupons SELECT * FROM coupon_import ON CONFLICT DO NOTHING`

	upsertAddressSQL = `INSERT INTO addresses (id, user_id, name, phone, line1, line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name, phone = EXCLUDED.phone,
			line1 = EXCLUDED.line1, line2 = EXCLUDED.line2, city = EXCLUDED.city,
			state = EXCLUDED.state, postal_code = EXCLUDED.postal_code, country = EXCLUDED.country`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, user_id, role, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash, user_id = EXCLUDED.user_id, role = EXCLUDED.role, active = TRUE`
)

var couponImportColumns = []string{
	"id", "code", "discount_type", "value", "max_discount", "min_order_amount",
	"scope", "valid_from", "valid_to", "usage_cap", "usage_count", "active", "audience",
}

// Product is a catalog entry with its sellable variants, as loaded by the
// seed tool.
type Product struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category"`
	Variants []Variant `json:"variants"`
}

// Variant is one sellable unit of a Product.
type Variant struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Seeder writes reference data: catalog, coupons, addresses and API keys.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertProduct writes p and its variants in one transaction.
func (s *Seeder) UpsertProduct(ctx context.Context, p Product) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category); err != nil {
			return err
		}
		for _, v := range p.Variants {
			if _, err := tx.Exec(ctx, upsertVariantSQL, p.ID, v.ID, v.Name, v.Price, v.Stock); err != nil {
				return fmt.Errorf("variant %s: %w", v.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting product %s: %w", p.ID, err)
	}
	return nil
}

// UpsertCoupon writes d and replaces its audience. The usage counter of an
// existing coupon is left alone.
func (s *Seeder) UpsertCoupon(ctx context.Context, d coupon.Definition) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertCouponSQL,
			d.ID, d.Code, string(d.Type), d.Value, d.MaxDiscount,
			d.MinOrderAmount, d.Scope, d.ValidFrom, d.ValidTo, d.UsageCap, d.Active, string(d.Audience),
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteCouponAudienceSQL, d.ID); err != nil {
			return err
		}
		for _, u := range d.AllowedUsers {
			if _, err := tx.Exec(ctx, insertCouponAudienceSQL, d.ID, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting coupon %s: %w", d.Code, err)
	}
	return nil
}

// ImportCoupons bulk loads defs through COPY. Codes that already exist are
// skipped. It returns the number of coupons inserted.
func (s *Seeder) ImportCoupons(ctx context.Context, defs []coupon.Definition) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createCouponImportSQL); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"coupon_import"}, couponImportColumns,
			pgx.CopyFromSlice(len(defs), func(i int) ([]any, error) {
				d := defs[i]
				return []any{
					d.ID, d.Code, string(d.Type), d.Value, d.MaxDiscount, d.MinOrderAmount,
					d.Scope, d.ValidFrom, d.ValidTo, d.UsageCap, 0, d.Active, string(d.Audience),
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		tag, err := tx.Exec(ctx, mergeCouponImportSQL)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		inserted = tag.RowsAffected()

		batch := &pgx.Batch{}
		for _, d := range defs {
			for _, u := range d.AllowedUsers {
				batch.Queue(importAudienceSQL, d.ID, u)
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("importing coupons: %w", err)
	}
	return inserted, nil
}

// UpsertAddress stores a for userID under id.
func (s *Seeder) UpsertAddress(ctx context.Context, userID, id string, a order.Address) error {
	_, err := s.pool.Exec(ctx, upsertAddressSQL,
		id, userID, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country)
	if err != nil {
		return fmt.Errorf("upserting address %s: %w", id, err)
	}
	return nil
}

// UpsertAPIKey stores an active key for the identity. Only the hash is
// written.
func (s *Seeder) UpsertAPIKey(ctx context.Context, id auth.Identity) error {
	_, err := s.pool.Exec(ctx, upsertAPIKeySQL, id.KeyID, id.KeyHash, id.UserID, string(id.Role))
	if err != nil {
		return fmt.Errorf("upserting api key %s: %w", id.KeyID, err)
	}
	return nil
}
