package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT c.id, c.code, c.discount_type, c.value, c.max_discount,
		c.min_order_amount, c.scope, c.valid_from, c.valid_to, c.usage_cap, c.usage_count,
		c.active, c.audience,
		ARRAY(SELECT a.user_id FROM coupon_audience a WHERE a.coupon_id = c.id ORDER BY a.user_id)
		FROM coupons c WHERE UPPER(c.code) = UPPER($1)`

	lockCouponSQL = `SELECT usage_cap, usage_count FROM coupons WHERE id = $1 FOR UPDATE`

	// Orders carrying the coupon whose usage has not been recorded yet.
	pendingCouponOrdersSQL = `SELECT count(*) FROM orders o
		WHERE o.coupon_id = $1 AND o.status <> 'cancelled'
		AND NOT EXISTS (
			SELECT 1 FROM coupon_usages u
			WHERE u.coupon_id = o.coupon_id AND u.order_number = o.order_number
		)`

	hasCouponUsageSQL = `SELECT EXISTS (
		SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND order_number = $2)`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (coupon_id, order_number, user_id, discount, used_at)
		VALUES ($1, $2, $3, $4, $5)`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository stores coupons, their audiences and redemptions.
type CouponRepository struct {
	pool *pgxpool.Pool
}

func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), active or
// not. Returns coupon.ErrNotFound when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Definition, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	def, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &def, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Definition, error) {
	var (
		d            coupon.Definition
		discountType string
		audience     string
	)
	err := row.Scan(
		&d.ID, &d.Code, &discountType, &d.Value, &d.MaxDiscount,
		&d.MinOrderAmount, &d.Scope, &d.ValidFrom, &d.ValidTo, &d.UsageCap, &d.UsageCount,
		&d.Active, &audience, &d.AllowedUsers,
	)
	d.Type = coupon.DiscountType(discountType)
	d.Audience = coupon.Audience(audience)
	return d, err
}

var _ coupon.Ledger = couponLedger{}

type couponLedger struct {
	q querier
}

func (l couponLedger) Lock(ctx context.Context, couponID string) (coupon.Counter, error) {
	var c coupon.Counter
	err := l.q.QueryRow(ctx, lockCouponSQL, couponID).Scan(&c.Cap, &c.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Counter{}, coupon.ErrNotFound
		}
		return coupon.Counter{}, errors.Wrapf(err, "locking coupon %q", couponID)
	}
	if err := l.q.QueryRow(ctx, pendingCouponOrdersSQL, couponID).Scan(&c.Pending); err != nil {
		return coupon.Counter{}, errors.Wrapf(err, "counting pending orders for coupon %q", couponID)
	}
	return c, nil
}

func (l couponLedger) HasUsage(ctx context.Context, couponID, orderNumber string) (bool, error) {
	var ok bool
	if err := l.q.QueryRow(ctx, hasCouponUsageSQL, couponID, orderNumber).Scan(&ok); err != nil {
		return false, errors.Wrapf(err, "checking usage of coupon %q", couponID)
	}
	return ok, nil
}

func (l couponLedger) InsertUsage(ctx context.Context, u coupon.Usage) error {
	_, err := l.q.Exec(ctx, insertCouponUsageSQL, u.CouponID, u.OrderNumber, u.UserID, u.Discount, u.UsedAt)
	if err != nil {
		return errors.Wrapf(err, "inserting usage of coupon %q", u.CouponID)
	}
	return nil
}

func (l couponLedger) IncrementUsage(ctx context.Context, couponID string) error {
	_, err := l.q.Exec(ctx, incrementCouponUsageSQL, couponID)
	if err != nil {
		return errors.Wrapf(err, "incrementing usage of coupon %q", couponID)
	}
	return nil
}
