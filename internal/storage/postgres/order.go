package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	nextOrderSequenceSQL = `SELECT nextval('order_number_seq')`

	createOrderSQL = `INSERT INTO orders (id, order_number, user_id, payment_id, payment_method,
		status, payment_status, subtotal, tax, shipping_charge, discount, coupon_discount, total,
		coupon_id, coupon_code, shipping_address, billing_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		NULLIF($14, ''), NULLIF($15, ''), $16, $17, $18)`

	getOrderByNumberSQL = `SELECT id, order_number, user_id, payment_id, payment_method,
		status, payment_status, subtotal, tax, shipping_charge, discount, coupon_discount, total,
		COALESCE(coupon_id, ''), COALESCE(coupon_code, ''), shipping_address, billing_address, created_at
		FROM orders WHERE order_number = $1`

	getOrderItemsSQL = `SELECT product_id, variant_id, name, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY position`

	uniqueViolation       = "23505"
	orderNumberConstraint = "orders_order_number_key"
)

var orderItemColumns = []string{
	"order_id", "position", "product_id", "variant_id", "name", "quantity", "unit_price", "line_total",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByNumber returns the order with its items.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByNumberSQL, number)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}

	rows, err = r.pool.Query(ctx, getOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", number, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", number, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		status, payStatus string
		shipping, billing []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.PaymentID, &o.PaymentMethod,
		&status, &payStatus, &o.Subtotal, &o.Tax, &o.ShippingCharge, &o.Discount, &o.CouponDiscount, &o.Total,
		&o.CouponID, &o.CouponCode, &shipping, &billing, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling billing address: %w", err)
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ProductID, &it.VariantID, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal)
	return it, err
}

var _ order.Store = orderStore{}

type orderStore struct {
	tx pgx.Tx
}

func (s orderStore) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.tx.QueryRow(ctx, nextOrderSequenceSQL).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return seq, nil
}

// Insert writes the order and its items under a savepoint so a number
// collision leaves the outer transaction usable.
func (s orderStore) Insert(ctx context.Context, o *order.Order) error {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshaling billing address: %w", err)
	}

	err = pgx.BeginFunc(ctx, s.tx, func(sp pgx.Tx) error {
		if _, err := sp.Exec(ctx, createOrderSQL,
			o.ID, o.Number, o.UserID, o.PaymentID, o.PaymentMethod,
			string(o.Status), string(o.PaymentStatus),
			o.Subtotal, o.Tax, o.ShippingCharge, o.Discount, o.CouponDiscount, o.Total,
			o.CouponID, o.CouponCode, shipping, billing, o.CreatedAt,
		); err != nil {
			return err
		}

		rows := make([][]any, len(o.Items))
		for i, it := range o.Items {
			rows[i] = []any{o.ID, i, it.ProductID, it.VariantID, it.Name, it.Quantity, it.UnitPrice, it.LineTotal}
		}
		_, err := sp.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == orderNumberConstraint {
			return order.ErrDuplicateNumber
		}
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}
	return nil
}
