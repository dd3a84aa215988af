package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

var _ checkout.Transactor = (*Transactor)(nil)

// Transactor runs checkout units of work in database transactions.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that uses the given pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, scope{tx: tx})
	})
}

type scope struct {
	tx pgx.Tx
}

func (s scope) Stock() inventory.Store  { return stockStore{q: s.tx} }
func (s scope) Orders() order.Store     { return orderStore{tx: s.tx} }
func (s scope) Coupons() coupon.Ledger  { return couponLedger{q: s.tx} }
func (s scope) Payments() payment.Store { return paymentStore{q: s.tx} }
