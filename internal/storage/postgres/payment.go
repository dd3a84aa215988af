package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const (
	paymentColumns = `id, user_id, amount, currency, method, status,
		gateway_order_id, gateway_payment_id, gateway_signature,
		wallet_mobile, wallet_step, wallet_txn_id,
		checkout, order_number, fulfillment, failure_reason, created_at, updated_at`

	createPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	lockPaymentSQL = getPaymentSQL + ` FOR UPDATE`

	listUnfulfilledSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE fulfillment = 'unfulfilled' ORDER BY created_at LIMIT $1`

	updatePaymentSQL = `UPDATE payments SET status = $2,
		gateway_payment_id = $3, gateway_signature = $4,
		wallet_mobile = $5, wallet_step = $6, wallet_txn_id = $7,
		order_number = $8, fulfillment = $9, failure_reason = $10, updated_at = $11
		WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new payment. The checkout payload is stored as JSONB.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	co, err := json.Marshal(p.Checkout)
	if err != nil {
		return fmt.Errorf("marshaling checkout: %w", err)
	}
	_, err = r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.UserID, p.Amount, p.Currency, string(p.Method), string(p.Status),
		p.Gateway.OrderID, p.Gateway.PaymentID, p.Gateway.Signature,
		p.Wallet.Mobile, string(p.Wallet.Step), p.Wallet.TransactionID,
		co, p.OrderNumber, string(p.Fulfillment), p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// Get returns a payment by id.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return getPayment(ctx, r.pool, getPaymentSQL, id)
}

// ListUnfulfilled returns settled payments without an order, oldest first.
func (r *PaymentRepository) ListUnfulfilled(ctx context.Context, limit int) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, listUnfulfilledSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unfulfilled payments: %w", err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

var _ payment.Store = paymentStore{}

type paymentStore struct {
	q querier
}

func (s paymentStore) Lock(ctx context.Context, id string) (*payment.Payment, error) {
	return getPayment(ctx, s.q, lockPaymentSQL, id)
}

func (s paymentStore) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := s.q.Exec(ctx, updatePaymentSQL,
		p.ID, string(p.Status),
		p.Gateway.PaymentID, p.Gateway.Signature,
		p.Wallet.Mobile, string(p.Wallet.Step), p.Wallet.TransactionID,
		p.OrderNumber, string(p.Fulfillment), p.FailureReason, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func getPayment(ctx context.Context, q querier, sql, id string) (*payment.Payment, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p                          payment.Payment
		method, status, step, fill string
		co                         []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Amount, &p.Currency, &method, &status,
		&p.Gateway.OrderID, &p.Gateway.PaymentID, &p.Gateway.Signature,
		&p.Wallet.Mobile, &step, &p.Wallet.TransactionID,
		&co, &p.OrderNumber, &fill, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Method = payment.Method(method)
	p.Status = payment.Status(status)
	p.Wallet.Step = payment.WalletStep(step)
	p.Fulfillment = payment.Fulfillment(fill)
	if err := json.Unmarshal(co, &p.Checkout); err != nil {
		return p, fmt.Errorf("unmarshaling checkout: %w", err)
	}
	return p, nil
}
