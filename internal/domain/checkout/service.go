// Package checkout orchestrates the cart-to-order flow: snapshotting the
// cart, applying coupons, creating payments for each settlement method and
// turning confirmed payments into orders.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/notify"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// Tx exposes the repositories bound to one database transaction.
type Tx interface {
	Stock() inventory.Store
	Orders() order.Store
	Coupons() coupon.Ledger
	Payments() payment.Store
}

// Transactor runs fn inside a transaction, committing when fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Session is an in-progress checkout: the frozen snapshot plus the coupon
// the user picked for it.
type Session struct {
	UserID    string                 `json:"userId"`
	Snapshot  cart.Snapshot          `json:"snapshot"`
	Coupon    *payment.AppliedCoupon `json:"coupon,omitempty"`
	StartedAt time.Time              `json:"startedAt"`
	// PaymentID is the last payment placed for this session.
	PaymentID string `json:"paymentId,omitempty"`
}

// ErrSessionNotFound is returned when no checkout was started or it expired.
var ErrSessionNotFound = &validation.Error{Field: "checkout", Message: "no checkout in progress, start checkout again"}

// ErrAddressNotFound is returned by AddressBook for unknown or foreign
// addresses.
var ErrAddressNotFound = errors.New("address not found")

// SessionStore keeps checkout sessions between steps.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, userID string) error
}

// AddressBook resolves a user's saved address.
type AddressBook interface {
	Address(ctx context.Context, userID, addressID string) (order.Address, error)
}

// Config is the non-dependency configuration of the service.
type Config struct {
	Currency string
	Pricing  order.Pricing
}

// Deps are the collaborators of the service.
type Deps struct {
	Carts     cart.Store
	Catalog   catalog.Reader
	Sessions  SessionStore
	Coupons   coupon.Repository
	Addresses AddressBook
	Payments  payment.Repository
	Orders    order.Repository
	Tx        Transactor
	Gateway   payment.Gateway
	Wallet    payment.Wallet
	Notifier  notify.Dispatcher
}

// Service implements the checkout and payment operations.
type Service struct {
	cfg       Config
	deps      Deps
	validator *coupon.Validator
	builder   *order.Builder
	now       func() time.Time
	newID     func() string

	lg      *zap.Logger
	tracer  trace.Tracer
	metrics metrics
}

type metrics struct {
	ordersCreated       metric.Int64Counter
	paymentFailures     metric.Int64Counter
	unfulfilledPayments metric.Int64Counter
}

// NewService wires the checkout service.
func NewService(cfg Config, deps Deps, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Service, error) {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}

	meter := mp.Meter("checkout")
	var (
		m   metrics
		err error
	)
	if m.ordersCreated, err = meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders created from settled payments")); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if m.paymentFailures, err = meter.Int64Counter("checkout.payments.failed",
		metric.WithDescription("Payment verification failures")); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if m.unfulfilledPayments, err = meter.Int64Counter("checkout.payments.unfulfilled",
		metric.WithDescription("Payments settled without an order")); err != nil {
		return nil, errors.Wrap(err, "unfulfilled counter")
	}

	return &Service{
		cfg:       cfg,
		deps:      deps,
		validator: coupon.NewValidator(deps.Coupons),
		builder:   order.NewBuilder(),
		now:       time.Now,
		newID:     uuid.NewString,
		lg:        lg,
		tracer:    tp.Tracer("checkout"),
		metrics:   m,
	}, nil
}

// Preview is the priced state of a checkout session.
type Preview struct {
	Snapshot *cart.Snapshot
	Coupon   *payment.AppliedCoupon
	Totals   order.Totals
}

// Placement is the result of creating a payment.
type Placement struct {
	PaymentID      string
	Method         payment.Method
	Status         payment.Status
	Amount         decimal.Decimal
	Currency       string
	GatewayOrderID string
	GatewayKeyID   string
	Totals         order.Totals
}

// Settlement is the result of a payment step. OrderNumber is set once an
// order exists.
type Settlement struct {
	PaymentID   string
	Status      payment.Status
	Fulfillment payment.Fulfillment
	WalletStep  payment.WalletStep
	OrderNumber string
}

func settlementOf(p *payment.Payment) *Settlement {
	return &Settlement{
		PaymentID:   p.ID,
		Status:      p.Status,
		Fulfillment: p.Fulfillment,
		WalletStep:  p.Wallet.Step,
		OrderNumber: p.OrderNumber,
	}
}

func (s *Service) preview(sess *Session) *Preview {
	discount := decimal.Zero
	if sess.Coupon != nil {
		discount = sess.Coupon.Discount
	}
	return &Preview{
		Snapshot: &sess.Snapshot,
		Coupon:   sess.Coupon,
		Totals:   s.cfg.Pricing.Price(sess.Snapshot.Subtotal, discount),
	}
}
