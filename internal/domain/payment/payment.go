// Package payment models the payment record shared by all settlement
// methods and the external gateway and wallet ports.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// Method is the payment discriminator.
type Method string

const (
	MethodCOD     Method = "cod"
	MethodGateway Method = "gateway"
	MethodWallet  Method = "wallet"
)

// ParseMethod validates a client supplied method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCOD, MethodGateway, MethodWallet:
		return m, nil
	default:
		return "", validation.Errorf("paymentMethod", "unsupported payment method %q", s)
	}
}

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusCODConfirmed Status = "cod_confirmed"
	StatusSuccessful   Status = "successful"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCODConfirmed || s == StatusSuccessful || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is a legal transition for m.
func (s Status) CanTransitionTo(m Method, next Status) bool {
	if s != StatusPending {
		return false
	}
	switch next {
	case StatusCODConfirmed:
		return m == MethodCOD
	case StatusSuccessful:
		return m == MethodGateway || m == MethodWallet
	case StatusFailed:
		return true
	default:
		return false
	}
}

// Fulfillment tracks whether a settled payment produced an order.
type Fulfillment string

const (
	FulfillmentNone        Fulfillment = ""
	FulfillmentFulfilled   Fulfillment = "fulfilled"
	FulfillmentUnfulfilled Fulfillment = "unfulfilled"
)

// WalletStep is the OTP flow progress of a wallet payment.
type WalletStep string

const (
	WalletStepNone     WalletStep = ""
	WalletStepOTPSent  WalletStep = "otp_sent"
	WalletStepVerified WalletStep = "otp_verified"
	WalletStepDebiting WalletStep = "debiting"
)

// GatewayDetails holds the redirect gateway references.
type GatewayDetails struct {
	OrderID   string
	PaymentID string
	Signature string
}

// WalletDetails holds the wallet verification fields.
type WalletDetails struct {
	Mobile        string
	Step          WalletStep
	TransactionID string
}

// AppliedCoupon is the coupon accepted at checkout.
type AppliedCoupon struct {
	ID       string          `json:"id"`
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
}

// Checkout is the frozen payload an order is rebuilt from after settlement.
type Checkout struct {
	Snapshot cart.Snapshot  `json:"snapshot"`
	Coupon   *AppliedCoupon `json:"coupon,omitempty"`
	Shipping order.Address  `json:"shipping"`
	Billing  order.Address  `json:"billing"`
	Totals   order.Totals   `json:"totals"`
}

// Payment is one settlement attempt.
type Payment struct {
	ID            string
	UserID        string
	Amount        decimal.Decimal
	Currency      string
	Method        Method
	Status        Status
	Gateway       GatewayDetails
	Wallet        WalletDetails
	Checkout      Checkout
	OrderNumber   string
	Fulfillment   Fulfillment
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves the payment to next or returns a validation error.
func (p *Payment) Transition(next Status) error {
	if !p.Status.CanTransitionTo(p.Method, next) {
		return validation.Errorf("paymentId", "payment %s cannot move from %s to %s", p.ID, p.Status, next)
	}
	p.Status = next
	return nil
}

// ErrNotFound is returned for unknown payments or payments owned by someone
// else.
var ErrNotFound = errors.New("payment not found")

// Repository persists payments outside of settlement transactions.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	ListUnfulfilled(ctx context.Context, limit int) ([]Payment, error)
}

// Store is the transaction-bound payment access. Lock must hold an
// exclusive row lock until the transaction ends.
type Store interface {
	Lock(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
