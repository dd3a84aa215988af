// Package order builds durable orders from cart snapshots.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfillment status of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus is the money side of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateNumber signals an order number collision. The builder
	// retries with a fresh number.
	ErrDuplicateNumber = errors.New("order number already taken")
)

// Address is a copy of a user address taken when the order is created.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Item is an immutable order line.
type Item struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Order is a placed order.
type Order struct {
	ID            string
	Number        string
	UserID        string
	PaymentID     string
	PaymentMethod string
	Status        Status
	PaymentStatus PaymentStatus
	Totals
	CouponID        string
	CouponCode      string
	ShippingAddress Address
	BillingAddress  Address
	Items           []Item
	CreatedAt       time.Time
}

// Store is the transaction-bound order persistence used by the builder.
type Store interface {
	NextSequence(ctx context.Context) (int64, error)
	// Insert returns ErrDuplicateNumber when Number is already used and
	// leaves the transaction usable.
	Insert(ctx context.Context, o *Order) error
}

// Repository provides order lookups.
type Repository interface {
	GetByNumber(ctx context.Context, number string) (*Order, error)
}
