package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
)

const defaultNumberAttempts = 8

// Request is everything the builder needs to persist an order.
type Request struct {
	UserID        string
	PaymentID     string
	PaymentMethod string
	Status        Status
	PaymentStatus PaymentStatus
	Snapshot      *cart.Snapshot
	Totals        Totals
	CouponID      string
	CouponCode    string
	Shipping      Address
	Billing       Address
}

// Builder reserves stock and persists orders. Both happen in the caller's
// transaction so a failed reservation leaves no order row behind.
type Builder struct {
	now      func() time.Time
	newID    func() string
	attempts int
}

// NewBuilder creates a Builder using wall-clock time and random UUIDs.
func NewBuilder() *Builder {
	return &Builder{now: time.Now, newID: uuid.NewString, attempts: defaultNumberAttempts}
}

// FormatNumber renders a date-prefixed order number.
func FormatNumber(t time.Time, seq int64) string {
	return fmt.Sprintf("ORD%s-%06d", t.UTC().Format("20060102"), seq)
}

// Build reserves stock for the snapshot and inserts the order with a fresh
// number, retrying on number collisions.
func (b *Builder) Build(ctx context.Context, stock inventory.Store, orders Store, req Request) (*Order, error) {
	if req.Snapshot == nil || len(req.Snapshot.Lines) == 0 {
		return nil, errors.New("order requires a non-empty snapshot")
	}

	if err := inventory.Reserve(ctx, stock, req.Snapshot.StockLines()); err != nil {
		return nil, err
	}

	now := b.now().UTC()
	o := &Order{
		ID:              b.newID(),
		UserID:          req.UserID,
		PaymentID:       req.PaymentID,
		PaymentMethod:   req.PaymentMethod,
		Status:          req.Status,
		PaymentStatus:   req.PaymentStatus,
		Totals:          req.Totals,
		CouponID:        req.CouponID,
		CouponCode:      req.CouponCode,
		ShippingAddress: req.Shipping,
		BillingAddress:  req.Billing,
		Items:           make([]Item, len(req.Snapshot.Lines)),
		CreatedAt:       now,
	}
	for i, l := range req.Snapshot.Lines {
		o.Items[i] = Item{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		}
	}

	for attempt := 1; ; attempt++ {
		seq, err := orders.NextSequence(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "next order sequence")
		}
		o.Number = FormatNumber(now, seq)

		err = orders.Insert(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) || attempt >= b.attempts {
			return nil, errors.Wrapf(err, "insert order %s", o.Number)
		}
	}
}
