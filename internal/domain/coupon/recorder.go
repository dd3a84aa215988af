package coupon

import (
	"context"

	"github.com/go-faster/errors"
)

// Counter is the locked view of a coupon's redemptions. Pending counts
// orders that carry the coupon but whose usage is not recorded yet.
type Counter struct {
	Cap     *int
	Used    int
	Pending int
}

// Ledger is the transaction-bound usage store. Lock must hold an exclusive
// row lock on the coupon until the transaction ends.
type Ledger interface {
	Lock(ctx context.Context, couponID string) (Counter, error)
	HasUsage(ctx context.Context, couponID, orderNumber string) (bool, error)
	InsertUsage(ctx context.Context, u Usage) error
	IncrementUsage(ctx context.Context, couponID string) error
}

// Admit is called inside the order transaction before the order row is
// written. It serializes concurrent orders on the coupon row and rejects
// the order when the cap would be exceeded by already admitted orders.
func Admit(ctx context.Context, l Ledger, d *Definition) error {
	c, err := l.Lock(ctx, d.ID)
	if err != nil {
		return errors.Wrap(err, "lock coupon")
	}
	if c.Cap != nil && c.Used+c.Pending >= *c.Cap {
		return reject(d.Code, ErrUsageCapReached)
	}
	return nil
}

// RecordUsage stores one usage of a coupon by an order and bumps the counter.
// It runs in its own transaction after the order has committed. Recording
// the same order twice is a no-op.
func RecordUsage(ctx context.Context, l Ledger, u Usage) (bool, error) {
	c, err := l.Lock(ctx, u.CouponID)
	if err != nil {
		return false, errors.Wrap(err, "lock coupon")
	}

	dup, err := l.HasUsage(ctx, u.CouponID, u.OrderNumber)
	if err != nil {
		return false, errors.Wrap(err, "check usage")
	}
	if dup {
		return false, nil
	}

	if c.Cap != nil && c.Used >= *c.Cap {
		return false, ErrUsageCapReached
	}

	if err := l.InsertUsage(ctx, u); err != nil {
		return false, errors.Wrap(err, "insert usage")
	}
	if err := l.IncrementUsage(ctx, u.CouponID); err != nil {
		return false, errors.Wrap(err, "increment usage")
	}
	return true, nil
}
