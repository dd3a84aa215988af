// Package coupon implements coupon eligibility, discount computation and
// usage recording.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType represents how a coupon discount is calculated.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a flat amount off, never more than the order amount.
	DiscountFixed DiscountType = "fixed"
)

// Audience restricts who may redeem a coupon.
type Audience string

const (
	AudienceAll      Audience = "all"
	AudienceSpecific Audience = "specific"
)

// ScopeAll applies a coupon to every category. Any other scope value names
// a product category.
const ScopeAll = "all"

// Sentinel reasons. They are wrapped in *Error so callers can recover the
// code as well as the reason.
var (
	ErrNotFound        = errors.New("invalid coupon code")
	ErrInactive        = errors.New("coupon is not active")
	ErrNotStarted      = errors.New("coupon is not yet valid")
	ErrExpired         = errors.New("coupon expired")
	ErrUsageCapReached = errors.New("coupon usage limit reached")
	ErrMinOrderNotMet  = errors.New("minimum order amount not met")
	ErrAudience        = errors.New("coupon is not available for this account")
	ErrNotApplicable   = errors.New("coupon does not apply to items in the cart")
)

// Error is an ineligibility verdict for a specific code.
type Error struct {
	Code   string
	Reason error
}

func (e *Error) Error() string { return e.Reason.Error() }

func (e *Error) Unwrap() error { return e.Reason }

func reject(code string, reason error) error {
	return &Error{Code: code, Reason: reason}
}

// Definition is a coupon as stored in the registry.
type Definition struct {
	ID             string
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	MaxDiscount    decimal.NullDecimal
	MinOrderAmount decimal.Decimal
	Scope          string
	ValidFrom      time.Time
	ValidTo        time.Time
	// UsageCap is nil for unlimited coupons.
	UsageCap     *int
	UsageCount   int
	Active       bool
	Audience     Audience
	AllowedUsers []string
}

// Allows reports whether userID belongs to the coupon audience.
func (d *Definition) Allows(userID string) bool {
	if d.Audience != AudienceSpecific {
		return true
	}
	for _, u := range d.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Usage is one redemption of a coupon by an order.
type Usage struct {
	CouponID    string
	UserID      string
	OrderNumber string
	Discount    decimal.Decimal
	UsedAt      time.Time
}

// Repository provides read access to coupon definitions.
type Repository interface {
	// FindByCode returns ErrNotFound for unknown codes.
	FindByCode(ctx context.Context, code string) (*Definition, error)
}
