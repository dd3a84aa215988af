package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Request carries what eligibility depends on. Categories lists the product
// categories present in the order and is only consulted for scoped coupons.
type Request struct {
	Code        string
	UserID      string
	OrderAmount decimal.Decimal
	Categories  []string
}

// Result is a successful validation.
type Result struct {
	Coupon   *Definition
	Discount decimal.Decimal
}

// Validator checks coupon eligibility. It never mutates usage counters.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by repo.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate looks up the code and runs the eligibility checks in order,
// stopping at the first failure. Ineligibility is reported as *Error.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, reject(req.Code, ErrNotFound)
	}

	def, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(code, ErrNotFound)
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := Check(def, req.UserID, req.OrderAmount, req.Categories, v.now()); err != nil {
		return nil, err
	}

	return &Result{Coupon: def, Discount: Compute(def, req.OrderAmount)}, nil
}

// Apply validates the code and returns only the discount amount.
func (v *Validator) Apply(ctx context.Context, req Request) (decimal.Decimal, error) {
	res, err := v.Validate(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Discount, nil
}

// Check runs the eligibility rules against a loaded definition.
func Check(d *Definition, userID string, amount decimal.Decimal, categories []string, now time.Time) error {
	switch {
	case !d.Active:
		return reject(d.Code, ErrInactive)
	case now.Before(d.ValidFrom):
		return reject(d.Code, ErrNotStarted)
	case !now.Before(d.ValidTo):
		return reject(d.Code, ErrExpired)
	case d.UsageCap != nil && d.UsageCount >= *d.UsageCap:
		return reject(d.Code, ErrUsageCapReached)
	case amount.LessThan(d.MinOrderAmount):
		return reject(d.Code, ErrMinOrderNotMet)
	case !d.Allows(userID):
		return reject(d.Code, ErrAudience)
	case !inScope(d.Scope, categories):
		return reject(d.Code, ErrNotApplicable)
	}
	return nil
}

func inScope(scope string, categories []string) bool {
	if scope == "" || scope == ScopeAll {
		return true
	}
	for _, c := range categories {
		if strings.EqualFold(c, scope) {
			return true
		}
	}
	return false
}
