package coupon

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// Record is the interchange form of a coupon used by the seed and import
// tools.
type Record struct {
	ID             string              `json:"id,omitempty"`
	Code           string              `json:"code"`
	Type           DiscountType        `json:"type"`
	Value          decimal.Decimal     `json:"value"`
	MaxDiscount    decimal.NullDecimal `json:"maxDiscount"`
	MinOrderAmount decimal.Decimal     `json:"minOrderAmount"`
	Scope          string              `json:"scope,omitempty"`
	ValidFrom      time.Time           `json:"validFrom"`
	ValidTo        time.Time           `json:"validTo"`
	UsageCap       *int                `json:"usageCap,omitempty"`
	Active         *bool               `json:"active,omitempty"`
	Users          []string            `json:"users,omitempty"`
}

// Definition validates r and converts it. A missing id is derived from the
// code so re-imports are idempotent.
func (r Record) Definition() (Definition, error) {
	code := strings.TrimSpace(r.Code)
	if code == "" {
		return Definition{}, validation.Errorf("code", "is required")
	}
	switch r.Type {
	case DiscountPercentage:
		if r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return Definition{}, validation.Errorf("value", "percentage above 100")
		}
	case DiscountFixed:
	default:
		return Definition{}, validation.Errorf("type", "unknown discount type %q", r.Type)
	}
	if !r.Value.IsPositive() {
		return Definition{}, validation.Errorf("value", "must be positive")
	}
	if r.MinOrderAmount.IsNegative() {
		return Definition{}, validation.Errorf("minOrderAmount", "must not be negative")
	}
	if r.MaxDiscount.Valid && !r.MaxDiscount.Decimal.IsPositive() {
		return Definition{}, validation.Errorf("maxDiscount", "must be positive")
	}
	if !r.ValidFrom.Before(r.ValidTo) {
		return Definition{}, validation.Errorf("validTo", "must be after validFrom")
	}
	if r.UsageCap != nil && *r.UsageCap < 0 {
		return Definition{}, validation.Errorf("usageCap", "must not be negative")
	}

	d := Definition{
		ID:             r.ID,
		Code:           code,
		Type:           r.Type,
		Value:          r.Value,
		MaxDiscount:    r.MaxDiscount,
		MinOrderAmount: r.MinOrderAmount,
		Scope:          r.Scope,
		ValidFrom:      r.ValidFrom.UTC(),
		ValidTo:        r.ValidTo.UTC(),
		UsageCap:       r.UsageCap,
		Active:         r.Active == nil || *r.Active,
		Audience:       AudienceAll,
	}
	if d.ID == "" {
		d.ID = "cpn_" + strings.ToLower(code)
	}
	if d.Scope == "" {
		d.Scope = ScopeAll
	}
	if len(r.Users) > 0 {
		d.Audience = AudienceSpecific
		d.AllowedUsers = slices.Clone(r.Users)
		slices.Sort(d.AllowedUsers)
		d.AllowedUsers = slices.Compact(d.AllowedUsers)
	}
	return d, nil
}

// SameTerms reports whether a and b grant the same discount to the same
// audience. Ids and usage counters are ignored.
func SameTerms(a, b *Definition) bool {
	capEqual := (a.UsageCap == nil) == (b.UsageCap == nil) &&
		(a.UsageCap == nil || *a.UsageCap == *b.UsageCap)
	maxEqual := a.MaxDiscount.Valid == b.MaxDiscount.Valid &&
		(!a.MaxDiscount.Valid || a.MaxDiscount.Decimal.Equal(b.MaxDiscount.Decimal))

	return strings.EqualFold(a.Code, b.Code) &&
		a.Type == b.Type &&
		a.Value.Equal(b.Value) &&
		maxEqual &&
		a.MinOrderAmount.Equal(b.MinOrderAmount) &&
		a.Scope == b.Scope &&
		a.ValidFrom.Equal(b.ValidFrom) &&
		a.ValidTo.Equal(b.ValidTo) &&
		capEqual &&
		a.Active == b.Active &&
		a.Audience == b.Audience &&
		slices.Equal(a.AllowedUsers, b.AllowedUsers)
}
