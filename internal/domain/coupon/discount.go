package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Compute returns the discount d grants on amount, rounded once to currency
// precision. The result never exceeds amount.
func Compute(d *Definition, amount decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch d.Type {
	case DiscountPercentage:
		discount = amount.Mul(d.Value).Div(hundred)
		if d.MaxDiscount.Valid && discount.GreaterThan(d.MaxDiscount.Decimal) {
			discount = d.MaxDiscount.Decimal
		}
	case DiscountFixed:
		discount = decimal.Min(d.Value, amount)
	default:
		return decimal.Zero
	}

	discount = discount.Round(2)
	if discount.GreaterThan(amount) {
		return amount
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}
