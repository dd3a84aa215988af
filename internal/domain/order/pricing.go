package order

import "github.com/shopspring/decimal"

// Pricing is the externally supplied tax and shipping policy.
type Pricing struct {
	TaxRate decimal.Decimal
	// ShippingCharge applies unless the subtotal reaches FreeShippingOver.
	// A zero threshold disables free shipping.
	ShippingCharge   decimal.Decimal
	FreeShippingOver decimal.Decimal
	// DiscountRate is a store-wide promotional rate applied to the subtotal.
	DiscountRate decimal.Decimal
}

// Totals are the money figures of an order.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	ShippingCharge decimal.Decimal `json:"shippingCharge"`
	Discount       decimal.Decimal `json:"discount"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	Total          decimal.Decimal `json:"total"`
}

// Price computes totals for subtotal with an optional coupon discount.
// The total is floored at zero.
func (p Pricing) Price(subtotal, couponDiscount decimal.Decimal) Totals {
	t := Totals{
		Subtotal:       subtotal.Round(2),
		Tax:            subtotal.Mul(p.TaxRate).Round(2),
		ShippingCharge: p.ShippingCharge.Round(2),
		Discount:       subtotal.Mul(p.DiscountRate).Round(2),
		CouponDiscount: couponDiscount.Round(2),
	}
	if p.FreeShippingOver.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingOver) {
		t.ShippingCharge = decimal.Zero
	}

	t.Total = t.Subtotal.
		Add(t.Tax).
		Add(t.ShippingCharge).
		Sub(t.Discount).
		Sub(t.CouponDiscount)
	if t.Total.IsNegative() {
		t.Total = decimal.Zero
	}
	return t
}
