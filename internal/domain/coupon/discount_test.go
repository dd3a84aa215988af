package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func maxOf(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(v))
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name   string
		def    Definition
		amount string
		want   string
	}{
		{
			name:   "percentage below cap rounds half up",
			def:    Definition{Type: DiscountPercentage, Value: d("10"), MaxDiscount: maxOf("100")},
			amount: "939.32",
			want:   "93.93",
		},
		{
			name:   "percentage above cap is capped",
			def:    Definition{Type: DiscountPercentage, Value: d("10"), MaxDiscount: maxOf("50")},
			amount: "939.32",
			want:   "50",
		},
		{
			name:   "percentage without cap",
			def:    Definition{Type: DiscountPercentage, Value: d("15")},
			amount: "200",
			want:   "30",
		},
		{
			name:   "half cent rounds up",
			def:    Definition{Type: DiscountPercentage, Value: d("50")},
			amount: "0.05",
			want:   "0.03",
		},
		{
			name:   "fixed below amount",
			def:    Definition{Type: DiscountFixed, Value: d("75")},
			amount: "150",
			want:   "75",
		},
		{
			name:   "fixed never exceeds amount",
			def:    Definition{Type: DiscountFixed, Value: d("500")},
			amount: "179.98",
			want:   "179.98",
		},
		{
			name:   "zero amount",
			def:    Definition{Type: DiscountFixed, Value: d("10")},
			amount: "0",
			want:   "0",
		},
		{
			name:   "unknown type grants nothing",
			def:    Definition{Type: "bogus", Value: d("10")},
			amount: "100",
			want:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(&tt.def, d(tt.amount))
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}
