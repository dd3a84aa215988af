// Package catalog describes the product/variant rows consumed by checkout.
// The catalog itself is owned elsewhere; this service only reads prices and
// mutates stock.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a product variant does not exist.
var ErrNotFound = errors.New("product variant not found")

// Ref identifies a sellable unit.
type Ref struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
}

func (r Ref) String() string {
	return r.ProductID + "/" + r.VariantID
}

// Less orders refs by product then variant. Row locks are taken in this
// order.
func (r Ref) Less(o Ref) bool {
	if r.ProductID != o.ProductID {
		return r.ProductID < o.ProductID
	}
	return r.VariantID < o.VariantID
}

// Variant is a priced product variant with its current stock level.
type Variant struct {
	Ref
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
}

// Reader provides read access to variants. Missing refs are simply absent
// from the result.
type Reader interface {
	GetVariants(ctx context.Context, refs []Ref) ([]Variant, error)
}
