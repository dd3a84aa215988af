package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// SnapshotLine is a priced, frozen cart line.
type SnapshotLine struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Ref returns the variant reference of the line.
func (l SnapshotLine) Ref() catalog.Ref {
	return catalog.Ref{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Snapshot is the immutable priced copy of a cart. Orders and payments are
// built only from snapshots, never from the live cart.
type Snapshot struct {
	UserID     string          `json:"userId"`
	Lines      []SnapshotLine  `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Currency   string          `json:"currency"`
	CapturedAt time.Time       `json:"capturedAt"`
}

// Categories lists the distinct categories present in the snapshot.
func (s *Snapshot) Categories() []string {
	seen := make(map[string]struct{}, len(s.Lines))
	var out []string
	for _, l := range s.Lines {
		if _, ok := seen[l.Category]; ok {
			continue
		}
		seen[l.Category] = struct{}{}
		out = append(out, l.Category)
	}
	return out
}

// StockLines converts the snapshot into reservation requests.
func (s *Snapshot) StockLines() []inventory.Line {
	lines := make([]inventory.Line, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = inventory.Line{Ref: l.Ref(), Name: l.Name, Quantity: l.Quantity}
	}
	return lines
}

// TakeSnapshot prices the cart against the catalog. Stock is checked only as
// early feedback; the authoritative check happens under lock at order time.
func TakeSnapshot(ctx context.Context, c *Cart, variants catalog.Reader, currency string, now time.Time) (*Snapshot, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	refs := make([]catalog.Ref, len(c.Lines))
	for i, l := range c.Lines {
		refs[i] = l.Ref
	}
	found, err := variants.GetVariants(ctx, refs)
	if err != nil {
		return nil, errors.Wrap(err, "load variants")
	}
	byRef := make(map[catalog.Ref]catalog.Variant, len(found))
	for _, v := range found {
		byRef[v.Ref] = v
	}

	snap := &Snapshot{
		UserID:     c.UserID,
		Lines:      make([]SnapshotLine, 0, len(c.Lines)),
		Subtotal:   decimal.Zero,
		Currency:   currency,
		CapturedAt: now.UTC(),
	}
	for _, l := range c.Lines {
		v, ok := byRef[l.Ref]
		if !ok {
			return nil, validation.Errorf("lines", "%s: %v", l.Ref, errUnavailable)
		}
		if v.Stock < l.Quantity {
			return nil, &inventory.InsufficientStockError{
				Ref:       l.Ref,
				Name:      v.Name,
				Requested: l.Quantity,
				Available: v.Stock,
			}
		}
		total := v.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		snap.Lines = append(snap.Lines, SnapshotLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      v.Name,
			Category:  v.Category,
			Quantity:  l.Quantity,
			UnitPrice: v.Price,
			LineTotal: total,
		})
		snap.Subtotal = snap.Subtotal.Add(total)
	}
	return snap, nil
}
