// Package cart models the mutable working-set cart and the immutable priced
// snapshot taken from it when checkout starts.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/validation"
)

// ErrEmpty is returned when checkout starts from a cart without lines.
var ErrEmpty = &validation.Error{Field: "cart", Message: "cart is empty"}

// Line is one cart entry.
type Line struct {
	catalog.Ref
	Quantity int `json:"quantity"`
}

// Cart belongs to exactly one user.
type Cart struct {
	UserID    string    `json:"userId"`
	Lines     []Line    `json:"lines"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetQuantity replaces the quantity for ref. A zero quantity removes the line.
func (c *Cart) SetQuantity(ref catalog.Ref, qty int) error {
	if qty < 0 {
		return validation.Errorf("quantity", "must not be negative")
	}
	for i, l := range c.Lines {
		if l.Ref != ref {
			continue
		}
		if qty == 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		} else {
			c.Lines[i].Quantity = qty
		}
		return nil
	}
	if qty > 0 {
		c.Lines = append(c.Lines, Line{Ref: ref, Quantity: qty})
	}
	return nil
}

// Store persists carts. Get returns an empty cart for unknown users.
type Store interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID string) error
}

// Validate checks the cart lines before a snapshot is taken.
func (c *Cart) Validate() error {
	if len(c.Lines) == 0 {
		return ErrEmpty
	}
	for _, l := range c.Lines {
		if l.ProductID == "" || l.VariantID == "" {
			return validation.Errorf("lines", "product and variant are required")
		}
		if l.Quantity <= 0 {
			return validation.Errorf("lines", "quantity for %s must be positive", l.Ref)
		}
	}
	return nil
}

var errUnavailable = errors.New("no longer available")
