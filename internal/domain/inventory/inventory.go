// Package inventory implements stock reservation: every requested line is
// checked and decremented under a row lock inside the caller's transaction.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Line is a quantity requested for a variant. Name is used only for error
// messages.
type Line struct {
	catalog.Ref
	Name     string
	Quantity int
}

// Store is the transaction-bound stock access. LockStock must hold an
// exclusive lock on the row until the surrounding transaction ends.
type Store interface {
	LockStock(ctx context.Context, ref catalog.Ref) (int, error)
	DecrementStock(ctx context.Context, ref catalog.Ref, qty int) error
}

// InsufficientStockError reports a line that cannot be fulfilled.
type InsufficientStockError struct {
	Ref       catalog.Ref
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.Ref.ProductID
	}
	switch {
	case e.Available <= 0:
		return fmt.Sprintf("%s is out of stock", name)
	case e.Available == 1:
		return fmt.Sprintf("only 1 unit left of %s", name)
	default:
		return fmt.Sprintf("only %d units left of %s", e.Available, name)
	}
}

// Merge collapses lines for the same variant and returns them in lock order.
func Merge(lines []Line) []Line {
	byRef := make(map[catalog.Ref]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := byRef[l.Ref]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		byRef[l.Ref] = len(merged)
		merged = append(merged, l)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Ref.Less(merged[j].Ref) })
	return merged
}

// Reserve locks, checks and decrements stock for all lines. It stops at the
// first failure; the caller must roll the transaction back so no partial
// decrement survives.
func Reserve(ctx context.Context, s Store, lines []Line) error {
	for _, l := range Merge(lines) {
		if l.Quantity <= 0 {
			return errors.Errorf("invalid quantity %d for %s", l.Quantity, l.Ref)
		}
		available, err := s.LockStock(ctx, l.Ref)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return &InsufficientStockError{Ref: l.Ref, Name: l.Name, Requested: l.Quantity}
			}
			return errors.Wrapf(err, "lock stock %s", l.Ref)
		}
		if available < l.Quantity {
			return &InsufficientStockError{
				Ref:       l.Ref,
				Name:      l.Name,
				Requested: l.Quantity,
				Available: available,
			}
		}
		if err := s.DecrementStock(ctx, l.Ref, l.Quantity); err != nil {
			return errors.Wrapf(err, "decrement stock %s", l.Ref)
		}
	}
	return nil
}
