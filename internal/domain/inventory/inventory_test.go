package inventory

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

type fakeStore struct {
	stock  map[catalog.Ref]int
	locked []catalog.Ref
}

func (f *fakeStore) LockStock(_ context.Context, ref catalog.Ref) (int, error) {
	n, ok := f.stock[ref]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	f.locked = append(f.locked, ref)
	return n, nil
}

func (f *fakeStore) DecrementStock(_ context.Context, ref catalog.Ref, qty int) error {
	f.stock[ref] -= qty
	return nil
}

var (
	shirtM = catalog.Ref{ProductID: "shirt", VariantID: "m"}
	shirtL = catalog.Ref{ProductID: "shirt", VariantID: "l"}
	cap1   = catalog.Ref{ProductID: "cap", VariantID: "one"}
)

func TestReserve(t *testing.T) {
	tests := []struct {
		name      string
		stock     map[catalog.Ref]int
		lines     []Line
		wantStock map[catalog.Ref]int
		wantErr   *InsufficientStockError
	}{
		{
			name:      "decrements every line",
			stock:     map[catalog.Ref]int{shirtM: 5, cap1: 2},
			lines:     []Line{{Ref: shirtM, Quantity: 2}, {Ref: cap1, Quantity: 2}},
			wantStock: map[catalog.Ref]int{shirtM: 3, cap1: 0},
		},
		{
			name:      "merges duplicate lines before checking",
			stock:     map[catalog.Ref]int{shirtM: 3},
			lines:     []Line{{Ref: shirtM, Name: "Shirt", Quantity: 2}, {Ref: shirtM, Name: "Shirt", Quantity: 2}},
			wantStock: map[catalog.Ref]int{shirtM: 3},
			wantErr:   &InsufficientStockError{Ref: shirtM, Name: "Shirt", Requested: 4, Available: 3},
		},
		{
			name:      "unknown variant reports zero available",
			stock:     map[catalog.Ref]int{},
			lines:     []Line{{Ref: shirtL, Name: "Shirt L", Quantity: 1}},
			wantStock: map[catalog.Ref]int{},
			wantErr:   &InsufficientStockError{Ref: shirtL, Name: "Shirt L", Requested: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStore{stock: tt.stock}
			err := Reserve(context.Background(), s, tt.lines)
			if tt.wantErr != nil {
				var stockErr *InsufficientStockError
				require.True(t, errors.As(err, &stockErr))
				assert.Equal(t, tt.wantErr, stockErr)
			} else {
				require.NoError(t, err)
			}
			for ref, want := range tt.wantStock {
				if tt.wantErr == nil {
					assert.Equal(t, want, s.stock[ref], ref.String())
				}
			}
		})
	}
}

func TestReserve_LocksInStableOrder(t *testing.T) {
	s := &fakeStore{stock: map[catalog.Ref]int{shirtM: 1, shirtL: 1, cap1: 1}}
	err := Reserve(context.Background(), s, []Line{
		{Ref: shirtM, Quantity: 1},
		{Ref: cap1, Quantity: 1},
		{Ref: shirtL, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Ref{cap1, shirtL, shirtM}, s.locked)
}

func TestInsufficientStockError_Message(t *testing.T) {
	assert.Equal(t, "only 2 units left of Linen Shirt",
		(&InsufficientStockError{Name: "Linen Shirt", Requested: 3, Available: 2}).Error())
	assert.Equal(t, "only 1 unit left of Cap",
		(&InsufficientStockError{Name: "Cap", Requested: 2, Available: 1}).Error())
	assert.Equal(t, "Cap is out of stock",
		(&InsufficientStockError{Name: "Cap", Requested: 1}).Error())
}
