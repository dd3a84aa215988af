package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const getAddressSQL = `SELECT name, phone, line1, line2, city, state, postal_code, country
	FROM addresses WHERE id = $1 AND user_id = $2`

var _ checkout.AddressBook = (*AddressRepository)(nil)

// AddressRepository resolves saved user addresses.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// Address returns the address only when it belongs to userID.
func (r *AddressRepository) Address(ctx context.Context, userID, id string) (order.Address, error) {
	var a order.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, id, userID).Scan(
		&a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Address{}, checkout.ErrAddressNotFound
		}
		return order.Address{}, fmt.Errorf("getting address %q: %w", id, err)
	}
	return a, nil
}
