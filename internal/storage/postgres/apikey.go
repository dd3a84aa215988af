package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository resolves hashed api_key headers to caller identities.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash returns auth.ErrUnauthorized for unknown and revoked keys alike.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.Identity, error) {
	const q = `SELECT id, key_hash, user_id, role FROM api_keys
		WHERE key_hash = $1 AND active`

	var (
		who  auth.Identity
		role string
	)
	switch err := r.pool.QueryRow(ctx, q, hash).Scan(&who.KeyID, &who.KeyHash, &who.UserID, &role); {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, auth.ErrUnauthorized
	case err != nil:
		return nil, errors.Wrap(err, "query api key")
	}
	who.Role = auth.Role(role)
	return &who, nil
}
