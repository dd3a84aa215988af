package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler hashes presented keys with HMAC-SHA256 under pepper
// before looking them up.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate resolves a raw API key to an identity. The stored hash is
// compared in constant time against the computed one.
func (s *SecurityHandler) Authenticate(r *http.Request) (auth.Identity, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return auth.Identity{}, auth.ErrUnauthorized
	}

	hash, _ := hex.DecodeString(hexHash)
	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	if info.UserID == "" {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return *info, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// identity in the request context.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers without the admin role with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).IsAdmin() {
			writeError(w, r, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
