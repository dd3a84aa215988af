// Package redisstore keeps the short-lived checkout state in Redis: the
// working cart and the checkout session with its snapshot.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func sessionKey(userID string) string {
	return fmt.Sprintf("checkout:%s", userID)
}

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store. A zero ttl keeps carts forever.
type CartStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCartStore returns a CartStore that uses client.
func NewCartStore(client redis.Cmdable, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

// Get returns an empty cart when the user has none.
func (s *CartStore) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &cart.Cart{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &c, nil
}

func (s *CartStore) Save(ctx context.Context, c *cart.Cart) error {
	if len(c.Lines) == 0 {
		return s.Clear(ctx, c.UserID)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := s.client.Set(ctx, cartKey(c.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

var _ checkout.SessionStore = (*SessionStore)(nil)

// SessionStore implements checkout.SessionStore. Every save refreshes the
// expiry.
type SessionStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewSessionStore returns a SessionStore whose sessions expire after ttl.
func NewSessionStore(client redis.Cmdable, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// GetSession returns checkout.ErrSessionNotFound for missing or expired
// sessions.
func (s *SessionStore) GetSession(ctx context.Context, userID string) (*checkout.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkout.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var sess checkout.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, sess *checkout.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}
