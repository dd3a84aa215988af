// Package memory is an in-process implementation of every checkout storage
// port. Transactions are serialized and applied atomically on commit, which
// gives the same isolation the row locks give in PostgreSQL.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Store holds all state. Use the accessor methods to get port
// implementations.
type Store struct {
	// txMu serializes transactions, mu guards the maps.
	txMu sync.Mutex
	mu   sync.Mutex

	variants  map[catalog.Ref]catalog.Variant
	coupons   map[string]*coupon.Definition
	usages    map[string]map[string]coupon.Usage
	orders    map[string]*order.Order
	payments  map[string]*payment.Payment
	seq       int64
	addresses map[string]map[string]order.Address
	keys      map[string]auth.Identity
	carts     map[string]*cart.Cart
	sessions  map[string]*checkout.Session
}

// New returns an empty store.
func New() *Store {
	return &Store{
		variants:  make(map[catalog.Ref]catalog.Variant),
		coupons:   make(map[string]*coupon.Definition),
		usages:    make(map[string]map[string]coupon.Usage),
		orders:    make(map[string]*order.Order),
		payments:  make(map[string]*payment.Payment),
		addresses: make(map[string]map[string]order.Address),
		keys:      make(map[string]auth.Identity),
		carts:     make(map[string]*cart.Cart),
		sessions:  make(map[string]*checkout.Session),
	}
}

var _ checkout.Transactor = (*Store)(nil)

// InTx runs fn against a private overlay and merges it into the store when
// fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// AddVariant inserts or replaces a catalog variant.
func (s *Store) AddVariant(v catalog.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.Ref] = v
}

// AddCoupon inserts or replaces a coupon definition.
func (s *Store) AddCoupon(d coupon.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[d.ID] = &d
}

// AddAddress stores an address for userID.
func (s *Store) AddAddress(userID, id string, a order.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addresses[userID] == nil {
		s.addresses[userID] = make(map[string]order.Address)
	}
	s.addresses[userID][id] = a
}

// AddAPIKey registers an identity under its key hash.
func (s *Store) AddAPIKey(id auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id.KeyHash] = id
}

// SetSequence sets the last issued order sequence value.
func (s *Store) SetSequence(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = v
}

// StockOf returns the current stock of ref.
func (s *Store) StockOf(ref catalog.Ref) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variants[ref].Stock
}

// UsageOf returns the usage counter and the number of recorded usages.
func (s *Store) UsageOf(couponID string) (count, recorded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.coupons[couponID]; ok {
		count = d.UsageCount
	}
	return count, len(s.usages[couponID])
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Catalog returns the catalog reader.
func (s *Store) Catalog() CatalogRepo { return CatalogRepo{s: s} }

// Coupons returns the coupon registry.
func (s *Store) Coupons() CouponRepo { return CouponRepo{s: s} }

// Payments returns the payment repository.
func (s *Store) Payments() PaymentRepo { return PaymentRepo{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() OrderRepo { return OrderRepo{s: s} }

// Addresses returns the address book.
func (s *Store) Addresses() AddressBook { return AddressBook{s: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() APIKeyRepo { return APIKeyRepo{s: s} }

// Carts returns the cart store.
func (s *Store) Carts() CartStore { return CartStore{s: s} }

// Sessions returns the checkout session store. Sessions never expire.
func (s *Store) Sessions() SessionStore { return SessionStore{s: s} }
